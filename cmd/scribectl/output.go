package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// printOutput renders a server response in the requested format.
func printOutput(format string, data []byte) error {
	if format == "json" {
		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			// not JSON, print as-is
			fmt.Println(string(data))
			return nil
		}
		fmt.Println(out.String())
		return nil
	}
	fmt.Println(string(data))
	return nil
}

// exitError writes a formatted error to stderr and exits.
func exitError(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+msg+"\n", args...)
	os.Exit(1)
}
