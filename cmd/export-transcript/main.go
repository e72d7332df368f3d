// Simple tool: render a stitched transcription result in several formats.
// Usage:
//
//	export-transcript -result-file <result.json> [-format text|json|srt|vtt]
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/echoscribe/echoscribe/internal/domain"
)

func main() {
	var resultFile string
	var format string
	flag.Usage = func() {
		exe := filepath.Base(os.Args[0])
		fmt.Fprintf(os.Stderr, "Usage: %s -result-file <result.json> [-format text|json|srt|vtt]\n\n", exe)
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}
	flag.StringVar(&resultFile, "result-file", "", "Path to a stitched result JSON file")
	flag.StringVar(&format, "format", "text", "Output format: json|text|srt|vtt")
	flag.Parse()

	if resultFile == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !validFormat(format) {
		fmt.Fprintln(os.Stderr, "invalid -format:", format)
		flag.Usage()
		os.Exit(2)
	}

	result, err := readResult(resultFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read result:", err)
		os.Exit(1)
	}

	if err := render(os.Stdout, format, result); err != nil {
		fmt.Fprintln(os.Stderr, "render:", err)
		os.Exit(1)
	}
}

func validFormat(f string) bool {
	switch f {
	case "json", "text", "srt", "vtt":
		return true
	default:
		return false
	}
}

func readResult(path string) (*domain.StitchedResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var result domain.StitchedResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return &result, nil
}

func render(w io.Writer, format string, result *domain.StitchedResult) error {
	if format == "json" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	}

	segments := result.DiarizedTranscript
	if len(segments) == 0 {
		// plain transcription without diarization, emit one cue
		segments = []domain.DiarizedSegment{{
			Start: 0,
			End:   result.Duration,
			Text:  result.FullText,
		}}
	}

	for i, seg := range segments {
		var out bytes.Buffer
		switch format {
		case "srt":
			writeSegmentSrt(&out, i, seg)
		case "vtt":
			if i == 0 {
				fmt.Fprintln(w, "WEBVTT")
				fmt.Fprintln(w)
			}
			writeSegmentVtt(&out, seg)
		default:
			writeSegmentText(&out, seg)
		}
		fmt.Fprintln(w, out.String())
	}
	return nil
}

// writeSegmentText writes "[HH:MM:SS.mmm --> HH:MM:SS.mmm] [Speaker] Text".
func writeSegmentText(w io.Writer, s domain.DiarizedSegment) {
	speaker := ""
	if s.Speaker != "" {
		speaker = fmt.Sprintf(" [%s]", s.Speaker)
	}
	fmt.Fprintf(w, "[%s --> %s]%s %s", formatTimestamp(s.Start), formatTimestamp(s.End), speaker, s.Text)
}

func writeSegmentSrt(w io.Writer, index int, s domain.DiarizedSegment) {
	fmt.Fprintf(w, "%d\n", index+1)
	fmt.Fprintf(w, "%s --> %s\n", formatTimestampSrt(s.Start), formatTimestampSrt(s.End))
	fmt.Fprintf(w, "%s\n", cueText(s))
}

func writeSegmentVtt(w io.Writer, s domain.DiarizedSegment) {
	fmt.Fprintf(w, "%s --> %s\n", formatTimestamp(s.Start), formatTimestamp(s.End))
	fmt.Fprintf(w, "%s\n", cueText(s))
}

// cueText prefixes the speaker on subtitle cues when one is attributed.
func cueText(s domain.DiarizedSegment) string {
	if s.Speaker != "" {
		return s.Speaker + ": " + s.Text
	}
	return s.Text
}

// formatTimestamp formats seconds as HH:MM:SS.mmm.
func formatTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// formatTimestampSrt formats seconds as HH:MM:SS,mmm (SRT uses a comma).
func formatTimestampSrt(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}
