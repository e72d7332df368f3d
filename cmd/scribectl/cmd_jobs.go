package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// jobView mirrors the fields of the server's job payload that the CLI
// renders in text mode.
type jobView struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	MediaRef  string `json:"media_ref"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	Progress  struct {
		Completed int `json:"completed"`
		Total     int `json:"total"`
	} `json:"progress"`
}

func newSubmitCmd() *cobra.Command {
	var tier string
	var diarize bool
	var language string

	cmd := &cobra.Command{
		Use:   "submit [media-ref]",
		Short: "Submit an audio file for transcription",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			body := map[string]interface{}{
				"media_ref": args[0],
				"tier":      tier,
				"settings": map[string]interface{}{
					"diarization_enabled": diarize,
					"language":            language,
				},
			}
			resp, err := client.Request("POST", "/api/v1/jobs", body)
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "free", "quota tier: free / pro / enterprise")
	cmd.Flags().BoolVar(&diarize, "diarize", false, "enable speaker diarization")
	cmd.Flags().StringVar(&language, "language", "", "language hint for the recognizer")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var fallback string

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get(jobPath(args[0], fallback))
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
	cmd.Flags().StringVar(&fallback, "fallback", "", "fallback key used when the job id is not known to the server")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List transcription jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/jobs")
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newResultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "result [job-id]",
		Short: "Fetch the stitched transcript of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/api/v1/jobs/" + url.PathEscape(args[0]) + "/result")
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

func newWatchCmd() *cobra.Command {
	var fallback string
	var interval time.Duration
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch [job-id]",
		Short: "Poll a job until it reaches a terminal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			deadline := time.Now().Add(timeout)

			var lastStatus string
			for {
				resp, err := client.Get(jobPath(args[0], fallback))
				if err != nil {
					return err
				}

				var job jobView
				if err := json.Unmarshal(resp, &job); err != nil {
					return fmt.Errorf("decode job payload: %w", err)
				}

				if job.Status != lastStatus {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s (%d/%d chunks)\n",
						job.ID, job.Status, job.Progress.Completed, job.Progress.Total)
					lastStatus = job.Status
				}

				if job.Status == "completed" || job.Status == "failed" {
					return printOutput(cfg.Output, resp)
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("job %s still %s after %s", job.ID, job.Status, timeout)
				}
				time.Sleep(interval)
			}
		},
	}
	cmd.Flags().StringVar(&fallback, "fallback", "", "fallback key used when the job id is not known to the server")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Minute, "give up after this long")
	return cmd
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server and engine health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := LoadConfig(cmd)
			client := NewAPIClient(cfg)
			resp, err := client.Get("/healthz")
			if err != nil {
				return err
			}
			return printOutput(cfg.Output, resp)
		},
	}
}

// jobPath builds the job lookup path, carrying the optional fallback key
// as a query parameter.
func jobPath(id, fallback string) string {
	path := "/api/v1/jobs/" + url.PathEscape(id)
	if fallback != "" {
		path += "?fallback=" + url.QueryEscape(fallback)
	}
	return path
}
