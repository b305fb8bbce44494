package clicmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect the observer job queue",
}

type dlqEntryResponse struct {
	JobID     string    `json:"job_id"`
	EventType string    `json:"event_type"`
	Action    string    `json:"action"`
	Attempt   int       `json:"attempt"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

var jobsDLQCmd = &cobra.Command{
	Use:   "dlq",
	Short: "List dead-lettered jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []dlqEntryResponse
		if err := newOpsClient(serverAddr).get(cmd.Context(), "/jobs/dlq", &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("no dead-lettered jobs")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  action=%s  event=%s  attempt=%d  at=%s\n  reason: %s\n",
				e.JobID, e.Action, e.EventType, e.Attempt, e.At.Format(time.RFC3339), e.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsDLQCmd)
}
