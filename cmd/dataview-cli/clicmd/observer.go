package clicmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var observerCmd = &cobra.Command{
	Use:   "observer",
	Short: "Inspect the observer runtime",
}

type observerStatusResponse struct {
	Degradation string   `json:"degradation"`
	Leader      string   `json:"leader,omitempty"`
	Healthy     []string `json:"healthy_members"`
}

var observerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show degradation level, leader, and healthy members",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp observerStatusResponse
		if err := newOpsClient(serverAddr).get(cmd.Context(), "/observers/status", &resp); err != nil {
			return err
		}
		fmt.Printf("degradation: %s\n", resp.Degradation)
		if resp.Leader != "" {
			fmt.Printf("leader:      %s\n", resp.Leader)
		} else {
			fmt.Println("leader:      (none)")
		}
		fmt.Printf("healthy:     %s\n", strings.Join(resp.Healthy, ", "))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(observerCmd)
	observerCmd.AddCommand(observerStatusCmd)
}
