package clicmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the query cache",
}

type cacheStatsResponse struct {
	Enabled       bool    `json:"enabled"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hit_rate"`
	TotalCached   int64   `json:"total_cached"`
	Invalidations int64   `json:"invalidations"`
	Size          int64   `json:"size"`
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rate and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp cacheStatsResponse
		if err := newOpsClient(serverAddr).get(cmd.Context(), "/cache/stats", &resp); err != nil {
			return err
		}
		fmt.Printf("hits:          %d\n", resp.Hits)
		fmt.Printf("misses:        %d\n", resp.Misses)
		fmt.Printf("hit rate:      %.2f%%\n", resp.HitRate*100)
		fmt.Printf("entries:       %d\n", resp.Size)
		fmt.Printf("total cached:  %d\n", resp.TotalCached)
		fmt.Printf("invalidations: %d\n", resp.Invalidations)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Evict every cached document",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newOpsClient(serverAddr).post(cmd.Context(), "/cache/clear", nil); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
}
