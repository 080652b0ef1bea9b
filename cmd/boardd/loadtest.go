package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure concurrent card moves against a scratch database",
	Long: `Create a scratch board and run concurrent card moves against it,
then check that every column is still densely ordered and no card was lost
or duplicated.

The scratch database is created in a temporary directory unless --db-dir
is given; the configured database is never touched.

Examples:
  boardd loadtest
  boardd loadtest --movers 16 --moves 200 --columns 6 --cards 50
  boardd loadtest --json`,
	Run: runLoadtest,
}

func init() {
	loadtestCmd.Flags().Int("movers", 8, "Number of concurrent movers")
	loadtestCmd.Flags().Int("moves", 50, "Moves per mover")
	loadtestCmd.Flags().Int("columns", 4, "Columns on the scratch board")
	loadtestCmd.Flags().Int("cards", 25, "Cards per column")
	loadtestCmd.Flags().Uint64("seed", 0, "Random seed (default: current time)")
	loadtestCmd.Flags().String("db-dir", "", "Directory for the scratch database")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadtest(cmd *cobra.Command, args []string) {
	movers, _ := cmd.Flags().GetInt("movers")
	moves, _ := cmd.Flags().GetInt("moves")
	columns, _ := cmd.Flags().GetInt("columns")
	cards, _ := cmd.Flags().GetInt("cards")
	seed, _ := cmd.Flags().GetUint64("seed")
	dir, _ := cmd.Flags().GetString("db-dir")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	if dir == "" {
		tmp, err := os.MkdirTemp("", "boardd-loadtest-")
		if err != nil {
			fatalf("failed to create temp dir: %v", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	ctx := context.Background()
	tb, err := loadtest.CreateTestBoard(ctx, filepath.Join(dir, "loadtest.db"), columns, cards, storeConfig())
	if err != nil {
		fatalf("%v", err)
	}
	defer tb.Close()

	if !jsonOutput {
		fmt.Printf("Running %d movers x %d moves over %d cards (seed %d)\n", movers, moves, tb.TotalCards, seed)
	}
	stats, err := tb.RunConcurrentMoves(ctx, movers, moves, seed)
	if err != nil {
		fatalf("load run failed: %v", err)
	}
	invErr := tb.VerifyInvariants(ctx)

	if jsonOutput {
		out := map[string]any{
			"seed":       seed,
			"moves":      stats.Moves,
			"conflicts":  stats.Conflicts,
			"errors":     stats.Errors,
			"min_ms":     ms(stats.Min),
			"mean_ms":    ms(stats.Mean),
			"p50_ms":     ms(stats.P50),
			"p95_ms":     ms(stats.P95),
			"p99_ms":     ms(stats.P99),
			"max_ms":     ms(stats.Max),
			"invariants": invErr == nil,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fatalf("failed to encode results: %v", err)
		}
	} else {
		stats.Print(os.Stdout)
		if invErr == nil {
			fmt.Println(renderAccent("Ordering invariants hold"))
		}
	}

	if invErr != nil {
		fatalf("ordering invariants violated: %v", invErr)
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
