package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/board"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "board",
	Short:   "Create the database schema, optionally seeding a board",
	Long: `Create the database schema if it does not exist.

With --seed, a board described in YAML is created as well:

  id: roadmap           # optional, generated when empty
  title: Roadmap
  columns:
    - title: Todo
      cards:
        - title: Write docs
          labels: [docs]
    - title: Done`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		fmt.Printf("Schema ready in %s\n", renderMuted(st.Path()))

		seed, _ := cmd.Flags().GetString("seed")
		if seed == "" {
			return
		}
		b, err := readSeed(seed)
		if err != nil {
			fatalf("%v", err)
		}
		created, err := st.CreateBoard(ctx, b)
		if err != nil {
			fatalf("failed to create board: %v", err)
		}
		cards := 0
		for _, col := range created.Columns {
			cards += len(col.Cards)
		}
		fmt.Printf("Created board %s (%d columns, %d cards)\n", renderAccent(created.ID), len(created.Columns), cards)
	},
}

func readSeed(path string) (*board.Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	var b board.Board
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &b, nil
}

func init() {
	initCmd.Flags().String("seed", "", "YAML file describing a board to create")
	rootCmd.AddCommand(initCmd)
}
