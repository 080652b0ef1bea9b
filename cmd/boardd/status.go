package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "board",
	Short:   "List stored boards",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		st, err := openStore(ctx)
		if err != nil {
			fatalf("%v", err)
		}
		defer st.Close()

		boards, err := st.ListBoards(ctx)
		if err != nil {
			fatalf("failed to list boards: %v", err)
		}
		if len(boards) == 0 {
			fmt.Println(renderWarn("No boards. Create one with: boardd init --seed board.yaml"))
			return
		}

		rows := make([][]string, 0, len(boards))
		for _, b := range boards {
			rows = append(rows, []string{
				b.ID,
				b.Title,
				strconv.Itoa(b.Columns),
				strconv.Itoa(b.Cards),
				strconv.FormatInt(b.Version, 10),
				b.Updated,
			})
		}
		fmt.Println(renderAccent(fmt.Sprintf("%d board(s) in %s", len(boards), st.Path())))
		fmt.Println(renderTable([]string{"ID", "TITLE", "COLUMNS", "CARDS", "VERSION", "UPDATED"}, rows))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
