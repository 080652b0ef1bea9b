package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/jjl4287/sse-jakoblangtry-com-sub001/internal/client"
)

var moveCmd = &cobra.Command{
	Use:     "move <board> <card> <column> <index>",
	GroupID: "board",
	Short:   "Move a card through a running service",
	Long: `Move a card through the optimistic client, the same path an
interactive board takes. The move is applied locally, sent after the move
debounce window, retried on transient failures and reconciled if it is
finally rejected.

Example:
  boardd move roadmap card-1 done 0`,
	Args: cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		index, err := strconv.Atoi(args[3])
		if err != nil {
			fatalf("invalid index %q", args[3])
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		server, _ := cmd.Flags().GetString("server")
		if server == "" {
			server = cfg.Client.ServerURL
		}

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		sc := cfg.Client.SessionConfig()
		sc.BoardID = args[0]
		sc.Transport = client.NewHTTPTransport(server, &http.Client{Timeout: 10 * time.Second})
		sc.Logger = logger
		var (
			mu       sync.Mutex
			failures []client.Failure
		)
		sc.Notifier = client.NotifierFunc(func(f client.Failure) {
			mu.Lock()
			defer mu.Unlock()
			failures = append(failures, f)
		})

		verbose, _ := cmd.Flags().GetBool("verbose")
		sc.OnStatus = func(st client.QueueStatus) {
			if verbose {
				fmt.Println(renderMuted(fmt.Sprintf("queue: %d pending, %d in flight, %d failed", st.Pending, st.Processing, st.Failed)))
			}
		}

		session, err := client.NewSession(ctx, sc)
		if err != nil {
			fatalf("failed to load board %s: %v", args[0], err)
		}
		defer session.Close()

		if err := session.MoveCard(args[1], args[2], index); err != nil {
			fatalf("%v", err)
		}
		if err := session.Flush(ctx); err != nil {
			fatalf("failed to flush: %v", err)
		}
		mu.Lock()
		defer mu.Unlock()
		for _, f := range failures {
			fmt.Println(renderWarn(fmt.Sprintf("%s %s: %v (%s)", f.Op.Type, f.Op.Payload.TargetID(), f.Err, f.Action)))
		}
		if len(failures) > 0 {
			return
		}

		b := session.Board()
		col, ok := b.Column(args[2])
		if !ok {
			fatalf("column %s not on board after move", args[2])
		}
		rows := make([][]string, 0, len(col.Cards))
		for i, c := range col.Cards {
			id := c.ID
			if id == args[1] {
				id = renderAccent(id)
			}
			rows = append(rows, []string{fmt.Sprint(i), id, c.Title})
		}
		fmt.Println(renderTable([]string{"#", "CARD", "TITLE"}, rows))
	},
}

func init() {
	moveCmd.Flags().String("server", "", "Service URL (default: client.server_url)")
	moveCmd.Flags().BoolP("verbose", "v", false, "Print queue status after every transition")
	moveCmd.Flags().Duration("timeout", 30*time.Second, "Time to wait for the move to settle")
	rootCmd.AddCommand(moveCmd)
}
