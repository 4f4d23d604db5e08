// chatlog reports on the chat log written by the feedback server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ashureev/feedback-ai/internal/domain"
	"github.com/ashureev/feedback-ai/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	dbPath string
	asJSON bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "chatlog",
		Short:         "Inspect recorded model calls",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	defaultDB := os.Getenv("DB_PATH")
	if defaultDB == "" {
		defaultDB = "./data/chats.db"
	}
	root.PersistentFlags().StringVar(&opts.dbPath, "db", defaultDB, "path to the chat log database")
	root.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "print JSON instead of a table")

	root.AddCommand(newStatsCmd(opts), newListCmd(opts))
	return root
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request, latency, token and cost totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := store.NewSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			stats, err := repo.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats, opts.asJSON)
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var (
		sessionKey string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded calls, newest first or for one session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			repo, err := store.NewSQLite(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			records, err := listRecords(cmd.Context(), repo, sessionKey, limit)
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), records, opts.asJSON)
		},
	}
	cmd.Flags().StringVar(&sessionKey, "session", "", "only show this session key")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	return cmd
}

func listRecords(ctx context.Context, repo store.Repository, sessionKey string, limit int) ([]*domain.ChatLogRecord, error) {
	if sessionKey == "" {
		return repo.RecentChatLogs(ctx, limit)
	}
	records, err := repo.ListChatLogs(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func printStats(w io.Writer, s *domain.ChatLogStats, asJSON bool) error {
	if asJSON {
		return writeJSON(w, s)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total requests\t%d\n", s.TotalRequests)
	fmt.Fprintf(tw, "Sessions\t%d\n", s.Sessions)
	fmt.Fprintf(tw, "Average latency\t%.3fs\n", s.AverageLatency)
	fmt.Fprintf(tw, "Total tokens\t%d\n", s.TotalTokens)
	fmt.Fprintf(tw, "Average tokens\t%.1f\n", s.AverageTokens)
	fmt.Fprintf(tw, "Total cost\t$%.6f\n", s.TotalCost)
	fmt.Fprintf(tw, "Average cost per request\t$%.6f\n", s.AverageCost)
	return tw.Flush()
}

func printRecords(w io.Writer, records []*domain.ChatLogRecord, asJSON bool) error {
	if asJSON {
		if records == nil {
			records = []*domain.ChatLogRecord{}
		}
		return writeJSON(w, records)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSESSION\tLATENCY\tTOKENS\tCOST\tRESPONSE")
	for _, r := range records {
		cost := "-"
		if r.Cost != nil {
			cost = fmt.Sprintf("$%.6f", *r.Cost)
		}
		fmt.Fprintf(tw, "%s\t%s\t%.2fs\t%d\t%s\t%s\n",
			r.Timestamp.Local().Format(time.DateTime),
			r.SessionKey,
			r.Latency,
			r.TokensUsed,
			cost,
			truncate(r.ModelResponse, 60),
		)
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
