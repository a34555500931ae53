package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vjranagit/perfmon/pkg/provider"
	"github.com/vjranagit/perfmon/pkg/query"
	"github.com/vjranagit/perfmon/pkg/registry"
	"github.com/vjranagit/perfmon/pkg/storage"
)

var (
	querySeries string
	queryStart  string
	queryEnd    string
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Run a series query against the local store",
	Long: "Open the row store directly and print the minute-bucketed result of a\n" +
		"series expression as JSON. The store must not be held by a running server.",
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&querySeries, "series", "", "series expression, e.g. SUM~ABCD-EFGH.1~Interval~totalHits")
	queryCmd.Flags().StringVar(&queryStart, "start", "", "range start (RFC 3339, default end minus one hour)")
	queryCmd.Flags().StringVar(&queryEnd, "end", "", "range end (RFC 3339, default now)")
	queryCmd.MarkFlagRequired("series")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("perfmon query: %w", err)
	}
	logger := setupLogger(cfg.LogLevel)
	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("perfmon query: %w", err)
	}

	var req query.Request
	req.Series = querySeries
	if req.Start, err = parseFlagTime(queryStart); err != nil {
		return fmt.Errorf("perfmon query: --start: %w", err)
	}
	if req.End, err = parseFlagTime(queryEnd); err != nil {
		return fmt.Errorf("perfmon query: --end: %w", err)
	}

	store, err := storage.NewStorage(cfg.ToStorageConfig(), logger)
	if err != nil {
		return fmt.Errorf("perfmon query: open storage: %w", err)
	}
	defer store.Close()

	reg, err := registry.New(registry.Builtin()...)
	if err != nil {
		return fmt.Errorf("perfmon query: registry: %w", err)
	}
	engine := query.NewEngine(
		query.NewResolver(reg, provider.NewStore(store, logger)),
		query.WithLogger(logger),
		query.WithLocation(loc),
	)

	result, err := engine.Query(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("perfmon query: %w", err)
	}

	pretty, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("perfmon query: encode: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(pretty))
	return nil
}

func parseFlagTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}
