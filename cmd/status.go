package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/collector-cli/internal/metrics"
	"github.com/sells-group/collector-cli/internal/model"
)

var (
	statusSinceHours int
	statusZipcode    string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recently collected records and run spend",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(context.Background())

		var records []model.PropertyRecord
		var total int64
		if statusZipcode != "" {
			records, total, err = env.Repo.SearchByZipcode(ctx, statusZipcode, 20, 0)
		} else {
			since := time.Now().Add(-time.Duration(statusSinceHours) * time.Hour)
			records, err = env.Repo.GetRecentUpdates(ctx, since, 20)
			total = int64(len(records))
		}
		if err != nil {
			return err
		}

		out := map[string]any{
			"total":   total,
			"records": records,
			"spend":   metrics.Spend().Snapshot(),
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusSinceHours, "since-hours", 24, "look-back window for recent updates")
	statusCmd.Flags().StringVar(&statusZipcode, "zipcode", "", "list records for one zipcode instead")
	rootCmd.AddCommand(statusCmd)
}
