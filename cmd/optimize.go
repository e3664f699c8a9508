package cmd

import (
	"context"
	"encoding/json"
	"os"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-kb-retrieval/internal/indexopt"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

var optimizeCMD = &cobra.Command{
	Use:   "optimize",
	Short: "optimize",
	Long:  `analyze vector indexes and print recommendations, optionally applying the safe ones`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		table, _ := cmd.Flags().GetString("table")
		apply, _ := cmd.Flags().GetBool("apply")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			log.Logger.Panic("new app", zap.Error(err))
		}
		defer a.Close()

		report, err := a.engine.OptimizeIndexes(ctx, table, indexopt.OptimizeOptions{AutoApply: apply})
		if err != nil {
			log.Logger.Panic("optimize", zap.Error(err))
		}
		for _, r := range report.Applied {
			if r.Err != nil {
				log.Logger.Error("apply recommendation",
					zap.String("table", r.Recommendation.Table),
					zap.String("index", r.Recommendation.Index),
					zap.Error(r.Err))
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			log.Logger.Panic("print report", zap.Error(err))
		}
	},
}

func init() {
	rootCMD.AddCommand(optimizeCMD)
	optimizeCMD.Flags().String("table", "", "table to analyze, defaults to the first configured table")
	optimizeCMD.Flags().Bool("apply", false, "apply zero-downtime recommendations with high confidence")
}
