package cmd

import (
	"context"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

var maintenanceCMD = &cobra.Command{
	Use:   "maintenance",
	Short: "maintenance",
	Long:  `run due VACUUM, ANALYZE and REINDEX tasks once and exit`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		tables, _ := cmd.Flags().GetStringSlice("tables")

		ctx := context.Background()
		a, err := newApp(ctx)
		if err != nil {
			log.Logger.Panic("new app", zap.Error(err))
		}
		defer a.Close()

		tasks, err := a.engine.RunMaintenance(ctx, tables...)
		if err != nil {
			log.Logger.Panic("run maintenance", zap.Error(err))
		}
		for _, t := range tasks {
			log.Logger.Info("maintenance task",
				zap.String("table", t.Table),
				zap.String("kind", string(t.Kind)),
				zap.String("status", string(t.Status)),
				zap.Duration("took", t.ActualDuration),
				zap.String("error", t.Error))
		}
		log.Logger.Info("maintenance finished", zap.Int("tasks", len(tasks)))
	},
}

func init() {
	rootCMD.AddCommand(maintenanceCMD)
	maintenanceCMD.Flags().StringSlice("tables", nil, "tables to maintain, defaults to the configured ones")
}
