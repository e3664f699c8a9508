package cmd

import (
	"context"

	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-kb-retrieval/internal/retrieval"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

var migrateCMD = &cobra.Command{
	Use:   "migrate",
	Short: "migrate",
	Long:  `create the chunk store tables and indexes`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		pool, err := connectPostgres(ctx)
		if err != nil {
			log.Logger.Panic("connect postgres", zap.Error(err))
		}
		defer pool.Close()

		settings := retrieval.LoadSettingsFromConfig()
		if err := retrieval.RunMigrations(ctx, pool, settings); err != nil {
			log.Logger.Panic("migrate", zap.Error(err))
		}
		log.Logger.Info("migrated",
			zap.String("text_search_config", settings.TextSearchConfig),
			zap.Int("dim", settings.EmbeddingDim))
	},
}

func init() {
	rootCMD.AddCommand(migrateCMD)
}
