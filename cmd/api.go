package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Laisky/laisky-kb-retrieval/internal/mcp"
	"github.com/Laisky/laisky-kb-retrieval/internal/web"
	"github.com/Laisky/laisky-kb-retrieval/library/config"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

var apiCMD = &cobra.Command{
	Use:   "api",
	Short: "api",
	Long:  `serve the knowledge-base HTTP and MCP APIs with the performance monitor running`,
	Args:  gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runAPI(ctx); err != nil {
			log.Logger.Panic("run api", zap.Error(err))
		}
	},
}

func runAPI(ctx context.Context) error {
	a, err := newApp(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	defer a.Close()

	extra := map[string]http.Handler{}
	if config.Bool("settings.mcp.enabled", true) {
		mcpServer, err := mcp.NewServer(a.engine, log.Logger.Named("mcp"))
		if err != nil {
			return errors.Wrap(err, "new mcp server")
		}
		extra[config.String("settings.mcp.path", "/mcp")] = mcpServer.Handler()
	}

	server, err := web.NewServer(a.engine, web.Options{
		AllowedOrigins: config.Strings("settings.web.allowed_origins", nil),
		Extra:          extra,
		Debug:          gconfig.Shared.GetBool("debug"),
		Logger:         log.Logger.Named("web"),
	})
	if err != nil {
		return errors.Wrap(err, "new http server")
	}

	if config.Bool("settings.indexopt.monitor_enabled", true) {
		a.engine.StartMonitoring(ctx, a.indexopt.MonitorInterval)
	}

	g, gctx := errgroup.WithContext(ctx)
	if config.Bool("settings.indexopt.maintenance_enabled", true) {
		g.Go(func() error {
			return a.scheduler.Start(gctx, a.indexopt.MaintenanceInterval)
		})
	}
	g.Go(func() error {
		return web.Run(gctx, gconfig.Shared.GetString("listen"), server)
	})

	return g.Wait()
}

func init() {
	rootCMD.AddCommand(apiCMD)
}
