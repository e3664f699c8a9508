package cmd

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	gcmd "github.com/Laisky/go-utils/v6/cmd"
	"github.com/Laisky/zap"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Laisky/laisky-kb-retrieval/cmd/tui"
	"github.com/Laisky/laisky-kb-retrieval/library/log"
)

var tuiCMD = &cobra.Command{
	Use:   "tui",
	Short: "Launch the health dashboard",
	Long: `Launch a terminal dashboard showing the engine health check.

The dashboard samples the vector store on every refresh and shows the
composite score, its sub-scores, index statistics and open issues.

Keyboard shortcuts:
  r    Refresh now
  q    Quit`,
	Args: gcmd.NoExtraArgs,
	PreRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if err := initialize(ctx, cmd); err != nil {
			log.Logger.Panic("init", zap.Error(err))
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		interval, _ := cmd.Flags().GetDuration("interval")
		if err := runTUI(context.Background(), interval); err != nil {
			log.Logger.Panic("run tui", zap.Error(err))
		}
	},
}

func init() {
	rootCMD.AddCommand(tuiCMD)
	tuiCMD.Flags().Duration("interval", 5*time.Second, "refresh interval")
}

// runTUI builds the engine and runs the dashboard until the user quits.
func runTUI(ctx context.Context, interval time.Duration) error {
	a, err := newApp(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	defer a.Close()

	p := tea.NewProgram(
		tui.NewModel(a.engine.GetHealthCheck, interval),
		tea.WithAltScreen(),
	)
	_, err = p.Run()
	return errors.WithStack(err)
}
