package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/imagesource/camera"
	"github.com/example/facegate/internal/usecase"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recognize faces from the camera in real time",
	Long: `Watch reads frames from the configured camera, labels every detected face
with the best matching identity and its score, and shows the result in a window.
Press 'q' in the window or Ctrl+C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	g, err := a.provider.Current(ctx)
	if err != nil {
		return err
	}
	logger.Info("gallery loaded", zap.Int("identities", g.Len()), zap.Int("samples", g.SampleCount()))

	window := camera.NewWindow(cfg.Camera.Window)
	defer window.Close()

	watcher := usecase.NewWatcher(camera.New(cfg.Camera.Device, logger), window, a.recognition, logger)
	watcher.OnStateChange(func(s usecase.State) {
		logger.Debug("watcher state", zap.Stringer("state", s))
	})
	return watcher.Run(ctx)
}
