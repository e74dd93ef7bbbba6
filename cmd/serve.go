package cmd

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/facegate/internal/auth"
	"github.com/example/facegate/internal/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for browser clients. It exposes /register to enroll a
single image, /recognize to identify the face in an image, /gallery and /health.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), startupTimeout)
	a, err := newApp(ctx, cfg, logger)
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, err := a.provider.Current(cmd.Context()); err != nil {
		logger.Warn("initial gallery load failed", zap.Error(err))
	}

	router := handlers.NewRouter(cfg.Server, logger)
	h := handlers.New(a.enrollment, a.recognition, a.repo, logger)
	handlers.RegisterRoutes(router, h, auth.EnrollmentGuard(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	logger.Info("facegate API listening", zap.String("addr", cfg.Server.Addr))
	return serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)
}
