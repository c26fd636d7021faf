package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/quill/internal/api"
	"github.com/dyluth/quill/internal/grading"
	"github.com/dyluth/quill/internal/participant"
	"github.com/dyluth/quill/internal/printer"
	"github.com/dyluth/quill/internal/telemetry"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session HTTP API",
	Long: `Run the session HTTP API.

Configuration comes from the environment (QUILL_INSTANCE_NAME, REDIS_URL,
QUILL_CONFIG, QUILL_LISTEN_ADDR, QUILL_OTEL_ENDPOINT) and quill.yml.

Endpoints:
  GET  /healthz
  GET  /metrics
  POST /v1/sessions/join
  GET  /v1/sessions/:id
  POST /v1/sessions/:id/promote
  POST /v1/sessions/:id/submissions
  POST /v1/sessions/:id/players/:uid/heartbeat
  POST /v1/sessions/:id/players/:uid/disconnect
  POST /v1/sessions/:id/sweep`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	shutdownTracing, err := telemetry.Setup(ctx, "quill", rt.env.OTelEndpoint)
	if err != nil {
		return printer.Error("failed to set up tracing", err.Error(), []string{"Check QUILL_OTEL_ENDPOINT"})
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	dispatcher, err := newDispatcher(rt)
	if err != nil {
		return printer.ErrorWithContext(
			"failed to connect to grading brokers",
			err.Error(),
			map[string]string{"Topic": rt.config.Grading.Topic},
			[]string{"Check grading.brokers in quill.yml", "Remove the grading section to disable grading hand-off"},
		)
	}
	defer dispatcher.Close()

	engine := participant.NewEngine(rt.store, rt.config.Policy(), dispatcher, rt.settings(), logger)
	server := api.NewServer(engine, logger, api.WithStaleAfter(rt.config.StaleAfter()))
	if err := server.Start(rt.env.ListenAddr); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info().
		Str("event_type", "service_started").
		Str("instance", rt.env.InstanceName).
		Str("addr", rt.env.ListenAddr).
		Bool("grading", rt.config.GradingEnabled()).
		Msg("quill serving")

	<-ctx.Done()

	logger.Info().Str("event_type", "service_stopping").Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newDispatcher(rt *runtime) (grading.Dispatcher, error) {
	if !rt.config.GradingEnabled() {
		return grading.NopDispatcher{}, nil
	}
	return grading.NewKafkaDispatcher(rt.config.Grading.Brokers, rt.config.Grading.Topic, logger)
}
