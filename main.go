// main.go
// In main.go we wire everything together: load the configuration, build the
// connection registry and router, mount the websocket relay and the status
// endpoint on one HTTP server, and shut down cleanly on SIGINT/SIGTERM.

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"tutorchat/internal/api"
	"tutorchat/internal/chat"
	"tutorchat/internal/config"
	"tutorchat/internal/logging"
)

func main() {
	conf, err := config.Load(os.Args[1:])
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(conf.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, logger); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, conf *config.Config, logger zerolog.Logger) error {
	manager := chat.NewManager(chat.NewClientManager(), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := manager.Register(reg); err != nil {
		return err
	}

	opts := chat.DefaultOptions()
	opts.SnapshotDelay = conf.SnapshotDelay
	opts.SendBuffer = conf.SendBuffer
	opts.WriteWait = conf.WriteWait
	opts.PongWait = conf.PongWait
	opts.MaxMessageSize = conf.MaxMessageSize
	opts.CheckOrigin = checkOrigin(conf.AllowedOrigins)
	relay := chat.NewHandler(manager, opts)

	srv := &http.Server{
		Addr:    conf.Addr(),
		Handler: api.NewRouter(manager, relay, reg, conf.AllowedOrigins, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("websocket server running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), conf.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return relay.Shutdown(shutdownCtx)
}

// checkOrigin accepts any origin when the list holds "*".
func checkOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
