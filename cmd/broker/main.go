// Command broker runs the ScaleSocket WebSocket multiplexing server: it
// parses CLI flags, wires the reactor/metrics/port pool, starts the HTTP
// server, and drives a graceful shutdown on SIGINT/SIGTERM, modeled on
// api/cmd/main.go's listen-then-drain sequence.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scalesocket/scalesocket/internal/config"
	"github.com/scalesocket/scalesocket/internal/httpapi"
	"github.com/scalesocket/scalesocket/internal/logging"
	"github.com/scalesocket/scalesocket/internal/ports"
	"github.com/scalesocket/scalesocket/internal/reactor"
	"github.com/scalesocket/scalesocket/internal/roommetrics"
	"github.com/scalesocket/scalesocket/internal/types"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logging.Initialize(cfg.LogFormat, cfg.Verbosity)
	log := logging.HTTP()

	metrics := roommetrics.New()

	var portMgr *ports.Pool
	if cfg.TCP {
		portMgr, err = ports.New(cfg.TCPStart, cfg.TCPEnd)
		if err != nil {
			logging.Log.Fatal().Err(err).Msg("invalid --tcpports range")
		}
	}

	reactorCfg := reactor.Config{
		Cmd:           cfg.Cmd,
		Args:          cfg.Args,
		Binary:        cfg.Binary,
		TCP:           cfg.TCP,
		AttachDelay:   time.Duration(cfg.DelaySec * float64(time.Second)),
		ClientFraming: cfg.ClientFraming,
		ServerFraming: cfg.ServerFraming,
		JoinMsg:       cfg.JoinMsg,
		LeaveMsg:      cfg.LeaveMsg,
		CacheEnabled:  cfg.CacheEnabled,
		CacheSize:     cfg.CacheSize,
		CachePolicy:   cfg.CachePolicy,
		CachePersist:  cfg.CachePersist,
		PassEnv:       cfg.PassEnv,
		Oneshot:       cfg.Oneshot,
	}

	react := reactor.New(reactorCfg, portMgr, metrics, logging.Reactor())

	reactorCtx, cancelReactor := context.WithCancel(context.Background())
	go react.Run(reactorCtx)

	router := httpapi.New(httpapi.Options{
		MetricsEnabled: cfg.Metrics,
		APIEnabled:     cfg.API,
		StaticDir:      cfg.StaticDir,
	}, react.Events(), metrics, log)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("broker listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-react.Done():
		log.Info().Msg("oneshot room ended, shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}

	react.Events() <- types.Event{Kind: types.EventShutdown}
	cancelReactor()

	select {
	case <-react.Done():
	case <-ctx.Done():
		log.Warn().Msg("timed out waiting for reactor shutdown")
	}

	log.Info().Msg("broker stopped")
}
