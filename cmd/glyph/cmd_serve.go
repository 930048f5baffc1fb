package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/glyphtools/glyph/pkg/logging"
	"github.com/glyphtools/glyph/pkg/runtime"
)

func newServeCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Mount the compiled artifact set and serve messages",
		Long: `Mounts the compiled artifact set and evaluates messages against it.
With --listen (or runtime.listen in glyph.toml) messages arrive as JSON
frames over a websocket at /ws; otherwise one message is read per stdin
line and one reply written per stdout line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSetup(cmd)
			if err != nil {
				return err
			}
			man, err := s.loadManifest()
			if err != nil {
				return err
			}

			log := logging.Component(s.logger, "runtime")
			svc := runtime.NewService(runtime.Options{
				Workers:     s.cfg.Runtime.Workers,
				EvalTimeout: s.cfg.EvalTimeout(),
				StepBudget:  s.cfg.Runtime.StepBudget,
				Commutative: s.cfg.CanonOptions(),
				Logger:      log,
			})
			err = svc.Mount(runtime.ArtifactSet{
				Store:    s.store,
				Manifest: man,
				Prefix:   s.cfg.Store.Prefix,
				Target:   s.cfg.Runtime.Target,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if listen == "" {
				listen = s.cfg.Runtime.Listen
			}
			if listen == "" {
				return svc.Serve(ctx, runtime.NewLineSource(cmd.InOrStdin()), runtime.NewLineSink(cmd.OutOrStdout()))
			}
			return serveWebsocket(ctx, svc, log, listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "websocket listen address, e.g. :8080")
	return cmd
}

// serveWebsocket runs the service behind a websocket gateway at /ws, with
// Prometheus counters exposed at /metrics.
func serveWebsocket(ctx context.Context, svc *runtime.Service, log *slog.Logger, listen string) error {
	gw := runtime.NewWSGateway(log)
	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{Addr: listen, Handler: mux}
	httpErr := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErr <- err
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- svc.Serve(ctx, gw, gw) }()

	var err error
	serveDone := false
	select {
	case <-ctx.Done():
	case err = <-httpErr:
	case err = <-serveErr:
		serveDone = true
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(shutCtx); serr != nil && err == nil {
		err = fmt.Errorf("shutdown: %w", serr)
	}
	gw.Close()
	svc.Stop()
	if !serveDone {
		if serr := <-serveErr; serr != nil && err == nil {
			err = serr
		}
	}
	return err
}
