// Command solsync prints a page of contacts and, with -follow, reprints it
// whenever the backend reports a change. Output is one JSON object per line.
//
// Connection settings come from SOLSYNC_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"solsync"
	"solsync/workspace"
)

type output struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (o *output) emit(kind string, v any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	_ = o.enc.Encode(map[string]any{"type": kind, "data": v})
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "solsync:", err)
		os.Exit(1)
	}
}

func run() error {
	page := flag.Int("page", 1, "page to load")
	perPage := flag.Int("per-page", solsync.DefaultPerPage, "records per page")
	query := flag.String("q", "", "free-text search")
	status := flag.String("status", "", "status filter: pending or processed (admins only)")
	follow := flag.Bool("follow", false, "keep running and reprint on every change")
	metricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on this address")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, cleanup, err := initializeApplication(ctx)
	if err != nil {
		return err
	}
	defer cleanup()
	logger := app.logger
	client := app.client

	if *metricsAddr != "" {
		srv := &http.Server{
			Addr:              *metricsAddr,
			Handler:           promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	if err := authenticate(ctx, client, app.cfg); err != nil {
		return err
	}

	out := &output{enc: json.NewEncoder(os.Stdout)}
	var ws *workspace.Workspace
	ws = workspace.New(client, workspace.Options{
		Admin:   client.Session().IsAdmin(),
		PerPage: *perPage,
		Logger:  logger,
		OnReload: func(e solsync.ChangeEvent) {
			out.emit("change", e)
			printWorkspace(out, ws)
		},
	})
	ws.SetQuery(*query)
	ws.SetFilter(solsync.StatusFilter(*status))
	if err := ws.SetPage(*page); err != nil {
		return err
	}

	ws.Hydrate(ctx)
	if snap := ws.Result(); len(snap.Items) > 0 {
		out.emit("snapshot", snap)
	}
	if err := ws.Load(ctx, false); err != nil {
		return err
	}
	printWorkspace(out, ws)
	if err := ws.PrefetchNext(ctx); err != nil {
		logger.Debug("prefetch failed", zap.Error(err))
	}
	if !*follow {
		return nil
	}

	sub := ws.Watch(ctx)
	defer sub.Stop()
	stopRefresh := ws.AutoRefresh(ctx, workspace.DefaultRefreshInterval)
	defer stopRefresh()
	<-ctx.Done()
	logger.Info("stopping", zap.String("notifier", sub.State().String()))
	return nil
}

// authenticate makes sure the session has a token and a user.
func authenticate(ctx context.Context, client *solsync.Client, cfg solsync.Config) error {
	if client.Session().Token() == "" {
		if cfg.Email == "" {
			return errors.New("set SOLSYNC_TOKEN or SOLSYNC_EMAIL and SOLSYNC_PASSWORD")
		}
		_, err := client.Login(ctx, cfg.Email, cfg.Password)
		return err
	}
	_, err := client.Me(ctx)
	return err
}

func printWorkspace(out *output, ws *workspace.Workspace) {
	out.emit("page", ws.Result())
	out.emit("stats", ws.DisplayCounts())
}
