package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirdesai22/leadsync/internal/elastic"
	"github.com/sirdesai22/leadsync/internal/httpapi"
	"github.com/sirdesai22/leadsync/internal/queue"
	"github.com/sirdesai22/leadsync/internal/services"
	"github.com/sirdesai22/leadsync/internal/workers"
	"github.com/spf13/cobra"
)

const shutdownGrace = 15 * time.Second

func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the sync workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command) error {
	a, err := loadApp(ctx, rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.close()

	var (
		search   workers.SearchIndex
		lookup   httpapi.LeadSearch
		notifier services.CompletionNotifier
	)
	esClient, err := elastic.Connect(a.cfg.ElasticURL, nil, a.log)
	if err != nil {
		return err
	}
	if esClient != nil {
		if err := elastic.EnsureIndexes(ctx, esClient); err != nil {
			return err
		}
		ix := elastic.NewIndexer(esClient, a.log)
		search, lookup = ix, ix
	}

	if a.cfg.AMQPURL != "" {
		mq, err := queue.NewRabbitMQ(a.cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer func() {
			if err := mq.Close(); err != nil {
				a.log.Warn("closing rabbitmq", "err", err)
			}
		}()
		notifier = queue.NewProducer(mq.Ch)
		a.log.Info("publishing mission completions", "exchange", queue.ExchangeName)
	}

	if err := a.wire(appOptions{search: search, notifier: notifier}); err != nil {
		return err
	}

	go a.bridge.Run(ctx)
	if a.cfg.Sync.DLQRetryInterval > 0 {
		go a.bridge.RetryDLQ(ctx, a.cfg.Sync.DLQRetryInterval)
	}

	deps := httpapi.Deps{
		DB:          a.db,
		Identity:    services.NewIdentityResolver(a.db, a.bridge, a.log),
		Leads:       services.NewLeadService(a.db, a.bridge, a.log),
		Missions:    a.missions,
		DLQ:         a.bridge,
		Search:      lookup,
		AdminToken:  a.cfg.AdminToken,
		CORSOrigins: a.cfg.CORSOrigins,
		Log:         a.log,
	}
	if job := a.reconciler(); job != nil {
		deps.Reconciler = job
	}
	if a.cfg.AdminToken == "" {
		a.log.Warn("ADMIN_TOKEN not set, admin routes are open")
	}

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
