package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/sirdesai22/leadsync/internal/config"
	"github.com/sirdesai22/leadsync/internal/db"
	"github.com/sirdesai22/leadsync/internal/metrics"
	"github.com/sirdesai22/leadsync/internal/notion"
	"github.com/sirdesai22/leadsync/internal/reconcile"
	"github.com/sirdesai22/leadsync/internal/services"
	"github.com/sirdesai22/leadsync/internal/workers"
	"gorm.io/gorm"
)

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

// app is the wiring shared by every command: store, CRM client, sync
// bridge and mission service.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	db       *gorm.DB
	notion   *notion.Client
	bridge   *workers.Bridge
	missions *services.MissionService
}

type appOptions struct {
	search   workers.SearchIndex
	notifier services.CompletionNotifier
}

func loadApp(ctx context.Context, root *RootOptions, errOut io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger(errOut, cfg.LogFormat, root.level(cfg.LogLevel))
	slog.SetDefault(log)

	store, err := db.Connect(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, db: store}, nil
}

// wire builds the sync side. The CRM interfaces stay nil when Notion is
// not configured so the bridge and reconciler see a disabled backend.
func (a *app) wire(o appOptions) error {
	if err := db.Migrate(a.db, a.log); err != nil {
		return err
	}
	metrics.Register()

	var crm workers.CRM
	if a.cfg.Notion.Enabled() {
		a.notion = notion.NewClient(notion.ClientOptions{
			BaseURL: a.cfg.Notion.BaseURL,
			Token:   a.cfg.Notion.Token,
		})
		crm = a.notion
	} else {
		a.log.Warn("NOTION_TOKEN not set, CRM sync disabled")
	}

	a.bridge = workers.NewBridge(a.db, crm, a.log, workers.Options{
		Databases: workers.Databases{
			Leads:         a.cfg.Notion.LeadsDB,
			Missions:      a.cfg.Notion.MissionsDB,
			RaffleEntries: a.cfg.Notion.RaffleDB,
			GalleryItems:  a.cfg.Notion.GalleryDB,
		},
		BatchSize:    a.cfg.Sync.BatchSize,
		RateLimit:    a.cfg.Sync.RateLimit,
		RateWindow:   a.cfg.Sync.RateWindow,
		Timeout:      a.cfg.Sync.Timeout,
		MaxAttempts:  a.cfg.Sync.MaxAttempts,
		PollInterval: a.cfg.Sync.PollInterval,
		Search:       o.search,
	})

	var mopts []services.MissionOption
	if o.notifier != nil {
		mopts = append(mopts, services.WithNotifier(o.notifier))
	}
	a.missions = services.NewMissionService(a.db, a.bridge, a.log, mopts...)
	return nil
}

// reconciler is nil unless Notion is configured.
func (a *app) reconciler() *reconcile.Job {
	if a.notion == nil {
		return nil
	}
	return reconcile.NewJob(a.db, a.notion, a.bridge, a.missions, reconcile.Databases{
		Leads:    a.cfg.Notion.LeadsDB,
		Missions: a.cfg.Notion.MissionsDB,
	}, a.log)
}

func (a *app) close() {
	sqlDB, err := a.db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		a.log.Warn("closing database", "err", err)
	}
}

var errNotionDisabled = errors.New("NOTION_TOKEN is not set")
