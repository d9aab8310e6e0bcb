// Package app builds the object graph shared by the daemon and the cli out of a Config.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shatgupt/getmycourses/internal/assert"
	"github.com/shatgupt/getmycourses/internal/notify"
	"github.com/shatgupt/getmycourses/internal/pipeline"
	"github.com/shatgupt/getmycourses/internal/scrapers/classlist"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/internal/telemetry"
	"github.com/shatgupt/getmycourses/lib/restyutil"

	"github.com/spf13/afero"
)

type App struct {
	Config  Config
	Scraper *classlist.Scraper
	Store   *store.Store
	Runner  *pipeline.Runner

	db *sql.DB
}

// Options override parts of the graph, zero values are built from the config.
type Options struct {
	// Fs is the filesystem the local tier lives on.
	Fs        afero.Fs
	Transport notify.Transport
}

func New(ctx context.Context, config Config, opts Options, tel telemetry.API) (*App, error) {
	assert.NotNil(tel)

	err := config.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var dump restyutil.Output
	if config.DumpDir != "" {
		dump, err = restyutil.NewFilesystemOutput(fs, config.DumpDir)
		if err != nil {
			return nil, fmt.Errorf("create dump dir: %w", err)
		}
	}

	scraper, err := classlist.NewScraper(classlist.Options{
		Client: classlist.ClientOptions{
			BaseUrl:           config.BaseUrl,
			Timeout:           config.RequestTimeout(),
			RequestsPerSecond: config.RequestsPerSecond,
			CloudflareBypass:  config.CloudflareBypass,
			Dump:              dump,
		},
		Term:              config.Term,
		EnrichConcurrency: config.EnrichConcurrency,
	}, tel)
	if err != nil {
		return nil, fmt.Errorf("create scraper: %w", err)
	}

	local := store.NewFilesystemBlobs(fs, config.CacheDir)

	var db *sql.DB
	var remote store.Blobs
	if config.Blob.Enabled() {
		db, err = config.Blob.OpenDB()
		if err != nil {
			return nil, fmt.Errorf("open blob database: %w", err)
		}
		blobs, err := store.NewSQLBlobs(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		remote = blobs
	}
	st := store.NewStore(local, remote, tel)

	transport := opts.Transport
	if transport == nil {
		if config.Smtp.Enabled() {
			transport = notify.NewSmtpTransport(config.Smtp, config.Notify.From)
		} else {
			tel.ReportWarning("app.transport", fmt.Errorf("smtp is not configured, notifications will only be logged"))
			transport = notify.NewLogTransport(tel)
		}
	}

	deliverer := notify.NewDeliverer(transport, st, notify.Options{
		Recipients: config.Notify.To,
		ClassUrl:   scraper.ClassUrl,
	}, tel)

	runner := pipeline.NewRunner(
		scraper,
		st,
		deliverer,
		store.NewCache(),
		pipeline.Options{RunTimeout: config.RunTimeout()},
		tel,
	)

	return &App{
		Config:  config,
		Scraper: scraper,
		Store:   st,
		Runner:  runner,
		db:      db,
	}, nil
}

func (a *App) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
