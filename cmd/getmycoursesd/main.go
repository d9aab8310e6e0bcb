package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"

	"github.com/shatgupt/getmycourses/internal/app"
	"github.com/shatgupt/getmycourses/internal/chrono"
	"github.com/shatgupt/getmycourses/internal/service"
	"github.com/shatgupt/getmycourses/internal/telemetry"
	"github.com/shatgupt/getmycourses/lib/configutil"
	"github.com/shatgupt/getmycourses/lib/serviceutil"
)

func runDepartment(ctx context.Context, a *app.App, department string) {
	result, err := a.Runner.Run(ctx, department, "")
	if err != nil {
		// the runner already reported the cause
		slog.Warn("run failed", "department", department, "run_id", result.RunId, "err", err.Error())
		return
	}
	slog.Info(
		"run finished",
		"department", department,
		"run_id", result.RunId,
		"classes", result.Fresh.Len(),
		"changes", len(result.Changes),
	)
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	configPath := flag.String("config", "config.json5", "The config file to read, a <name>.local.<ext> next to it overrides it.")
	initialScrape := flag.Bool("scrape", false, "Trigger scraping of every department immediately on run.")
	flag.Parse()

	initSlog(*verbose)
	ctx := serviceutil.SignalContext()

	cfg, err := configutil.ReadConfig[app.Config](*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	tel := telemetry.NewSlogAPI(nil)
	InitTelemetry(ctx, cfg.Telemetry, tel)

	a, err := app.New(ctx, cfg, app.Options{}, tel)
	if err != nil {
		serviceutil.Fatal("init app", err)
	}
	defer a.Close()

	location, err := chrono.ParseLocation(cfg.Timezone)
	if err != nil {
		serviceutil.Fatal("load timezone", err)
	}
	cron := chrono.NewStandardCron(location, tel)
	for _, department := range cfg.Departments {
		department := department
		err := cron.Cron(cfg.Schedule, func() {
			runDepartment(ctx, a, department)
		})
		if err != nil {
			serviceutil.Fatal("schedule department", err)
		}
	}
	slog.Info("scheduled departments", "departments", cfg.Departments, "schedule", cfg.Schedule)

	if *initialScrape {
		slog.Info("scraping every department on start")
		for _, department := range cfg.Departments {
			go runDepartment(ctx, a, department)
		}
	}

	mux := http.NewServeMux()
	service.NewService(a.Runner, a.Scraper, tel).Register(mux)
	serviceutil.StartHttpServer(ctx, cfg.HttpPort, mux)

	<-cron.Stop().Done()
}
