package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shatgupt/getmycourses/internal/telemetry"
	"github.com/shatgupt/getmycourses/lib/serviceutil"

	"github.com/lmittmann/tint"
)

func initSlog(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)
}

func InitTelemetry(ctx context.Context, config telemetry.Config, tel telemetry.API) {
	t, err := telemetry.Setup(ctx, "getmycoursesd", config)
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := t.Shutdown(shutdownCtx)
		if err != nil {
			slog.Warn("shutdown telemetry", "err", err.Error())
		}
	}()
	telemetry.InstrumentPerfStats(ctx, tel)
}
