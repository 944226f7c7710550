package main

import (
	"context"
	"log/slog"

	"habblive-backend/internal/components/serviceutil"
	"habblive-backend/internal/components/telemetry"
)

func InitTelemetry(ctx context.Context, verbose bool) telemetry.API {
	telemetry.InitSlog(verbose)

	if verbose {
		slog.DebugContext(ctx, "verbose logging enabled")
	}

	providers, err := telemetry.SetupFromEnv(ctx, "badge-server")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	go func() {
		<-ctx.Done()
		err := providers.Shutdown(context.Background())
		if err != nil {
			slog.Warn("shutdown telemetry", "err", err)
		}
	}()

	tel := telemetry.SlogAPI{}
	telemetry.InstrumentPerfStats(ctx, tel)
	return tel
}
