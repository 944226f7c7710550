package main

import (
	"flag"
	"log/slog"

	"habblive-backend/internal/app"
	"habblive-backend/internal/components/serviceutil"
)

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	configPath := flag.String("config", "config.json5", "Path to the config file, config.local.json5 next to it overrides it.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	tel := InitTelemetry(ctx, *verbose)

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		serviceutil.Fatal("read config", err)
	}

	handler, svc, err := app.NewHandler(cfg, tel)
	if err != nil {
		serviceutil.Fatal("init badge api", err)
	}
	slog.Info(
		"badge api ready",
		"catalog", svc.Catalog().Prefix(),
		"badges", svc.Catalog().Len(),
		"session", cfg.Habblive.Username != "" && cfg.Habblive.Password != "",
		"anonymous_fallback", cfg.Habblive.AnonymousFallback,
	)

	err = serviceutil.StartHttpServer(ctx, cfg.Port, handler)
	if err != nil {
		serviceutil.Fatal("serve http", err)
	}
}
