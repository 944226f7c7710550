// Package app wires the badge pipeline together from a Config, it is shared
// by the server and the cli.
package app

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/restyutil"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/scrapers/habblive"
	"habblive-backend/internal/service"
)

type Pipeline struct {
	Catalog   catalog.Catalog
	Extractor habblive.Extractor
	Fetcher   *habblive.Fetcher
}

type dumps struct {
	http  restyutil.InstrumentOutput
	pages restyutil.InstrumentOutput
}

func newDumps(dir string) (dumps, error) {
	if dir == "" {
		return dumps{}, nil
	}
	httpOutput, err := restyutil.NewFilesystemOutput(filepath.Join(dir, "http"))
	if err != nil {
		return dumps{}, fmt.Errorf("create http dump dir: %w", err)
	}
	pagesOutput, err := restyutil.NewFilesystemOutput(filepath.Join(dir, "pages"))
	if err != nil {
		return dumps{}, fmt.Errorf("create page dump dir: %w", err)
	}
	return dumps{http: httpOutput, pages: pagesOutput}, nil
}

// NewPipeline builds the catalog, both habblive clients, the session
// manager and the fetcher.
func NewPipeline(cfg Config, tel telemetry.API) (Pipeline, error) {
	c, err := catalog.New(cfg.Catalog.Prefix, cfg.Catalog.Size)
	if err != nil {
		return Pipeline{}, fmt.Errorf("build catalog: %w", err)
	}

	out, err := newDumps(cfg.DumpDir)
	if err != nil {
		return Pipeline{}, err
	}

	clientOpts := habblive.ClientOptions{
		BaseUrl:          cfg.Habblive.BaseUrl,
		ProfilePath:      cfg.Habblive.ProfilePath,
		LoginPath:        cfg.Habblive.LoginPath,
		Timeout:          cfg.Habblive.Timeout(),
		RateLimit:        cfg.Habblive.RateLimit,
		CloudflareBypass: cfg.Habblive.CloudflareBypass,
		Dump:             out.http,
	}
	sessionClient, err := habblive.NewClient(clientOpts, tel)
	if err != nil {
		return Pipeline{}, fmt.Errorf("session client: %w", err)
	}

	// forwarded cookies belong to different callers, so the direct client
	// must never remember any
	directOpts := clientOpts
	directOpts.Stateless = true
	directClient, err := habblive.NewClient(directOpts, tel)
	if err != nil {
		return Pipeline{}, fmt.Errorf("direct client: %w", err)
	}

	sessions := habblive.NewSessionManager(
		sessionClient,
		habblive.Credentials{
			Username: cfg.Habblive.Username,
			Password: cfg.Habblive.Password,
		},
		habblive.Verification{
			User:   cfg.Habblive.VerifyUser,
			Marker: cfg.Habblive.VerifyMarker,
		},
		tel,
	)
	if !sessions.Configured() {
		tel.ReportWarning("app.new-pipeline", habblive.ErrNotConfigured)
	}

	extractor := habblive.NewExtractor(c, out.pages, tel)
	fetcher := habblive.NewFetcher(
		sessions,
		directClient,
		extractor,
		habblive.FetcherOptions{
			LoginMarkers:  cfg.Habblive.LoginMarkers,
			ProfileMarker: cfg.Habblive.ProfileMarker,
		},
		tel,
	)

	return Pipeline{
		Catalog:   c,
		Extractor: extractor,
		Fetcher:   fetcher,
	}, nil
}

// NewHandler builds the whole http api for cfg.
func NewHandler(cfg Config, tel telemetry.API) (http.Handler, service.Service, error) {
	err := cfg.ValidateServer()
	if err != nil {
		return nil, service.Service{}, err
	}
	pipeline, err := NewPipeline(cfg, tel)
	if err != nil {
		return nil, service.Service{}, err
	}

	svc := service.NewService(
		pipeline.Catalog,
		pipeline.Fetcher,
		service.Options{
			ApiKey:            cfg.ApiKey,
			AnonymousFallback: cfg.Habblive.AnonymousFallback,
		},
		service.WithTelemetry(tel),
	)
	handler := service.NewHandler(svc, service.HandlerOptions{
		RateLimit:      cfg.Http.RateLimit,
		RateWindow:     time.Minute,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	})
	return handler, svc, nil
}
