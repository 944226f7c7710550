package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/assert"
	"habblive-backend/internal/components/chrono"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/reconcile"
	"habblive-backend/internal/scrapers/habblive"
)

const (
	report_service_next_badge         = "service.next-badge"
	report_service_invalidate_session = "service.invalidate-session"
)

// messages are shown as is to userscript users
var (
	ErrInvalidJSON = errors.New("JSON inválido")
	ErrInvalidKey  = errors.New("API_KEY inválida")
	ErrMissingUser = errors.New("Usuário não informado")
)

// Request is the body of a next badge request.
type Request struct {
	User string `json:"user"`
	Key  string `json:"key"`
	// Badges is the list of badges the client already read from the profile
	// itself, when present no profile is fetched.
	Badges []string `json:"badges"`
	// Cookies is a raw Cookie header of the caller's own habblive session.
	Cookies string `json:"cookies"`
}

// empty reports a body that carried no fields at all, ex. `{}` or `null`.
func (r Request) empty() bool {
	return r.User == "" && r.Key == "" && r.Badges == nil && r.Cookies == ""
}

type Options struct {
	ApiKey string
	// AnonymousFallback fetches public profiles without a session when no
	// credentials are configured.
	AnonymousFallback bool
}

type serviceConfig struct {
	clock chrono.API
	tel   telemetry.API
}

type ServiceOption func(cfg *serviceConfig)

func WithClock(clock chrono.API) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.clock = clock
	}
}

func WithTelemetry(tel telemetry.API) ServiceOption {
	return func(cfg *serviceConfig) {
		cfg.tel = tel
	}
}

// Service answers which badge of the catalog a player should collect next.
type Service struct {
	catalog catalog.Catalog
	fetcher *habblive.Fetcher
	opts    Options
	clock   chrono.API
	tel     telemetry.API
}

func NewService(
	c catalog.Catalog,
	fetcher *habblive.Fetcher,
	opts Options,
	options ...ServiceOption,
) Service {
	assert.NotNil(fetcher, "fetcher")
	assert.NotEmptyStr(opts.ApiKey, "api key")

	cfg := serviceConfig{}
	for _, opt := range options {
		opt(&cfg)
	}

	svc := Service{
		catalog: c,
		fetcher: fetcher,
		opts:    opts,
		clock:   chrono.NewStandardImpl(nil),
		tel:     telemetry.SlogAPI{},
	}
	if cfg.clock != nil {
		svc.clock = cfg.clock
	}
	if cfg.tel != nil {
		svc.tel = cfg.tel
	}
	svc.tel = telemetry.NewScopedAPI("service", svc.tel)

	return svc
}

func (s Service) Catalog() catalog.Catalog {
	return s.catalog
}

// SessionValid reports whether the shared habblive session is logged in.
func (s Service) SessionValid() bool {
	return s.fetcher.Sessions().Valid()
}

func (s Service) checkKey(key string) error {
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.opts.ApiKey)) != 1 {
		return ErrInvalidKey
	}
	return nil
}

// NextBadge validates the request before anything is fetched, gathers the
// badges the user owns and reconciles them against the catalog.
func (s Service) NextBadge(ctx context.Context, req Request) (reconcile.Result, error) {
	err := s.checkKey(req.Key)
	if err != nil {
		return reconcile.Result{}, err
	}
	user := strings.TrimSpace(req.User)
	if user == "" {
		return reconcile.Result{}, ErrMissingUser
	}

	found, source, err := s.evidence(ctx, user, req)
	if err != nil {
		s.tel.ReportWarning(report_service_next_badge, err, user, source)
		return reconcile.Result{}, err
	}

	result := reconcile.Reconcile(s.catalog, found)
	s.tel.ReportCount(report_service_next_badge, int64(len(result.Found)))
	s.tel.ReportDebug(
		"next badge",
		user, source,
		len(result.Found), s.catalog.Len(),
	)
	return result, nil
}

func (s Service) evidence(ctx context.Context, user string, req Request) (catalog.Set, string, error) {
	switch {
	case req.Badges != nil:
		found := catalog.Set{}
		ignored := 0
		for _, token := range req.Badges {
			id := catalog.BadgeID(strings.TrimSpace(token))
			if !s.catalog.Contains(id) {
				ignored++
				continue
			}
			found.Add(id)
		}
		if ignored > 0 {
			s.tel.ReportDebug("client list has ids outside the catalog", user, ignored)
		}
		return found, "client", nil
	case strings.TrimSpace(req.Cookies) != "":
		found, err := s.fetcher.FetchWithCookies(ctx, user, strings.TrimSpace(req.Cookies))
		return found, "cookies", err
	case s.fetcher.Sessions().Configured():
		found, err := s.fetcher.FetchProfile(ctx, user)
		return found, "session", err
	case s.opts.AnonymousFallback:
		found, err := s.fetcher.FetchAnonymous(ctx, user)
		return found, "anonymous", err
	default:
		return nil, "none", habblive.ErrNotConfigured
	}
}

// InvalidateSession forces the next session fetch to log in again.
func (s Service) InvalidateSession(key string) error {
	err := s.checkKey(key)
	if err != nil {
		return err
	}
	s.fetcher.Sessions().Invalidate()
	s.tel.ReportDebug(report_service_invalidate_session)
	return nil
}
