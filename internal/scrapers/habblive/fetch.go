package habblive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/assert"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/components/textutil"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	report_fetcher_fetch_profile = "fetcher.fetch-profile"
	report_fetcher_fetch_direct  = "fetcher.fetch-direct"
)

// sessionAttempts is the number of times a profile is fetched with the shared
// session: the first try plus exactly one retry after logging in again. Keep
// it a constant, an expired session costs at most one extra login.
const sessionAttempts = 2

var fetchCounter, _ = meter.Int64Counter(
	"habblive.profile.fetches",
	metric.WithDescription("Profile fetches by evidence source and outcome."),
)

// DefaultLoginMarkers are phrases of the page habblive serves in place of a
// profile once the session is gone.
var DefaultLoginMarkers = []string{"faça login", "fazer login", "login required"}

type FetcherOptions struct {
	// LoginMarkers are matched case-insensitively against pages without
	// badges to tell an expired session apart from an empty profile.
	LoginMarkers []string
	// ProfileMarker is a css selector present on every real profile page. When
	// set, a page without badges and without this selector is reported as
	// ErrProfileUnavailable instead of as a profile with zero badges.
	ProfileMarker string
}

// Fetcher turns a username into the set of badges shown on their profile.
type Fetcher struct {
	sessions  *SessionManager
	direct    Transport
	extractor Extractor
	opts      FetcherOptions
	tel       telemetry.API
}

// NewFetcher creates a Fetcher, `direct` is used for fetches that do not go
// through the shared session (forwarded cookies, anonymous) and should be a
// stateless client.
func NewFetcher(
	sessions *SessionManager,
	direct Transport,
	extractor Extractor,
	opts FetcherOptions,
	tel telemetry.API,
) *Fetcher {
	assert.NotNil(sessions, "session manager")
	assert.NotNil(direct, "direct transport")
	if opts.LoginMarkers == nil {
		opts.LoginMarkers = DefaultLoginMarkers
	}
	return &Fetcher{
		sessions:  sessions,
		direct:    direct,
		extractor: extractor,
		opts:      opts,
		tel:       telemetry.NewScopedAPI("habblive", tel),
	}
}

func (f *Fetcher) Sessions() *SessionManager {
	return f.sessions
}

// FetchProfile fetches the profile through the shared session. If habblive
// answers as if the session expired, the session is invalidated, logged in
// again and the fetch retried once. Only the login that served the rejected
// page is invalidated, so requests that were in flight when the session
// expired share a single re-login.
func (f *Fetcher) FetchProfile(ctx context.Context, user string) (found catalog.Set, err error) {
	ctx, span := tracer.Start(ctx, "Fetcher:FetchProfile")
	defer span.End()
	span.SetAttributes(attribute.String("habblive.user", user))
	defer f.record(ctx, "session", span, &err)

	for attempt := 0; attempt < sessionAttempts; attempt++ {
		session, err := f.sessions.EnsureSession(ctx)
		if err != nil {
			if attempt == 0 {
				return nil, fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
			}
			return nil, fmt.Errorf("%w: %w", ErrSessionExpiredPersistent, err)
		}

		page, err := session.Profile(ctx, user)
		if err != nil {
			return nil, classifyTransportError(err)
		}

		if page.Unauthorized() {
			f.tel.ReportDebug("session rejected, logging in again", user, page.Status, attempt)
			f.sessions.InvalidateIf(session.generation)
			continue
		}
		if !page.OK() {
			return nil, statusError(page.Status)
		}

		found := f.extractor.Extract(page.Body)
		if len(found) == 0 && loginRequired(page.Body, f.opts.LoginMarkers) {
			f.tel.ReportDebug("login page served instead of profile, logging in again", user, attempt)
			f.sessions.InvalidateIf(session.generation)
			continue
		}

		err = f.checkProfile(page.Body, found)
		if err != nil {
			return nil, err
		}
		return found, nil
	}

	f.tel.ReportWarning(report_fetcher_fetch_profile, ErrSessionExpiredPersistent, user)
	return nil, ErrSessionExpiredPersistent
}

// FetchWithCookies fetches the profile forwarding a caller's own cookies,
// there is no retry since this service cannot renew them.
func (f *Fetcher) FetchWithCookies(ctx context.Context, user, cookies string) (found catalog.Set, err error) {
	ctx, span := tracer.Start(ctx, "Fetcher:FetchWithCookies")
	defer span.End()
	defer f.record(ctx, "cookies", span, &err)
	return f.fetchDirect(ctx, user, cookies)
}

// FetchAnonymous fetches the public profile without any session.
func (f *Fetcher) FetchAnonymous(ctx context.Context, user string) (found catalog.Set, err error) {
	ctx, span := tracer.Start(ctx, "Fetcher:FetchAnonymous")
	defer span.End()
	defer f.record(ctx, "anonymous", span, &err)
	return f.fetchDirect(ctx, user, "")
}

func (f *Fetcher) fetchDirect(ctx context.Context, user, cookies string) (catalog.Set, error) {
	page, err := f.direct.Profile(ctx, user, cookies)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if page.Unauthorized() {
		f.tel.ReportDebug(report_fetcher_fetch_direct, "unauthorized", user, page.Status)
		return nil, fmt.Errorf("%w: status %d", ErrForbidden, page.Status)
	}
	if !page.OK() {
		return nil, statusError(page.Status)
	}

	found := f.extractor.Extract(page.Body)
	if len(found) == 0 && loginRequired(page.Body, f.opts.LoginMarkers) {
		return nil, fmt.Errorf("%w: login page served instead of profile", ErrForbidden)
	}
	err = f.checkProfile(page.Body, found)
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (f *Fetcher) checkProfile(markup []byte, found catalog.Set) error {
	if len(found) > 0 || f.opts.ProfileMarker == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil || doc.Find(f.opts.ProfileMarker).Length() == 0 {
		return fmt.Errorf("%w: page has no %q", ErrProfileUnavailable, f.opts.ProfileMarker)
	}
	return nil
}

func (f *Fetcher) record(ctx context.Context, source string, span trace.Span, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = "failed"
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	fetchCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	))
}

func statusError(status int) error {
	if status == http.StatusNotFound {
		return fmt.Errorf("%w: status %d", ErrProfileUnavailable, status)
	}
	return fmt.Errorf("%w: unexpected status %d", ErrTransport, status)
}

// loginRequired reports whether the page asks for a login rather than
// showing a profile.
func loginRequired(markup []byte, markers []string) bool {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err == nil && doc.Find("input[type=password]").Length() > 0 {
		return true
	}
	return textutil.ContainsAny(string(markup), markers)
}
