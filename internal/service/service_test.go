package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/telemetry"
	"habblive-backend/internal/scrapers/habblive"

	"github.com/stretchr/testify/require"
)

const (
	testApiKey   = "74839432"
	publicUser   = "public"
	sessionValue = "server-session"
)

var testCatalog = catalog.MustNew(catalog.DefaultPrefix, catalog.DefaultSize)

func badgePage(ids ...string) string {
	var out strings.Builder
	out.WriteString(`<div class="profile"><div class="badges">`)
	for _, id := range ids {
		fmt.Fprintf(&out, `<img src="/c_images/album1584/%s.gif">`, id)
	}
	out.WriteString(`</div><a href="/logout">Sair</a></div>`)
	return out.String()
}

// fakeHabblive counts every request it receives, profiles are only served
// with a session cookie except for publicUser.
type fakeHabblive struct {
	server   *httptest.Server
	requests atomic.Int32
	logins   atomic.Int32
	profiles map[string]string
}

func newFakeHabblive(t testing.TB, profiles map[string]string) *fakeHabblive {
	t.Helper()
	f := &fakeHabblive{profiles: profiles}

	mux := http.NewServeMux()
	mux.HandleFunc("/account/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		f.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: sessionValue, Path: "/"})
	})
	mux.HandleFunc("/profile/", func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimPrefix(r.URL.Path, "/profile/")
		if user == "" || strings.Contains(user, "/") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if _, err := r.Cookie("PHPSESSID"); err != nil && user != publicUser {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		page, ok := f.profiles[user]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(page))
	})

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestService(t testing.TB, fake *fakeHabblive, credentials habblive.Credentials, opts Options) Service {
	t.Helper()
	return newRecordedTestService(t, fake, credentials, opts, &telemetry.Recorder{})
}

func newRecordedTestService(
	t testing.TB,
	fake *fakeHabblive,
	credentials habblive.Credentials,
	opts Options,
	tel *telemetry.Recorder,
) Service {
	t.Helper()

	sessionClient, err := habblive.NewClient(habblive.ClientOptions{BaseUrl: fake.server.URL}, tel)
	require.NoError(t, err)
	directClient, err := habblive.NewClient(habblive.ClientOptions{BaseUrl: fake.server.URL, Stateless: true}, tel)
	require.NoError(t, err)

	sessions := habblive.NewSessionManager(
		sessionClient,
		credentials,
		habblive.Verification{User: "badgebot", Marker: "/logout"},
		tel,
	)
	fetcher := habblive.NewFetcher(
		sessions,
		directClient,
		habblive.NewExtractor(testCatalog, nil, tel),
		habblive.FetcherOptions{ProfileMarker: ".profile"},
		tel,
	)

	if opts.ApiKey == "" {
		opts.ApiKey = testApiKey
	}
	return NewService(testCatalog, fetcher, opts, WithTelemetry(tel))
}

var testCredentials = habblive.Credentials{Username: "badgebot", Password: "hunter2"}

func defaultProfiles() map[string]string {
	return map[string]string{
		"badgebot": badgePage(),
		"alice":    badgePage("EV25DEZ01", "EV25DEZ02", "EV25DEZ03"),
		publicUser: badgePage("EV25DEZ01", "EV25DEZ03"),
		"empty":    badgePage(),
	}
}

func TestNextBadgeFromClientList(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	result, err := svc.NextBadge(context.Background(), Request{
		User:   "alice",
		Key:    testApiKey,
		Badges: []string{"EV25DEZ01", "EV25DEZ02", "EV25DEZ03", "EV25DEZ04", "EV25DEZ05", "ADM", " EV25DEZ02 "},
	})
	require.NoError(t, err)
	require.NotNil(t, result.Next)
	require.Equal(t, catalog.BadgeID("EV25DEZ06"), *result.Next)
	require.Len(t, result.Found, 5)
	require.Equal(t, 95, result.Missing)
	require.False(t, result.Complete)

	require.Equal(t, int32(0), fake.requests.Load())
}

func TestNextBadgeReportsFoundCount(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	recorder := &telemetry.Recorder{}
	svc := newRecordedTestService(t, fake, testCredentials, Options{}, recorder)

	result, err := svc.NextBadge(context.Background(), Request{
		User:   "alice",
		Key:    testApiKey,
		Badges: []string{"EV25DEZ01", "EV25DEZ02", "EV25DEZ101", "EV25DEZ00", "ADM"},
	})
	require.NoError(t, err)
	require.Equal(t, []catalog.BadgeID{"EV25DEZ01", "EV25DEZ02"}, result.Found)

	counts := recorder.Reports("count")
	require.Len(t, counts, 1)
	require.Equal(t, "service: "+report_service_next_badge, counts[0].Id)
	require.Equal(t, []any{int64(2)}, counts[0].Params)

	var ignored []any
	for _, report := range recorder.Reports("debug") {
		if report.Id == "service: client list has ids outside the catalog" {
			ignored = report.Params
		}
	}
	require.Equal(t, []any{"alice", 3}, ignored)
}

func TestNextBadgeComplete(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	all := make([]string, 0, testCatalog.Len())
	for _, id := range testCatalog.IDs() {
		all = append(all, string(id))
	}

	result, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey, Badges: all})
	require.NoError(t, err)
	require.Nil(t, result.Next)
	require.True(t, result.Complete)
	require.Equal(t, 0, result.Missing)
	require.Len(t, result.Found, 100)
}

func TestNextBadgeEmptyClientList(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	result, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey, Badges: []string{}})
	require.NoError(t, err)
	require.Equal(t, catalog.BadgeID("EV25DEZ01"), *result.Next)
	require.Equal(t, int32(0), fake.requests.Load())
}

func TestNextBadgeValidatesBeforeFetching(t *testing.T) {
	table := []struct {
		name     string
		req      Request
		expected error
	}{
		{name: "wrong key", req: Request{User: "alice", Key: "wrong"}, expected: ErrInvalidKey},
		{name: "empty key", req: Request{User: "alice"}, expected: ErrInvalidKey},
		{name: "missing user", req: Request{Key: testApiKey}, expected: ErrMissingUser},
		{name: "blank user", req: Request{User: "   ", Key: testApiKey}, expected: ErrMissingUser},
		{name: "wrong key wins over missing user", req: Request{Key: "wrong"}, expected: ErrInvalidKey},
	}

	for _, row := range table {
		t.Run(row.name, func(t *testing.T) {
			fake := newFakeHabblive(t, defaultProfiles())
			svc := newTestService(t, fake, testCredentials, Options{})

			_, err := svc.NextBadge(context.Background(), row.req)
			require.ErrorIs(t, err, row.expected)
			require.Equal(t, int32(0), fake.requests.Load())
		})
	}
}

func TestNextBadgeWithSession(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})
	require.False(t, svc.SessionValid())

	result, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey})
	require.NoError(t, err)
	require.Equal(t, catalog.BadgeID("EV25DEZ04"), *result.Next)
	require.Equal(t, []catalog.BadgeID{"EV25DEZ01", "EV25DEZ02", "EV25DEZ03"}, result.Found)
	require.True(t, svc.SessionValid())

	_, err = svc.NextBadge(context.Background(), Request{User: "empty", Key: testApiKey})
	require.NoError(t, err)
	require.Equal(t, int32(1), fake.logins.Load())
}

func TestNextBadgeWithSessionUnknownProfile(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	_, err := svc.NextBadge(context.Background(), Request{User: "nobody", Key: testApiKey})
	require.ErrorIs(t, err, habblive.ErrProfileUnavailable)
}

func TestNextBadgeWithCookies(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	result, err := svc.NextBadge(context.Background(), Request{
		User:    "alice",
		Key:     testApiKey,
		Cookies: "PHPSESSID=callers-own",
	})
	require.NoError(t, err)
	require.Len(t, result.Found, 3)
	require.Equal(t, int32(0), fake.logins.Load())
	require.False(t, svc.SessionValid())
}

func TestNextBadgeSources(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		fake := newFakeHabblive(t, defaultProfiles())
		svc := newTestService(t, fake, habblive.Credentials{}, Options{})

		_, err := svc.NextBadge(context.Background(), Request{User: publicUser, Key: testApiKey})
		require.ErrorIs(t, err, habblive.ErrNotConfigured)
		require.Equal(t, int32(0), fake.requests.Load())
	})

	t.Run("anonymous fallback", func(t *testing.T) {
		fake := newFakeHabblive(t, defaultProfiles())
		svc := newTestService(t, fake, habblive.Credentials{}, Options{AnonymousFallback: true})

		result, err := svc.NextBadge(context.Background(), Request{User: publicUser, Key: testApiKey})
		require.NoError(t, err)
		require.Equal(t, catalog.BadgeID("EV25DEZ02"), *result.Next)
		require.Equal(t, int32(1), fake.requests.Load())
	})

	t.Run("anonymous fallback on a private profile", func(t *testing.T) {
		fake := newFakeHabblive(t, defaultProfiles())
		svc := newTestService(t, fake, habblive.Credentials{}, Options{AnonymousFallback: true})

		_, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey})
		require.ErrorIs(t, err, habblive.ErrForbidden)
	})

	t.Run("credentials win over anonymous fallback", func(t *testing.T) {
		fake := newFakeHabblive(t, defaultProfiles())
		svc := newTestService(t, fake, testCredentials, Options{AnonymousFallback: true})

		_, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey})
		require.NoError(t, err)
		require.Equal(t, int32(1), fake.logins.Load())
	})
}

func TestInvalidateSession(t *testing.T) {
	fake := newFakeHabblive(t, defaultProfiles())
	svc := newTestService(t, fake, testCredentials, Options{})

	_, err := svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey})
	require.NoError(t, err)
	require.True(t, svc.SessionValid())

	require.ErrorIs(t, svc.InvalidateSession("wrong"), ErrInvalidKey)
	require.True(t, svc.SessionValid())

	require.NoError(t, svc.InvalidateSession(testApiKey))
	require.False(t, svc.SessionValid())

	_, err = svc.NextBadge(context.Background(), Request{User: "alice", Key: testApiKey})
	require.NoError(t, err)
	require.Equal(t, int32(2), fake.logins.Load())
}
