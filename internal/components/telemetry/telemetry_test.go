package telemetry

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestScopedAPI(t *testing.T) {
	recorder := &Recorder{}
	scoped := NewScopedAPI("habblive", NewScopedAPI("outer", recorder))

	scoped.ReportBroken("client.profile", "param")
	scoped.ReportWarning("session.login")
	scoped.ReportDebug("logged in")
	scoped.ReportCount("fetcher.fetch-profile", 3)

	require.Equal(t, []Report{
		{Kind: "broken", Id: "outer: habblive: client.profile", Params: []any{"param"}},
	}, recorder.Reports("broken"))
	require.Equal(t, "outer: habblive: session.login", recorder.Reports("warning")[0].Id)
	require.Equal(t, "outer: habblive: logged in", recorder.Reports("debug")[0].Id)
	require.Equal(t, []any{int64(3)}, recorder.Reports("count")[0].Params)
	require.Len(t, recorder.Reports(""), 4)
}

func TestSlogAPI(t *testing.T) {
	var out bytes.Buffer
	tel := SlogAPI{Logger: slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))}

	tel.ReportBroken("session.login", errors.New("status 500"), "badgebot")
	require.Contains(t, out.String(), "level=ERROR")
	require.Contains(t, out.String(), "id=session.login")
	require.Contains(t, out.String(), `err="status 500"`)
	require.Contains(t, out.String(), "p1=badgebot")

	out.Reset()
	tel.ReportDebug("logged in")
	require.Empty(t, out.String())
}

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(trace.NewTracerProvider(trace.WithSpanProcessor(spans)))
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
	})
	return spans
}

func TestInstrumentResty(t *testing.T) {
	spans := installSpanRecorder(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "secret"})
		w.Header().Set("X-Profile", "alice")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	recorder := &Recorder{}
	client := resty.New()
	InstrumentResty(client, "test", recorder)

	_, err := client.R().Get(server.URL + "/profile/alice")
	require.NoError(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "http GET", ended[0].Name())

	var keys []string
	for _, attr := range ended[0].Attributes() {
		keys = append(keys, string(attr.Key))
		require.NotContains(t, attr.Value.Emit(), "secret")
	}
	require.Contains(t, keys, "http.response.status_code")
	require.Contains(t, keys, "response/header: X-Profile")
	for _, key := range keys {
		require.False(t, strings.Contains(strings.ToLower(key), "cookie"), key)
	}

	debug := recorder.Reports("debug")
	require.Len(t, debug, 2)
	require.Equal(t, report_resty_request, debug[0].Id)
	require.Equal(t, report_resty_response, debug[1].Id)
}

func TestInstrumentRestyError(t *testing.T) {
	spans := installSpanRecorder(t)

	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	recorder := &Recorder{}
	client := resty.New()
	InstrumentResty(client, "test", recorder)

	_, err := client.R().Get(url)
	require.Error(t, err)

	ended := spans.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, codes.Error, ended[0].Status().Code)
	require.Len(t, recorder.Reports("warning"), 1)
}
