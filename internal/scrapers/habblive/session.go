package habblive

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"habblive-backend/internal/components/assert"
	"habblive-backend/internal/components/telemetry"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

const (
	report_session_login      = "session.login"
	report_session_invalidate = "session.invalidate"
)

var tracer = otel.Tracer("habblive-backend/scrapers/habblive")
var meter = otel.Meter("habblive-backend/scrapers/habblive")

var loginCounter, _ = meter.Int64Counter(
	"habblive.session.logins",
	metric.WithDescription("Login attempts against habblive by result."),
)

type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Configured() bool {
	return c.Username != "" && c.Password != ""
}

// Verification describes the profile fetched right after logging in to
// prove that the new session actually works.
type Verification struct {
	// User whose profile is fetched, defaults to the logged in user.
	User string
	// Marker must appear in the verification page, an empty marker only
	// checks for a successful status.
	Marker string
}

// Session is a handle to the shared logged in session. The generation
// identifies the login it came from, see SessionManager.InvalidateIf.
type Session struct {
	transport  Transport
	generation uint64
}

// Profile fetches the profile of user with the session's cookies.
func (s Session) Profile(ctx context.Context, user string) (Page, error) {
	return s.transport.Profile(ctx, user, "")
}

// SessionManager owns the one logged in session of the process.
//
// The validity flag and generation are only touched under mutex. Logins run
// outside of the mutex and concurrent callers share a single login through
// singleflight. Every successful login starts a new generation.
type SessionManager struct {
	transport    Transport
	credentials  Credentials
	verification Verification
	tel          telemetry.API

	mutex      sync.Mutex
	valid      bool
	generation uint64
	logins     singleflight.Group
}

func NewSessionManager(
	transport Transport,
	credentials Credentials,
	verification Verification,
	tel telemetry.API,
) *SessionManager {
	assert.NotNil(transport, "transport")
	assert.NotNil(tel, "telemetry")

	if verification.User == "" {
		verification.User = credentials.Username
	}
	return &SessionManager{
		transport:    transport,
		credentials:  credentials,
		verification: verification,
		tel:          telemetry.NewScopedAPI("habblive", tel),
	}
}

func (m *SessionManager) Configured() bool {
	return m.credentials.Configured()
}

// Valid reports whether the session is currently believed to be logged in.
func (m *SessionManager) Valid() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.valid
}

func (m *SessionManager) current() (uint64, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.generation, m.valid
}

// Invalidate marks the session as logged out, the next EnsureSession logs in again.
func (m *SessionManager) Invalidate() {
	m.mutex.Lock()
	wasValid := m.valid
	m.valid = false
	m.mutex.Unlock()

	if wasValid {
		m.tel.ReportDebug(report_session_invalidate)
	}
}

// InvalidateIf marks the session as logged out only if it still belongs to
// generation. A rejection seen through a session that has since been
// replaced by a newer login leaves the newer login alone.
func (m *SessionManager) InvalidateIf(generation uint64) bool {
	m.mutex.Lock()
	invalidated := m.valid && m.generation == generation
	if invalidated {
		m.valid = false
	}
	m.mutex.Unlock()

	if invalidated {
		m.tel.ReportDebug(report_session_invalidate, generation)
	}
	return invalidated
}

// EnsureSession returns the shared session, logging in first if it is not
// valid. It never retries a failed login, that is up to the caller.
//
// A caller whose ctx ends stops waiting right away, the login itself keeps
// going for the other callers and is bounded by the client timeout.
func (m *SessionManager) EnsureSession(ctx context.Context) (Session, error) {
	if !m.credentials.Configured() {
		return Session{}, ErrNotConfigured
	}
	if generation, valid := m.current(); valid {
		return Session{transport: m.transport, generation: generation}, nil
	}

	loginCtx := context.WithoutCancel(ctx)
	flight := m.logins.DoChan("login", func() (any, error) {
		if generation, valid := m.current(); valid {
			return generation, nil
		}
		return m.login(loginCtx)
	})

	select {
	case <-ctx.Done():
		return Session{}, fmt.Errorf("%w: %w", ErrLoginFailed, classifyTransportError(ctx.Err()))
	case res := <-flight:
		if res.Err != nil {
			return Session{}, res.Err
		}
		return Session{transport: m.transport, generation: res.Val.(uint64)}, nil
	}
}

func (m *SessionManager) login(ctx context.Context) (generation uint64, err error) {
	ctx, span := tracer.Start(ctx, "SessionManager:login")
	defer span.End()

	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "login failed")
			m.tel.ReportWarning(report_session_login, err)
		}
		loginCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}()

	err = m.transport.ResetSession()
	if err != nil {
		return 0, fmt.Errorf("%w: reset cookies: %w", ErrLoginFailed, err)
	}

	status, err := m.transport.Login(ctx, m.credentials.Username, m.credentials.Password)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLoginFailed, classifyTransportError(err))
	}
	if status >= 400 {
		return 0, fmt.Errorf("%w: login responded with status %d", ErrLoginFailed, status)
	}

	page, err := m.transport.Profile(ctx, m.verification.User, "")
	if err != nil {
		return 0, fmt.Errorf("%w: verification fetch: %w", ErrLoginFailed, classifyTransportError(err))
	}
	if !page.OK() {
		return 0, fmt.Errorf("%w: verification fetch responded with status %d", ErrLoginFailed, page.Status)
	}
	if m.verification.Marker != "" && !bytes.Contains(page.Body, []byte(m.verification.Marker)) {
		return 0, fmt.Errorf("%w: verification page is missing %q", ErrLoginFailed, m.verification.Marker)
	}

	m.mutex.Lock()
	m.generation++
	m.valid = true
	generation = m.generation
	m.mutex.Unlock()

	m.tel.ReportDebug(report_session_login, "logged in", m.credentials.Username, generation)
	return generation, nil
}
