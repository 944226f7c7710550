package habblive

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const (
	fakeVerifyUser   = "verifier"
	fakeVerifyMarker = `href="/logout"`
)

type fakeResponse struct {
	page Page
	err  error
}

func okPage(body string) fakeResponse {
	return fakeResponse{page: Page{Status: http.StatusOK, Body: []byte(body)}}
}

func statusPage(status int) fakeResponse {
	return fakeResponse{page: Page{Status: status}}
}

type fakeLogin struct {
	status int
	err    error
}

// fakeTransport plays habblive: every call is counted and answers are
// consumed in order, the last answer repeats once the list runs out.
type fakeTransport struct {
	mutex sync.Mutex

	logins       int
	resets       int
	profileCalls map[string]int
	cookiesSeen  []string

	loginResults []fakeLogin
	loginDelay   time.Duration
	pages        map[string][]fakeResponse
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		profileCalls: map[string]int{},
		pages: map[string][]fakeResponse{
			fakeVerifyUser: {okPage(`<a href="/logout">Sair</a>`)},
		},
	}
}

func (f *fakeTransport) ResetSession() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.resets++
	return nil
}

func (f *fakeTransport) Login(ctx context.Context, username, password string) (int, error) {
	f.mutex.Lock()
	f.logins++
	result := fakeLogin{status: http.StatusOK}
	if len(f.loginResults) > 0 {
		result = f.loginResults[0]
		if len(f.loginResults) > 1 {
			f.loginResults = f.loginResults[1:]
		}
	}
	delay := f.loginDelay
	f.mutex.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return result.status, result.err
}

func (f *fakeTransport) Profile(ctx context.Context, user, cookies string) (Page, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.profileCalls[user]++
	f.cookiesSeen = append(f.cookiesSeen, cookies)

	responses := f.pages[user]
	if len(responses) == 0 {
		return Page{Status: http.StatusNotFound}, nil
	}
	res := responses[0]
	if len(responses) > 1 {
		f.pages[user] = responses[1:]
	}
	return res.page, res.err
}

func (f *fakeTransport) counts(user string) (logins, profileCalls int) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.logins, f.profileCalls[user]
}

// tokenTransport plays habblive with real session tokens: each login issues a
// new token, only the newest one is accepted and a profile request carries
// the token the client held when it was sent.
type tokenTransport struct {
	mutex sync.Mutex

	logins   int
	held     int
	accepted int
	body     string
	// latency of each profile request, keyed by user
	delays map[string]time.Duration
}

func newTokenTransport(body string) *tokenTransport {
	return &tokenTransport{body: body, delays: map[string]time.Duration{}}
}

func (f *tokenTransport) ResetSession() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.held = 0
	return nil
}

func (f *tokenTransport) Login(ctx context.Context, username, password string) (int, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.logins++
	f.held = f.logins
	f.accepted = f.logins
	return http.StatusOK, nil
}

func (f *tokenTransport) Profile(ctx context.Context, user, cookies string) (Page, error) {
	f.mutex.Lock()
	sent := f.held
	delay := f.delays[user]
	f.mutex.Unlock()

	time.Sleep(delay)

	f.mutex.Lock()
	defer f.mutex.Unlock()
	if sent == 0 || sent != f.accepted {
		return Page{Status: http.StatusUnauthorized}, nil
	}
	if user == fakeVerifyUser {
		return Page{Status: http.StatusOK, Body: []byte(`<a href="/logout">Sair</a>`)}, nil
	}
	return Page{Status: http.StatusOK, Body: []byte(f.body)}, nil
}

// expire makes the server forget every token issued so far.
func (f *tokenTransport) expire() {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.accepted = -1
}

func (f *tokenTransport) loginCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.logins
}
