// client.go contains the http side of talking to habblive, it knows nothing
// about badges or about when a session has to be renewed.

package habblive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"habblive-backend/internal/components/assert"
	"habblive-backend/internal/components/restyutil"
	"habblive-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_login   = "client.login"
	report_client_profile = "client.profile"
)

const (
	DefaultBaseUrl     = "https://habblive.in"
	DefaultProfilePath = "/profile/{user}"
	DefaultLoginPath   = "/account/submit"
	DefaultTimeout     = time.Second * 15
	DefaultRateLimit   = 2
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Page is a fetched profile page.
type Page struct {
	Status int
	Body   []byte
}

func (p Page) OK() bool {
	return p.Status >= 200 && p.Status < 300
}

// Unauthorized reports whether the status signals a missing or expired login.
func (p Page) Unauthorized() bool {
	return p.Status == http.StatusUnauthorized || p.Status == http.StatusForbidden
}

// Transport is the outbound side of habblive used by the session manager and
// the fetcher. *Client implements it.
type Transport interface {
	// ResetSession forgets every cookie collected so far.
	ResetSession() error
	// Login submits the credentials and returns the final status code.
	Login(ctx context.Context, username, password string) (int, error)
	// Profile fetches the profile page of user, cookies is an optional raw
	// Cookie header forwarded on behalf of a caller.
	Profile(ctx context.Context, user, cookies string) (Page, error)
}

type ClientOptions struct {
	BaseUrl     string
	ProfilePath string
	LoginPath   string
	Timeout     time.Duration
	// requests per second sent to habblive, 0 disables limiting
	RateLimit        float64
	CloudflareBypass bool
	// Stateless disables the cookie jar, use it for clients that forward
	// cookies of different callers.
	Stateless bool
	// Dump receives every http message when set.
	Dump restyutil.InstrumentOutput
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.BaseUrl == "" {
		o.BaseUrl = DefaultBaseUrl
	}
	if o.ProfilePath == "" {
		o.ProfilePath = DefaultProfilePath
	}
	if o.LoginPath == "" {
		o.LoginPath = DefaultLoginPath
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

type Client struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts ClientOptions
	jar  *resettableJar
	tel  telemetry.API
}

func NewClient(opts ClientOptions, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel, "telemetry")
	opts = opts.withDefaults()
	tel = telemetry.NewScopedAPI("habblive", tel)

	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseUrl)
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(opts.BaseUrl)
	httpClient.SetHeader("user-agent", userAgent)
	httpClient.SetRedirectPolicy(
		resty.FlexibleRedirectPolicy(10),
		resty.DomainCheckRedirectPolicy(baseUrl.Hostname()),
	)
	httpClient.SetTimeout(opts.Timeout)

	c := &Client{
		BaseUrl: baseUrl,
		Http:    httpClient,
		opts:    opts,
		tel:     tel,
	}

	if opts.Stateless {
		httpClient.SetCookieJar(nil)
	} else {
		c.jar, err = newResettableJar()
		if err != nil {
			return nil, err
		}
		httpClient.SetCookieJar(c.jar)
	}

	if opts.CloudflareBypass {
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	}

	if opts.RateLimit > 0 {
		// burst >= 1 just means that no requests will be dropped
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, "habblive/http", tel)
	restyutil.DumpResponses(httpClient, opts.Dump)

	return c, nil
}

func (c *Client) ResetSession() error {
	if c.jar == nil {
		return nil
	}
	return c.jar.reset()
}

func (c *Client) Login(ctx context.Context, username, password string) (int, error) {
	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": username,
			"password": password,
		}).
		Post(c.opts.LoginPath)
	if err != nil {
		c.tel.ReportWarning(
			report_client_login,
			fmt.Errorf("login request: %w", err),
		)
		return 0, err
	}
	return res.StatusCode(), nil
}

func (c *Client) Profile(ctx context.Context, user, cookies string) (Page, error) {
	req := c.Http.R().
		SetContext(ctx).
		SetPathParam("user", user)
	if cookies != "" {
		req.SetHeader("Cookie", cookies)
	}

	res, err := req.Get(c.opts.ProfilePath)
	if err != nil {
		c.tel.ReportWarning(
			report_client_profile,
			fmt.Errorf("fetch: %w", err),
			user,
		)
		return Page{}, err
	}

	return Page{
		Status: res.StatusCode(),
		Body:   res.Body(),
	}, nil
}

// resettableJar lets the session drop its cookies without swapping the jar
// on the http.Client, which would race with requests in flight.
type resettableJar struct {
	mutex sync.RWMutex
	inner *cookiejar.Jar
}

func newResettableJar() (*resettableJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &resettableJar{inner: inner}, nil
}

func (j *resettableJar) reset() error {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	j.mutex.Lock()
	defer j.mutex.Unlock()
	j.inner = inner
	return nil
}

func (j *resettableJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	j.inner.SetCookies(u, cookies)
}

func (j *resettableJar) Cookies(u *url.URL) []*http.Cookie {
	j.mutex.RLock()
	defer j.mutex.RUnlock()
	return j.inner.Cookies(u)
}
