package app

import (
	"errors"
	"fmt"
	"time"

	"habblive-backend/internal/catalog"
	"habblive-backend/internal/components/configutil"
	"habblive-backend/internal/scrapers/habblive"
)

type CatalogConfig struct {
	Prefix string `json:"prefix" env:"BADGE_PREFIX"`
	Size   int    `json:"size" env:"BADGE_COUNT"`
}

type HabbliveConfig struct {
	BaseUrl     string `json:"base_url" env:"HABBLIVE_BASE_URL"`
	ProfilePath string `json:"profile_path" env:"HABBLIVE_PROFILE_PATH"`
	LoginPath   string `json:"login_path" env:"HABBLIVE_LOGIN_PATH"`

	Username string `json:"username" env:"HABBLIVE_USERNAME"`
	Password string `json:"password" env:"HABBLIVE_PASSWORD"`
	// profile fetched after logging in and the text it must contain
	VerifyUser   string `json:"verify_user" env:"HABBLIVE_VERIFY_USER"`
	VerifyMarker string `json:"verify_marker" env:"HABBLIVE_VERIFY_MARKER"`

	TimeoutSeconds   int     `json:"timeout_seconds" env:"HABBLIVE_TIMEOUT_SECONDS"`
	RateLimit        float64 `json:"rate_limit" env:"HABBLIVE_RATE_LIMIT"`
	CloudflareBypass bool    `json:"cloudflare_bypass" env:"HABBLIVE_CLOUDFLARE_BYPASS"`

	AnonymousFallback bool     `json:"anonymous_fallback" env:"HABBLIVE_ANONYMOUS_FALLBACK"`
	LoginMarkers      []string `json:"login_markers" env:"HABBLIVE_LOGIN_MARKERS" envSeparator:","`
	ProfileMarker     string   `json:"profile_marker" env:"HABBLIVE_PROFILE_MARKER"`
}

func (c HabbliveConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type HttpConfig struct {
	// requests per minute per ip on the badge endpoints
	RateLimit      int      `json:"rate_limit" env:"HTTP_RATE_LIMIT"`
	AllowedOrigins []string `json:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" envSeparator:","`
}

type Config struct {
	Port   int    `json:"port" env:"PORT"`
	ApiKey string `json:"api_key" env:"API_KEY"`
	// directory receiving http dumps and pages without recognized badges,
	// empty disables dumping
	DumpDir string `json:"dump_dir" env:"DUMP_DIR"`

	Catalog  CatalogConfig  `json:"catalog"`
	Habblive HabbliveConfig `json:"habblive"`
	Http     HttpConfig     `json:"http"`
}

func DefaultConfig() Config {
	return Config{
		Port: 10000,
		Catalog: CatalogConfig{
			Prefix: catalog.DefaultPrefix,
			Size:   catalog.DefaultSize,
		},
		Habblive: HabbliveConfig{
			BaseUrl:        habblive.DefaultBaseUrl,
			ProfilePath:    habblive.DefaultProfilePath,
			LoginPath:      habblive.DefaultLoginPath,
			VerifyMarker:   `href="/logout"`,
			TimeoutSeconds: int(habblive.DefaultTimeout / time.Second),
			RateLimit:      habblive.DefaultRateLimit,
		},
		Http: HttpConfig{
			RateLimit: 60,
		},
	}
}

var ErrMissingApiKey = errors.New("api_key (API_KEY) must be set")

// LoadConfig reads config.json5 (and config.local.json5) on top of the
// defaults, then the environment on top of both.
func LoadConfig(name string) (Config, error) {
	return configutil.ReadWithEnv(name, DefaultConfig())
}

// ValidateServer checks what the http server needs on top of the pipeline.
func (c Config) ValidateServer() error {
	if c.ApiKey == "" {
		return ErrMissingApiKey
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}
