package app

import (
	"fmt"
	"time"

	"github.com/shatgupt/getmycourses/internal/notify"
	"github.com/shatgupt/getmycourses/internal/pipeline"
	"github.com/shatgupt/getmycourses/internal/store"
	"github.com/shatgupt/getmycourses/internal/telemetry"
	configlibsql "github.com/shatgupt/getmycourses/lib/configutil/libsql"

	"github.com/robfig/cron/v3"
)

const (
	defaultBaseUrl           = "https://webapp4.asu.edu"
	defaultSchedule          = "*/5 * * * *"
	defaultTimezone          = "America/Phoenix"
	defaultHttpPort          = 8080
	defaultRequestTimeout    = 30
	defaultRunTimeout        = 600
	defaultRequestsPerSecond = 2
	defaultEnrichConcurrency = 4
	defaultCacheDir          = ".cache/getmycourses"
)

type NotifyConfig struct {
	// From is the sender shown to subscribers, ex. "GetMyCourses <noreply@example.com>".
	From string   `json:"from"`
	To   []string `json:"to"`
}

type Config struct {
	// Term is the portal's term code, ex. "2197".
	Term        string   `json:"term"`
	BaseUrl     string   `json:"base_url"`
	Departments []string `json:"departments"`
	// Schedule is the cron spec every department is scraped on.
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone"`
	HttpPort int    `json:"http_port"`

	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`
	RunTimeoutSeconds     int     `json:"run_timeout_seconds"`
	RequestsPerSecond     float64 `json:"requests_per_second"`
	EnrichConcurrency     int     `json:"enrich_concurrency"`
	CloudflareBypass      bool    `json:"cloudflare_bypass"`
	// DumpDir, when set, receives a file for every request made to the portal.
	DumpDir string `json:"dump_dir"`

	// CacheDir holds the local tier.
	CacheDir string `json:"cache_dir"`
	// Blob is the remote tier, it is disabled when neither a file nor a url is given.
	Blob configlibsql.Struct `json:"blob"`

	Smtp      notify.SmtpConfig `json:"smtp"`
	Notify    NotifyConfig      `json:"notify"`
	Telemetry telemetry.Config  `json:"telemetry"`
}

func (c *Config) SetDefaults() {
	if c.BaseUrl == "" {
		c.BaseUrl = defaultBaseUrl
	}
	if c.Schedule == "" {
		c.Schedule = defaultSchedule
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.HttpPort == 0 {
		c.HttpPort = defaultHttpPort
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.RunTimeoutSeconds == 0 {
		c.RunTimeoutSeconds = defaultRunTimeout
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.EnrichConcurrency == 0 {
		c.EnrichConcurrency = defaultEnrichConcurrency
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
}

func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

// Validate checks everything that would otherwise only fail once the first run starts.
func (c Config) Validate() error {
	if c.Term == "" {
		return fmt.Errorf("term is required")
	}
	if err := (store.Key{Term: c.Term, Department: "X"}).Validate(); err != nil {
		return fmt.Errorf("term: %w", err)
	}
	for _, department := range c.Departments {
		if _, err := pipeline.NormalizeDepartment(department); err != nil {
			return fmt.Errorf("departments: %w", err)
		}
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative")
	}
	_, err := cron.ParseStandard(c.Schedule)
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	if c.Smtp.Enabled() && len(c.Notify.To) == 0 {
		return fmt.Errorf("notify.to is required when smtp is configured")
	}
	return nil
}
