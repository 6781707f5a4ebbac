// Package config loads the fiberscrape job file.
package config

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/utkarsh5026/fiberpool/internal/algorithms"
	"github.com/utkarsh5026/fiberpool/pool"
	"github.com/utkarsh5026/fiberpool/scrape"
)

const (
	defaultName     = "fiberscrape"
	defaultCapacity = 4
	defaultOutput   = "out.csv"
)

// Environment variables that override the file.
const (
	EnvCapacity       = "FIBERSCRAPE_CAPACITY"
	EnvUserAgent      = "FIBERSCRAPE_USER_AGENT"
	EnvOutput         = "FIBERSCRAPE_OUTPUT"
	EnvMetricsAddress = "FIBERSCRAPE_METRICS_ADDRESS"
)

type Config struct {
	Name       string        `yaml:"name,omitempty" json:"name,omitempty"`
	Capacity   int           `yaml:"capacity,omitempty" json:"capacity,omitempty"`
	UserAgent  string        `yaml:"user-agent,omitempty" json:"user-agent,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Every      time.Duration `yaml:"every,omitempty" json:"every,omitempty"`
	Rate       *RateConfig   `yaml:"rate,omitempty" json:"rate,omitempty"`
	Retry      *RetryConfig  `yaml:"retry,omitempty" json:"retry,omitempty"`
	Output     *OutputConfig `yaml:"output,omitempty" json:"output,omitempty"`
	Prometheus *PromConfig   `yaml:"prometheus,omitempty" json:"prometheus,omitempty"`
	Jobs       []*JobConfig  `yaml:"jobs,omitempty" json:"jobs,omitempty"`
}

type RateConfig struct {
	PerSecond float64 `yaml:"per-second,omitempty" json:"per-second,omitempty"`
	Burst     int     `yaml:"burst,omitempty" json:"burst,omitempty"`
}

type RetryConfig struct {
	Attempts     int           `yaml:"attempts,omitempty" json:"attempts,omitempty"`
	Backoff      string        `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	InitialDelay time.Duration `yaml:"initial-delay,omitempty" json:"initial-delay,omitempty"`
	MaxDelay     time.Duration `yaml:"max-delay,omitempty" json:"max-delay,omitempty"`
	Jitter       float64       `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

type OutputConfig struct {
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	Format   string `yaml:"format,omitempty" json:"format,omitempty"`
	Encoding string `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	BOM      bool   `yaml:"bom,omitempty" json:"bom,omitempty"`
	CRLF     bool   `yaml:"crlf,omitempty" json:"crlf,omitempty"`
	// nil keeps the writer default "-"
	Placeholder *string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

type PromConfig struct {
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
}

type JobConfig struct {
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	URL     string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method  string            `yaml:"method,omitempty" json:"method,omitempty"`
	Referer string            `yaml:"referer,omitempty" json:"referer,omitempty"`
	Charset string            `yaml:"charset,omitempty" json:"charset,omitempty"`
	Header  map[string]string `yaml:"header,omitempty" json:"header,omitempty"`
	Form    map[string]string `yaml:"form,omitempty" json:"form,omitempty"`
}

// New reads file, applies environment overrides and defaults.
func New(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse is New for an in-memory document.
func Parse(b []byte) (*Config, error) {
	c := new(Config)
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	err := c.validateSetDefaults()
	return c, err
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvCapacity); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		c.Capacity = n
	}
	if v, ok := os.LookupEnv(EnvUserAgent); ok {
		c.UserAgent = v
	}
	if v, ok := os.LookupEnv(EnvOutput); ok {
		if c.Output == nil {
			c.Output = new(OutputConfig)
		}
		c.Output.Path = v
	}
	if v, ok := os.LookupEnv(EnvMetricsAddress); ok {
		c.Prometheus = &PromConfig{Address: v}
	}
	return nil
}

func (c *Config) validateSetDefaults() error {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Capacity < 0 {
		return fmt.Errorf("capacity must be positive, got %d", c.Capacity)
	}
	if c.Capacity == 0 {
		c.Capacity = defaultCapacity
	}
	if c.Timeout < 0 || c.Every < 0 {
		return errors.New("timeout and every must not be negative")
	}
	if c.UserAgent == "" {
		c.UserAgent = scrape.DefaultUserAgent
	}

	if c.Rate != nil {
		if c.Rate.PerSecond <= 0 {
			return errors.New("rate per-second must be positive")
		}
		if c.Rate.Burst <= 0 {
			c.Rate.Burst = 1
		}
	}

	if c.Retry == nil {
		c.Retry = new(RetryConfig)
	}
	if c.Retry.Attempts <= 0 {
		c.Retry.Attempts = scrape.DefaultRetry.MaxAttempts
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = scrape.DefaultRetry.InitialDelay
	}
	if _, ok := algorithms.ParseKind(c.Retry.Backoff); !ok {
		return fmt.Errorf("unknown retry backoff %q", c.Retry.Backoff)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return errors.New("retry jitter must be between 0 and 1")
	}

	if c.Output == nil {
		c.Output = new(OutputConfig)
	}
	if c.Output.Path == "" {
		c.Output.Path = defaultOutput
	}
	if _, err := scrape.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if _, err := scrape.ParseEncoding(c.Output.Encoding); err != nil {
		return err
	}

	if len(c.Jobs) == 0 {
		return errors.New("at least one job is required")
	}
	for i, j := range c.Jobs {
		if j == nil || j.URL == "" {
			return fmt.Errorf("job %d: url is required", i)
		}
		u, err := url.Parse(j.URL)
		if err != nil {
			return fmt.Errorf("job %d: %w", i, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("job %d: unsupported scheme %q", i, u.Scheme)
		}
		if j.Charset != "" {
			if _, err := htmlindex.Get(j.Charset); err != nil {
				return fmt.Errorf("job %d: unknown charset %q", i, j.Charset)
			}
		}
	}
	return nil
}

// PoolOptions returns the pool options described by the file.
func (c *Config) PoolOptions() []pool.Option {
	opts := []pool.Option{pool.WithName(c.Name)}
	if c.Rate != nil {
		opts = append(opts, pool.WithRateLimit(c.Rate.PerSecond, c.Rate.Burst))
	}
	return opts
}

// RetryPolicy returns the per-request retry policy.
func (c *Config) RetryPolicy() pool.RetryPolicy {
	kind, _ := algorithms.ParseKind(c.Retry.Backoff)
	return pool.RetryPolicy{
		MaxAttempts:  c.Retry.Attempts,
		Backoff:      kind,
		InitialDelay: c.Retry.InitialDelay,
		MaxDelay:     c.Retry.MaxDelay,
		JitterFactor: c.Retry.Jitter,
	}
}

// WriterOptions returns the row writer options. The format and encoding
// were validated by New.
func (c *Config) WriterOptions() []scrape.RowWriterOption {
	format, _ := scrape.ParseFormat(c.Output.Format)
	encoding, _ := scrape.ParseEncoding(c.Output.Encoding)
	opts := []scrape.RowWriterOption{
		scrape.WithFormat(format),
		scrape.WithEncoding(encoding),
		scrape.WithBOM(c.Output.BOM),
		scrape.WithCRLF(c.Output.CRLF),
	}
	if c.Output.Placeholder != nil {
		opts = append(opts, scrape.WithPlaceholder(*c.Output.Placeholder))
	}
	return opts
}

// OutputPath returns the output file path. Scheduled runs get the start
// time inserted before the extension so they do not overwrite each other.
func (c *Config) OutputPath(start time.Time) string {
	if c.Every == 0 {
		return c.Output.Path
	}
	ext := filepath.Ext(c.Output.Path)
	base := strings.TrimSuffix(c.Output.Path, ext)
	return base + "-" + start.UTC().Format("20060102T150405") + ext
}

// ScrapeJobs converts the job list.
func (c *Config) ScrapeJobs() []scrape.Job {
	jobs := make([]scrape.Job, 0, len(c.Jobs))
	for _, j := range c.Jobs {
		req := scrape.Request{
			Method:  j.Method,
			URL:     j.URL,
			Referer: j.Referer,
			Charset: j.Charset,
		}
		if len(j.Header) > 0 {
			req.Header = make(http.Header, len(j.Header))
			for k, v := range j.Header {
				req.Header.Set(k, v)
			}
		}
		if len(j.Form) > 0 {
			req.Form = make(url.Values, len(j.Form))
			for k, v := range j.Form {
				req.Form.Set(k, v)
			}
		}
		jobs = append(jobs, scrape.Job{Name: j.Name, Request: req})
	}
	return jobs
}
