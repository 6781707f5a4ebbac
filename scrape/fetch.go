package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/utkarsh5026/fiberpool/pool"
)

// DefaultUserAgent is sent when no other user agent is configured.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_12_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/56.0.2924.87 Safari/537.36"

// DefaultRetry retries a failed request up to five times, ten seconds apart.
var DefaultRetry = pool.RetryPolicy{
	MaxAttempts:  5,
	Backoff:      pool.BackoffConstant,
	InitialDelay: 10 * time.Second,
}

// Request describes one page fetch.
//
// A request with Form or JSON set is sent as POST unless Method says
// otherwise. Charset names the encoding of the response body (a WHATWG
// label such as "big5-hkscs" or "gbk"); when empty it is taken from the
// Content-Type header or sniffed from the document.
type Request struct {
	Method  string
	URL     string
	Referer string
	Header  http.Header
	Form    url.Values
	JSON    any
	Charset string
}

// Response is a fetched page with its body decoded to UTF-8.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// FetchError is returned by Fetcher.Do once every attempt failed.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// RequestError is a local failure around the exchange: the request could
// not be built or the body could not be decoded. Another attempt fails
// the same way, so Retryable rejects it.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Fetcher performs HTTP requests with a fixed user agent and a retry
// policy. It is safe for concurrent use.
type Fetcher struct {
	client    *http.Client
	userAgent string
	retry     pool.RetryPolicy
	log       log.FieldLogger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithUserAgent overrides DefaultUserAgent.
func WithUserAgent(ua string) FetcherOption {
	return func(f *Fetcher) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// WithRetry replaces DefaultRetry. A policy without RetryIf retries
// network errors, 429 and 5xx responses only.
func WithRetry(policy pool.RetryPolicy) FetcherOption {
	return func(f *Fetcher) {
		f.retry = policy
	}
}

// WithFetchLogger sets the logger used for retry warnings.
func WithFetchLogger(l log.FieldLogger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFetcher returns a Fetcher with the given options applied.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: time.Minute},
		userAgent: DefaultUserAgent,
		retry:     DefaultRetry,
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.retry.RetryIf == nil {
		f.retry.RetryIf = Retryable
	}
	return f
}

// Retryable reports whether a failed request is worth another attempt:
// network errors, 429 and 5xx are, other statuses, local request errors
// and a cancelled context are not.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return true
}

// Do sends req, retrying according to the fetcher policy. Failures are
// returned as *FetchError.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Response, error) {
	var attempts atomic.Int32

	policy := f.retry
	userHook := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		f.log.WithFields(log.Fields{
			"url":     req.URL,
			"attempt": attempt,
		}).Warnf("request error: %v, retry after %v", err, wait)
		if userHook != nil {
			userHook(attempt, err, wait)
		}
	}

	task := pool.Retry(func(ctx context.Context) (*Response, error) {
		attempts.Add(1)
		return f.once(ctx, req)
	}, policy)

	resp, err := task(ctx)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Attempts: int(attempts.Load()), Err: err}
	}
	return resp, nil
}

func (f *Fetcher) once(ctx context.Context, req Request) (*Response, error) {
	if req.Charset != "" {
		if _, err := htmlindex.Get(req.Charset); err != nil {
			return nil, &RequestError{Op: "charset " + req.Charset, Err: err}
		}
	}
	hreq, err := f.build(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := f.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{Code: res.StatusCode}
	}

	body, err := decode(raw, req.Charset, res.Header.Get("Content-Type"))
	if err != nil {
		return nil, &RequestError{Op: "decode body", Err: err}
	}
	return &Response{
		URL:    res.Request.URL.String(),
		Status: res.StatusCode,
		Header: res.Header,
		Body:   body,
	}, nil
}

func (f *Fetcher) build(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	var body io.Reader
	var contentType string

	switch {
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, &RequestError{Op: "encode json body", Err: err}
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	hreq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &RequestError{Op: "build request", Err: err}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("User-Agent", f.userAgent)
	if contentType != "" && hreq.Header.Get("Content-Type") == "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if req.Referer != "" {
		hreq.Header.Set("Referer", req.Referer)
	}
	return hreq, nil
}

// decode converts raw to UTF-8. label wins over the Content-Type header.
func decode(raw []byte, label, contentType string) ([]byte, error) {
	if label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("charset %q: %w", label, err)
		}
		return enc.NewDecoder().Bytes(raw)
	}

	enc, name, _ := charset.DetermineEncoding(raw, contentType)
	if name == "utf-8" {
		return raw, nil
	}
	return enc.NewDecoder().Bytes(raw)
}
