package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/utkarsh5026/fiberpool/pool"
)

func fastRetry(attempts int) FetcherOption {
	return WithRetry(pool.RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond})
}

func quietFetcher(opts ...FetcherOption) *Fetcher {
	logger, _ := test.NewNullLogger()
	return NewFetcher(append([]FetcherOption{WithFetchLogger(logger)}, opts...)...)
}

func TestFetcher_Get(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("unexpected user agent %q", ua)
		}
		if ref := r.Header.Get("Referer"); ref != "http://example.test/list" {
			t.Errorf("unexpected referer %q", ref)
		}
		if r.Header.Get("X-Token") != "abc" {
			t.Errorf("extra header missing")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<title>ok</title>")
	}))
	defer srv.Close()

	resp, err := quietFetcher().Do(context.Background(), Request{
		URL:     srv.URL,
		Referer: "http://example.test/list",
		Header:  http.Header{"X-Token": {"abc"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Status != http.StatusOK || string(resp.Body) != "<title>ok</title>" {
		t.Errorf("unexpected response: %d %q", resp.Status, resp.Body)
	}
}

func TestFetcher_PostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		io.WriteString(w, r.PostForm.Get("estateId")+"/"+r.PostForm.Get("page"))
	}))
	defer srv.Close()

	resp, err := quietFetcher(WithUserAgent("fiberscrape-test")).Do(context.Background(), Request{
		URL:  srv.URL,
		Form: url.Values{"estateId": {"E00123"}, "page": {"2"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "E00123/2" {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestFetcher_PostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		b, _ := io.ReadAll(r.Body)
		w.Write(b)
	}))
	defer srv.Close()

	resp, err := quietFetcher().Do(context.Background(), Request{
		URL:  srv.URL,
		JSON: map[string]int{"page": 3},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != `{"page":3}` {
		t.Errorf("unexpected body %q", resp.Body)
	}
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, "done")
	}))
	defer srv.Close()

	logger, hook := test.NewNullLogger()
	f := NewFetcher(fastRetry(5), WithFetchLogger(logger))

	resp, err := f.Do(context.Background(), Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "done" || hits.Load() != 3 {
		t.Errorf("expected success on the third hit, body=%q hits=%d", resp.Body, hits.Load())
	}
	if n := len(hook.AllEntries()); n != 2 {
		t.Errorf("expected 2 retry warnings, got %d", n)
	}
}

func TestFetcher_GivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := quietFetcher(fastRetry(3)).Do(context.Background(), Request{URL: srv.URL})

	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *FetchError, got %v", err)
	}
	if fe.Attempts != 3 || hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d (hits %d)", fe.Attempts, hits.Load())
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Errorf("expected wrapped 502 status error, got %v", err)
	}
}

func TestFetcher_ClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := quietFetcher(fastRetry(5)).Do(context.Background(), Request{URL: srv.URL})

	var fe *FetchError
	if !errors.As(err, &fe) || fe.Attempts != 1 {
		t.Fatalf("expected one attempt, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("404 was retried, hits=%d", hits.Load())
	}
}

func TestFetcher_Charset(t *testing.T) {
	big5, err := traditionalchinese.Big5.NewEncoder().String("成交日期")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("explicit label", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, big5)
		}))
		defer srv.Close()

		resp, err := quietFetcher().Do(context.Background(), Request{URL: srv.URL, Charset: "big5-hkscs"})
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "成交日期" {
			t.Errorf("decoded body = %q", resp.Body)
		}
	})

	t.Run("content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=big5")
			io.WriteString(w, big5)
		}))
		defer srv.Close()

		resp, err := quietFetcher().Do(context.Background(), Request{URL: srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if string(resp.Body) != "成交日期" {
			t.Errorf("decoded body = %q", resp.Body)
		}
	})

	t.Run("unknown label", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			io.WriteString(w, "x")
		}))
		defer srv.Close()

		_, err := quietFetcher(fastRetry(5)).Do(context.Background(), Request{URL: srv.URL, Charset: "klingon"})
		var re *RequestError
		if !errors.As(err, &re) {
			t.Fatalf("expected *RequestError, got %v", err)
		}
		var fe *FetchError
		if !errors.As(err, &fe) || fe.Attempts != 1 {
			t.Errorf("unknown charset should not be retried, got %v", err)
		}
		if hits.Load() != 0 {
			t.Errorf("unknown charset should fail before the request, server hits=%d", hits.Load())
		}
	})
}

func TestFetcher_LocalErrorsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name string
		req  Request
	}{
		{"json body cannot be encoded", Request{URL: srv.URL, JSON: make(chan int)}},
		{"invalid method", Request{URL: srv.URL, Method: "BAD METHOD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := quietFetcher(fastRetry(5)).Do(context.Background(), tt.req)
			var fe *FetchError
			if !errors.As(err, &fe) {
				t.Fatalf("expected *FetchError, got %v", err)
			}
			if fe.Attempts != 1 {
				t.Errorf("expected 1 attempt, got %d", fe.Attempts)
			}
			var re *RequestError
			if !errors.As(err, &re) {
				t.Errorf("expected *RequestError in the chain, got %v", err)
			}
		})
	}
	if hits.Load() != 0 {
		t.Errorf("local errors should never reach the server, hits=%d", hits.Load())
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 500}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 403}, false},
		{context.Canceled, false},
		{errors.New("connection reset"), true},
		{&RequestError{Op: "decode body", Err: errors.New("bad utf-16")}, false},
		{fmt.Errorf("attempt: %w", &RequestError{Op: "build request", Err: errors.New("bad url")}), false},
	}
	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
