package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/utkarsh5026/fiberpool/pool"
)

func titleExtractor(ctx context.Context, job Job, resp *Response) ([][]string, error) {
	doc, err := Document(resp.Body)
	if err != nil {
		return nil, err
	}
	return [][]string{{job.Name, Title(doc)}}, nil
}

func siteServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		case r.URL.Path == "/slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		default:
			fmt.Fprintf(w, "<title>page %s</title>", strings.TrimPrefix(r.URL.Path, "/"))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRunner(t *testing.T, capacity int, buf *bytes.Buffer, opts ...RunnerOption) *Runner {
	t.Helper()
	logger, _ := test.NewNullLogger()

	p, err := pool.New(capacity, pool.WithLogger(logger))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(p.Stop)

	out, err := NewRowWriter(buf, WithQuoteAll(false))
	if err != nil {
		t.Fatal(err)
	}
	f := NewFetcher(fastRetry(1), WithFetchLogger(logger))
	return NewRunner(p, f, out, append([]RunnerOption{WithRunnerLogger(logger)}, opts...)...)
}

func TestRunner_Run(t *testing.T) {
	srv := siteServer(t)

	var mu sync.Mutex
	var progress []Progress
	var buf bytes.Buffer
	r := newRunner(t, 2, &buf, WithProgress(func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	}))

	var jobs []Job
	for i := range 6 {
		jobs = append(jobs, Job{Name: fmt.Sprintf("job%d", i), Request: Request{URL: fmt.Sprintf("%s/%d", srv.URL, i)}})
	}
	jobs = append(jobs, Job{Name: "broken", Request: Request{URL: srv.URL + "/missing"}})

	s, err := r.Run(context.Background(), jobs, titleExtractor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.RunID != r.ID() || s.RunID == "" {
		t.Errorf("summary run id %q, runner id %q", s.RunID, r.ID())
	}
	if s.Total != 7 || s.OK != 6 || s.Failed != 1 || s.Rows != 6 {
		t.Errorf("unexpected summary %+v", s)
	}
	if len(s.Failures) != 1 || s.Failures[0].Job != "broken" {
		t.Fatalf("unexpected failures %+v", s.Failures)
	}
	var fe *FetchError
	if !errors.As(s.Failures[0].Err, &fe) {
		t.Errorf("failure should carry a *FetchError, got %v", s.Failures[0].Err)
	}

	if !r.Pool().Stopped() {
		t.Error("pool should be stopped after the run")
	}
	if got := r.Pool().Stats().MaxInFlight; got > 2 {
		t.Errorf("more than 2 concurrent fetches: %d", got)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 output rows, got %d: %q", len(lines), buf.String())
	}
	for _, l := range lines {
		if !strings.HasPrefix(l, "job") || !strings.Contains(l, ",page ") {
			t.Errorf("unexpected row %q", l)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) != 7 {
		t.Fatalf("expected 7 progress reports, got %d", len(progress))
	}
	last := progress[len(progress)-1]
	if last.Done != 7 || last.Total != 7 || last.Failed != 1 {
		t.Errorf("last progress %+v", last)
	}
}

func TestRunner_ExtractorError(t *testing.T) {
	srv := siteServer(t)
	var buf bytes.Buffer
	r := newRunner(t, 1, &buf)

	errParse := errors.New("no table")
	s, err := r.Run(context.Background(), []Job{{Request: Request{URL: srv.URL + "/1"}}},
		func(ctx context.Context, job Job, resp *Response) ([][]string, error) {
			return nil, errParse
		})
	if err != nil {
		t.Fatal(err)
	}
	if s.Failed != 1 || !errors.Is(s.Failures[0].Err, errParse) {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.Failures[0].Job != srv.URL+"/1" {
		t.Errorf("unnamed job should be labelled by its url, got %q", s.Failures[0].Job)
	}
}

func TestRunner_JobTimeout(t *testing.T) {
	srv := siteServer(t)
	var buf bytes.Buffer
	r := newRunner(t, 1, &buf, WithJobTimeout(50*time.Millisecond))

	start := time.Now()
	s, err := r.Run(context.Background(), []Job{{Name: "slow", Request: Request{URL: srv.URL + "/slow"}}}, titleExtractor)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("job timeout was not applied")
	}
	if s.Failed != 1 || !errors.Is(s.Failures[0].Err, pool.ErrTaskTimeout) {
		t.Errorf("expected a timeout failure, got %+v", s.Failures)
	}
}

func TestRunner_ContextCancelled(t *testing.T) {
	srv := siteServer(t)
	var buf bytes.Buffer
	r := newRunner(t, 1, &buf)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	jobs := []Job{
		{Name: "slow", Request: Request{URL: srv.URL + "/slow"}},
		{Name: "queued", Request: Request{URL: srv.URL + "/1"}},
	}
	s, err := r.Run(ctx, jobs, titleExtractor)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	if s == nil || s.Total != 2 || s.OK != 0 {
		t.Errorf("unexpected partial summary %+v", s)
	}
	if !r.Pool().Stopped() {
		t.Error("pool should be stopped after cancellation")
	}
}

func TestRunner_NoJobs(t *testing.T) {
	var buf bytes.Buffer
	r := newRunner(t, 1, &buf)

	s, err := r.Run(context.Background(), nil, titleExtractor)
	if err != nil || s.Total != 0 {
		t.Errorf("unexpected result %+v, %v", s, err)
	}
}
