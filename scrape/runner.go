package scrape

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/utkarsh5026/fiberpool/pool"
)

// Job is one page to scrape.
type Job struct {
	Name    string
	Request Request
}

func (j Job) label() string {
	if j.Name != "" {
		return j.Name
	}
	return j.Request.URL
}

// Extractor turns a fetched page into output rows.
type Extractor func(ctx context.Context, job Job, resp *Response) ([][]string, error)

// Progress is reported after every finished job.
type Progress struct {
	Done   int64
	Total  int64
	Failed int64
}

// Failure records a job that did not produce rows.
type Failure struct {
	Job string
	URL string
	Err error
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Total    int64
	OK       int64
	Failed   int64
	Rows     int64
	Elapsed  time.Duration
	Failures []Failure
}

// Runner drives one scrape: it pushes a task per job into its pool,
// writes the extracted rows, and stops the pool once every job ended.
// A Runner is single use, like the pool it owns.
type Runner struct {
	id       uuid.UUID
	pool     *pool.Pool
	fetcher  *Fetcher
	out      *RowWriter
	log      log.FieldLogger
	progress func(Progress)
	timeout  time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProgress registers fn to be called after every finished job. fn
// runs inside the pool completion step and must be quick.
func WithProgress(fn func(Progress)) RunnerOption {
	return func(r *Runner) { r.progress = fn }
}

// WithRunnerLogger sets the logger. The run id is added as a field.
func WithRunnerLogger(l log.FieldLogger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithJobTimeout bounds each job, fetch retries included.
func WithJobTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) { r.timeout = d }
}

// NewRunner returns a Runner using p for concurrency, f for requests and
// out for rows.
func NewRunner(p *pool.Pool, f *Fetcher, out *RowWriter, opts ...RunnerOption) *Runner {
	r := &Runner{
		id:      uuid.New(),
		pool:    p,
		fetcher: f,
		out:     out,
		log:     log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("run", r.id.String())
	return r
}

// ID returns the run id.
func (r *Runner) ID() string {
	return r.id.String()
}

// Pool returns the pool the runner pushes into.
func (r *Runner) Pool() *pool.Pool {
	return r.pool
}

// Run scrapes jobs and blocks until all of them ended or ctx is done.
// Failed jobs do not fail the run; they are listed in the summary. On
// ctx expiry the pool is stopped, the writer flushed, and a partial
// summary is returned with ctx.Err().
func (r *Runner) Run(ctx context.Context, jobs []Job, extract Extractor) (*Summary, error) {
	start := time.Now()
	total := int64(len(jobs))
	base := r.pool.Completed()
	r.log.WithField("jobs", total).Info("run started")

	var failed atomic.Int64
	sub := r.pool.Subscribe(pool.EventTaskEnded, func(e pool.Event) {
		if e.Err != nil {
			failed.Add(1)
		}
		if r.progress != nil {
			r.progress(Progress{Done: e.Completed - base, Total: total, Failed: failed.Load()})
		}
	})
	defer sub.Unsubscribe()

	drained := r.pool.NotifyWhenProcessed(base + total)
	futures := make([]*pool.Future[int], len(jobs))
	for i, job := range jobs {
		futures[i] = pool.Push(r.pool, r.task(ctx, job, extract))
	}

	var runErr error
	select {
	case <-drained:
		// the last future settles right after the drain notification
		for _, f := range futures {
			<-f.Done()
		}
	case <-ctx.Done():
		runErr = ctx.Err()
	}
	r.pool.Stop()

	if err := r.out.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush output: %w", err)
	}

	s := r.summarize(jobs, futures)
	s.Elapsed = time.Since(start)

	entry := r.log.WithFields(log.Fields{
		"ok":      s.OK,
		"failed":  s.Failed,
		"rows":    s.Rows,
		"elapsed": s.Elapsed.Round(time.Millisecond).String(),
	})
	if runErr != nil {
		entry.WithError(runErr).Warn("run interrupted")
	} else {
		entry.Info("run finished")
	}
	return s, runErr
}

func (r *Runner) task(runCtx context.Context, job Job, extract Extractor) pool.Task[int] {
	task := func(taskCtx context.Context) (int, error) {
		// cancelled by either the run or the task context
		ctx, cancel := context.WithCancel(runCtx)
		defer cancel()
		stop := context.AfterFunc(taskCtx, cancel)
		defer stop()

		resp, err := r.fetcher.Do(ctx, job.Request)
		if err != nil {
			return 0, err
		}
		rows, err := extract(ctx, job, resp)
		if err != nil {
			return 0, fmt.Errorf("extract %s: %w", job.label(), err)
		}
		if err := r.out.WriteAll(rows); err != nil {
			return 0, fmt.Errorf("write rows of %s: %w", job.label(), err)
		}
		r.log.WithFields(log.Fields{"job": job.label(), "rows": len(rows)}).Debug("job done")
		return len(rows), nil
	}

	if r.timeout > 0 {
		return pool.WithTimeout(task, r.timeout)
	}
	return task
}

func (r *Runner) summarize(jobs []Job, futures []*pool.Future[int]) *Summary {
	s := &Summary{RunID: r.ID(), Total: int64(len(jobs))}
	for i, f := range futures {
		rows, err, ready := f.TryGet()
		if !ready {
			continue
		}
		if err != nil {
			s.Failed++
			s.Failures = append(s.Failures, Failure{Job: jobs[i].label(), URL: jobs[i].Request.URL, Err: err})
			r.log.WithField("job", jobs[i].label()).WithError(err).Warn("job failed")
			continue
		}
		s.OK++
		s.Rows += int64(rows)
	}
	return s
}
