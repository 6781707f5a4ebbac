package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/utkarsh5026/fiberpool/internal/config"
	"github.com/utkarsh5026/fiberpool/internal/limits"
	"github.com/utkarsh5026/fiberpool/metrics"
	"github.com/utkarsh5026/fiberpool/pool"
	"github.com/utkarsh5026/fiberpool/scrape"
)

const metricsNamespace = "fiberscrape"

type runOptions struct {
	configFile  string
	capacity    int
	output      string
	metricsAddr string
	every       time.Duration
	timeout     time.Duration
	noProgress  bool
}

func newRunCommand() *cobra.Command {
	o := &runOptions{}
	return o.command()
}

func (o *runOptions) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every job of a job file",
		Example: `  fiberscrape run -c jobs.yaml
  fiberscrape run -c jobs.yaml --capacity 8 --output pages.tsv
  fiberscrape run -c jobs.yaml --every 1h --metrics-address :9108`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(o.configFile)
			if err != nil {
				return fmt.Errorf("config %s: %w", o.configFile, err)
			}
			if err := o.apply(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return execute(ctx, cfg, cmd.OutOrStdout(), !o.noProgress)
		},
	}

	cmd.Flags().StringVarP(&o.configFile, "config", "c", "jobs.yaml", "job file")
	cmd.Flags().IntVar(&o.capacity, "capacity", 0, "maximum concurrent requests, overrides the file")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file, overrides the file")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-address", "", "serve /metrics and /status on this address")
	cmd.Flags().DurationVar(&o.every, "every", 0, "repeat the run at this interval")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "per-job timeout, overrides the file")
	cmd.Flags().BoolVar(&o.noProgress, "no-progress", false, "hide the progress bar")
	return cmd
}

// apply copies the flags that were set on the command line into cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("capacity") {
		if o.capacity < 1 {
			return fmt.Errorf("--capacity must be at least 1, got %d", o.capacity)
		}
		cfg.Capacity = o.capacity
	}
	if flags.Changed("output") {
		cfg.Output.Path = o.output
	}
	if flags.Changed("metrics-address") {
		cfg.Prometheus = &config.PromConfig{Address: o.metricsAddr}
	}
	if flags.Changed("every") {
		cfg.Every = o.every
	}
	if flags.Changed("timeout") {
		cfg.Timeout = o.timeout
	}

	if capped, lowered := limits.CapCapacity(cfg.Capacity); lowered {
		log.Warnf("capacity %d exceeds the open file limit, using %d", cfg.Capacity, capped)
		cfg.Capacity = capped
	}
	return nil
}

// execute runs the job file once, or on a schedule when cfg.Every is set,
// until ctx is done.
func execute(ctx context.Context, cfg *config.Config, w io.Writer, progress bool) error {
	var current atomic.Pointer[pool.Pool]
	var reg *prometheus.Registry

	if cfg.Prometheus != nil && cfg.Prometheus.Address != "" {
		reg = metrics.NewRegistry()
		srv := newStatusServer(cfg.Prometheus.Address, reg, &current)
		go srv.serve()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.shutdown(sctx); err != nil {
				log.Warnf("metrics server shutdown: %v", err)
			}
		}()
	}

	if cfg.Every <= 0 {
		_, err := runOnce(ctx, cfg, reg, &current, w, progress)
		return err
	}

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	_, err := s.Every(cfg.Every).Do(func() {
		if _, err := runOnce(ctx, cfg, reg, &current, w, progress); err != nil {
			log.Errorf("scheduled run: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule every %v: %w", cfg.Every, err)
	}

	log.Infof("running every %v, interrupt to stop", cfg.Every)
	s.StartAsync()
	<-ctx.Done()
	s.Stop()
	return nil
}

// runOnce builds a fresh pool, fetcher and output file for one pass over
// the jobs.
func runOnce(ctx context.Context, cfg *config.Config, reg *prometheus.Registry, current *atomic.Pointer[pool.Pool], w io.Writer, progress bool) (*scrape.Summary, error) {
	start := time.Now()
	logger := log.StandardLogger()

	opts := append(cfg.PoolOptions(), pool.WithContext(ctx), pool.WithLogger(logger))
	p, err := pool.New(cfg.Capacity, opts...)
	if err != nil {
		return nil, err
	}
	defer p.Stop()

	if reg != nil {
		c := metrics.NewCollector(p, metricsNamespace, cfg.Name)
		if err := c.Register(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		defer reg.Unregister(c)
		defer c.Close()
	}
	current.Store(p)
	defer current.CompareAndSwap(p, nil)

	path := cfg.OutputPath(start)
	out, err := scrape.CreateFile(path, cfg.WriterOptions()...)
	if err != nil {
		return nil, err
	}
	defer out.Close()
	if err := out.WriteHeader(surveyHeader...); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	fetcher := scrape.NewFetcher(
		scrape.WithUserAgent(cfg.UserAgent),
		scrape.WithRetry(cfg.RetryPolicy()),
		scrape.WithFetchLogger(logger),
	)

	jobs := cfg.ScrapeJobs()
	bar := newProgressBar(len(jobs), progress)
	runner := scrape.NewRunner(p, fetcher, out,
		scrape.WithRunnerLogger(logger),
		scrape.WithJobTimeout(cfg.Timeout),
		scrape.WithProgress(func(scrape.Progress) { _ = bar.Add(1) }),
	)

	summary, runErr := runner.Run(ctx, jobs, surveyExtractor)
	_ = bar.Finish()

	if err := out.Close(); err != nil && runErr == nil {
		runErr = fmt.Errorf("close %s: %w", path, err)
	}
	renderSummary(w, summary, path)
	return summary, runErr
}
