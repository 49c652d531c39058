package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jp1604/judge-core/core"
)

func main() {
	var languageFlag string
	flag.StringVar(&languageFlag, "language", "", "restrict this process to a single language (default: all supported languages)")
	flag.Parse()

	languages := core.SupportedLanguages
	if languageFlag != "" {
		if !core.IsSupportedLanguage(languageFlag) {
			log.Fatalf("unsupported language %q", languageFlag)
		}
		languages = []string{languageFlag}
	}

	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logCloser, err := core.SetupLogging(cfg, "worker.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	queue := core.NewRedisJobQueue(redisClient)
	repo := core.NewPgSubmissionRepository(db)
	judge := core.NewHTTPJudgeClient(cfg.GoJudgeURL)
	metrics := core.NewPromMetrics(prometheus.DefaultRegisterer)

	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	state := core.NewHeartbeatState(workerID, hostname, len(languages))
	go state.Start(ctx, redisClient)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	reclaimInterval := 15 * time.Second
	go runReclaimer(ctx, queue, languages, reclaimInterval)
	go runQueueDepthReporter(ctx, queue, metrics, languages, 5*time.Second)

	log.Printf("worker started. id=%s languages=%v judge=%s", workerID, languages, cfg.GoJudgeURL)

	var wg sync.WaitGroup
	for _, language := range languages {
		executor, err := core.NewExecutor(language, judge, cfg.CompileTimeLimitMs)
		if err != nil {
			log.Fatalf("build executor for %s: %v", language, err)
		}

		loop := core.NewWorkerLoop(language, queue, executor, repo, state)
		loop.Metrics = metrics

		wg.Add(1)
		go func(l *core.WorkerLoop) {
			defer wg.Done()
			l.Run(ctx)
		}(loop)
	}

	wg.Wait()
}

// runReclaimer periodically moves jobs whose visibility deadline expired
// (a worker died mid-job) back onto their pending queues, per language.
func runReclaimer(ctx context.Context, queue *core.RedisJobQueue, languages []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, language := range languages {
				jobs, err := queue.RequeueExpired(ctx, language, time.Now())
				if err != nil {
					log.Printf("[reclaimer] %s requeue error: %v", language, err)
					continue
				}
				if len(jobs) > 0 {
					log.Printf("[reclaimer] requeued %d expired %s jobs", len(jobs), language)
				}
			}
		}
	}
}

// runQueueDepthReporter polls each language's pending queue length and
// publishes it to Prometheus, so judge_queue_depth reflects reality
// between scrapes instead of sitting at its zero value forever.
func runQueueDepthReporter(ctx context.Context, queue *core.RedisJobQueue, metrics *core.PromMetrics, languages []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, language := range languages {
				n, err := queue.Length(ctx, language)
				if err != nil {
					log.Printf("[queue-depth] %s length error: %v", language, err)
					continue
				}
				metrics.QueueDepth.WithLabelValues(language).Set(float64(n))
			}
		}
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics server stopped: %v", err)
	}
}
