// Command lmeterx-runner is the Swarm Controller's process entrypoint
// (spec.md §4.7, §6 "Subprocess command-line contract"): the Process
// Supervisor execs one of these per claimed job (and a second one, in
// --warmup_mode, before the main run). It parses the stable flag/env
// contract, builds the virtual-user pool, runs it to completion or until
// signalled to stop, and writes the result-file contract the Task
// Pipeline reads back. Grounded on bc-dunia-mcpdrill's cmd/worker/main.go
// (flag parsing, signal-driven graceful stop, final-report-on-exit
// shape).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/dataset"
	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/metricbus"
	"github.com/lmeterx/stress-engine/internal/otelobs"
	"github.com/lmeterx/stress-engine/internal/realtime"
	"github.com/lmeterx/stress-engine/internal/respproc"
	"github.com/lmeterx/stress-engine/internal/swarm"
)

type runnerFlags struct {
	taskID string
	host   string

	users       int
	spawnRate   float64
	runTime     string
	stopTimeout int
	duration    int

	headless    bool
	onlySummary bool

	apiPath string
	headers string
	cookies string
	method  string

	modelName      string
	apiType        string
	streamMode     bool
	chatType       int
	requestPayload string
	fieldMapping   string
	testData       string
	datasetFile    string
	requestBody    string
	certFile       string
	keyFile        string
	warmupMode     bool

	processes int
	tempRoot  string
}

func parseFlags() runnerFlags {
	var f runnerFlags
	flag.StringVar(&f.taskID, "task-id", "", "job identifier")
	flag.StringVar(&f.host, "host", "", "target host, e.g. https://api.example.com")
	flag.IntVar(&f.users, "users", 1, "target concurrent users")
	flag.Float64Var(&f.spawnRate, "spawn-rate", 1, "users spawned per second while ramping")
	flag.StringVar(&f.runTime, "run-time", "", "fixed-mode run duration, e.g. 60s")
	flag.IntVar(&f.stopTimeout, "stop-timeout", int(config.DefaultStopTimeout.Seconds()), "graceful-stop drain budget in seconds")
	flag.IntVar(&f.duration, "duration", 0, "run duration in seconds")
	flag.BoolVar(&f.headless, "headless", true, "run without the Locust web UI")
	flag.BoolVar(&f.onlySummary, "only-summary", true, "suppress per-request console logging")
	flag.StringVar(&f.apiPath, "api_path", "", "path appended to host")
	flag.StringVar(&f.headers, "headers", "", "JSON object of request headers")
	flag.StringVar(&f.cookies, "cookies", "", "JSON object of request cookies")
	flag.StringVar(&f.method, "method", "POST", "HTTP method")
	flag.StringVar(&f.modelName, "model_name", "", "model name substituted into the request template")
	flag.StringVar(&f.apiType, "api_type", "", "openai-chat | claude-chat | embeddings | custom")
	flag.BoolVar(&f.streamMode, "stream_mode", false, "request a streamed response")
	flag.IntVar(&f.chatType, "chat_type", 0, "0=text 1=image+text 2=vision")
	flag.StringVar(&f.requestPayload, "request_payload", "", "JSON or raw-text request template")
	flag.StringVar(&f.fieldMapping, "field_mapping", "", "JSON field-mapping override")
	flag.StringVar(&f.testData, "test_data", "", "inline dataset content, or 'default'")
	flag.StringVar(&f.datasetFile, "dataset_file", "", "path to a dataset file on disk")
	flag.StringVar(&f.requestBody, "request_body", "", "request template for non-LLM jobs")
	flag.StringVar(&f.certFile, "cert_file", "", "client certificate for mTLS")
	flag.StringVar(&f.keyFile, "key_file", "", "client key for mTLS")
	flag.BoolVar(&f.warmupMode, "warmup_mode", false, "skip token-stat collection")
	flag.IntVar(&f.processes, "processes", 0, "worker process fan-out hint (unused by this single-process runner)")
	flag.StringVar(&f.tempRoot, "temp-root", "/tmp", "root directory for locust_result artifacts")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.taskID == "" || f.host == "" {
		fmt.Fprintln(os.Stderr, "runner: --task-id and --host are required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// The Process Supervisor forwards its own environment (including
	// OTEL_EXPORTER_OTLP_ENDPOINT, if the engine was started with one) to
	// this subprocess, so a single export target configures both
	// processes' telemetry.
	shutdown, err := otelobs.Setup(ctx, otelobs.Config{
		ServiceName:  "lmeterx-stress-engine-runner",
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "runner: otel setup: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(shutdownCtx)
	}()

	if err := run(ctx, f); err != nil {
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f runnerFlags) error {
	headers := decodeStringMap(f.headers)
	cookies := decodeStringMap(f.cookies)

	template := []byte(f.requestPayload)
	if len(template) == 0 {
		template = []byte(f.requestBody)
	}

	flavor := fieldmap.Flavor(f.apiType)
	override, err := fieldmap.ParseOverride([]byte(f.fieldMapping))
	if err != nil {
		return fmt.Errorf("parse field_mapping: %w", err)
	}
	mapping := fieldmap.ResolveWithOverride(flavor, f.streamMode, override)

	queue, err := loadQueue(f)
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	cfg := config.DefaultEngineConfig()
	client, err := respproc.BuildHTTPClient(cfg, f.certFile, f.keyFile)
	if err != nil {
		return fmt.Errorf("build http client: %w", err)
	}

	bus := metricbus.NewBus()
	var contentAcc contentLengthAccumulator
	bus.AddRecorder(&contentAcc)
	bus.AddRecorder(otelobs.NewMetricRecorder(context.Background(), otelobs.GlobalInstruments()))

	vucfg := swarm.VUConfig{
		TaskID:     f.taskID,
		Method:     f.method,
		URL:        f.host + f.apiPath,
		Headers:    headers,
		Cookies:    cookies,
		Template:   template,
		Flavor:     flavor,
		Mapping:    mapping,
		Model:      f.modelName,
		Stream:     f.streamMode,
		Queue:      queue,
		Client:     client,
		Bus:        bus,
		WarmupMode: f.warmupMode,
	}

	shape, err := buildShape(f)
	if err != nil {
		return err
	}

	engine := swarm.NewEngine(vucfg, shape)

	sampler, err := realtime.NewSampler(f.tempRoot, f.taskID, engine, bus)
	if err != nil {
		return fmt.Errorf("start realtime sampler: %w", err)
	}

	start := time.Now()
	engine.Start(ctx)
	sampler.Start(ctx)

	waitForStopOrSignal(ctx, f, engine)
	sampler.Stop()
	elapsed := time.Since(start).Seconds()

	return writeResultFile(f, engine, bus, &contentAcc, elapsed)
}

// waitForStopOrSignal blocks until the LoadShape finishes on its own or
// ctx is cancelled by SIGTERM/SIGINT, in which case it asks the Engine
// to drain within the configured stop-timeout budget (spec.md §4.7
// "Stop" / §5 "cancellation & timeouts").
func waitForStopOrSignal(ctx context.Context, f runnerFlags, engine *swarm.Engine) {
	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Duration(f.stopTimeout)*time.Second)
		defer cancel()
		_ = engine.Stop(stopCtx)
		<-done
	}
}

func buildShape(f runnerFlags) (swarm.LoadShape, error) {
	loadMode := os.Getenv("LOAD_MODE")
	if loadMode == "stepped" {
		return &swarm.SteppedShape{
			StartUsers:          envInt("STEP_START_USERS", 1),
			Increment:           envInt("STEP_INCREMENT", 1),
			StepDurationSeconds: float64(envInt("STEP_DURATION", 10)),
			MaxUsers:            envInt("STEP_MAX_USERS", f.users),
			SustainSeconds:      float64(envInt("STEP_SUSTAIN_DURATION", 0)),
			Rate:                f.spawnRate,
		}, nil
	}

	durationSeconds := float64(f.duration)
	if f.runTime != "" {
		if d, err := time.ParseDuration(f.runTime); err == nil {
			durationSeconds = d.Seconds()
		}
	}
	return &swarm.FixedShape{
		Users:           f.users,
		Rate:            f.spawnRate,
		DurationSeconds: durationSeconds,
	}, nil
}

func loadQueue(f runnerFlags) (*dataset.Queue, error) {
	path := f.datasetFile
	var inline []byte
	if path == "" {
		if f.testData == "" {
			return nil, nil
		}
		path = f.testData
	}
	if path != dataset.DefaultSentinel {
		if data, err := os.ReadFile(path); err == nil {
			inline = data
		} else if path == f.testData {
			// --test_data may carry the dataset content itself.
			inline = []byte(path)
		}
	}
	return dataset.Load(path, inline, dataset.ChatType(f.chatType))
}

func decodeStringMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// contentLengthAccumulator tracks the mean response content length across
// Total_time fires (spec.md §6 result-file contract's avg_content_length),
// a dimension metricbus.Stats does not itself carry.
type contentLengthAccumulator struct {
	mu    sync.Mutex
	count int64
	sum   int64
}

func (c *contentLengthAccumulator) Record(name string, valueMs float64, contentLength int) {
	if name != respproc.MetricTotalTime {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	c.sum += int64(contentLength)
}

func (c *contentLengthAccumulator) average() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return 0
	}
	return float64(c.sum) / float64(c.count)
}

// resultFile, metricStats and locustStatRow mirror the Task Pipeline's
// internal/pipeline.resultFile type field-for-field: the two processes
// only share a JSON wire contract (spec.md §6), not a Go type.
type resultFile struct {
	CustomMetrics map[string]metricStats `json:"custom_metrics"`
	LocustStats   []locustStatRow        `json:"locust_stats"`
}

type metricStats struct {
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

type locustStatRow struct {
	TaskID           string  `json:"task_id"`
	MetricType       string  `json:"metric_type"`
	NumRequests      int64   `json:"num_requests"`
	NumFailures      int64   `json:"num_failures"`
	AvgLatency       float64 `json:"avg_latency"`
	MinLatency       float64 `json:"min_latency"`
	MaxLatency       float64 `json:"max_latency"`
	MedianLatency    float64 `json:"median_latency"`
	P95Latency       float64 `json:"p95_latency"`
	RPS              float64 `json:"rps"`
	AvgContentLength float64 `json:"avg_content_length"`
}

func writeResultFile(f runnerFlags, engine *swarm.Engine, bus *metricbus.Bus, contentAcc *contentLengthAccumulator, elapsedSeconds float64) error {
	if f.warmupMode {
		// Warmup runs exist only to prime downstream caches; the Task
		// Pipeline never reads a warmup run's result file.
		return nil
	}

	totalTime := bus.Snapshot(respproc.MetricTotalTime)
	reqs := engine.TotalRequests()
	fails := engine.TotalFailures()

	rps := 0.0
	if elapsedSeconds > 0 {
		rps = float64(reqs) / elapsedSeconds
	}

	rf := resultFile{
		CustomMetrics: make(map[string]metricStats),
		LocustStats: []locustStatRow{{
			TaskID:           f.taskID,
			MetricType:       "default",
			NumRequests:      reqs,
			NumFailures:      fails,
			AvgLatency:       totalTime.Mean,
			MinLatency:       totalTime.Min,
			MaxLatency:       totalTime.Max,
			MedianLatency:    totalTime.Median,
			P95Latency:       totalTime.P95,
			RPS:              rps,
			AvgContentLength: contentAcc.average(),
		}},
	}

	for _, name := range bus.Names() {
		s := bus.Snapshot(name)
		rf.CustomMetrics[name] = metricStats{
			Count: s.Count, Mean: s.Mean, Min: s.Min, Max: s.Max, Median: s.Median, P95: s.P95,
		}
	}

	dir := filepath.Join(f.tempRoot, "locust_result", f.taskID)
	if err := os.MkdirAll(dir, config.DefaultRealtimeDirPerms); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	data, err := json.Marshal(rf)
	if err != nil {
		return fmt.Errorf("marshal result file: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, "result.json"), data, 0o644)
}
