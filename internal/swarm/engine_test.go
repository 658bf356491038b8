package swarm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lmeterx/stress-engine/internal/config"
	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/metricbus"
	"github.com/lmeterx/stress-engine/internal/respproc"
)

func TestEngineRampsToTargetAndFiresRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`))
	}))
	defer srv.Close()

	client, err := respproc.BuildHTTPClient(config.DefaultEngineConfig(), "", "")
	if err != nil {
		t.Fatalf("BuildHTTPClient: %v", err)
	}

	bus := metricbus.NewBus()
	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, false)

	cfg := VUConfig{
		TaskID:   "t1",
		Method:   "POST",
		URL:      srv.URL,
		Template: []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`),
		Flavor:   fieldmap.FlavorOpenAIChat,
		Mapping:  mapping,
		Model:    "m",
		Stream:   false,
		Client:   client,
		Bus:      bus,
	}

	shape := &FixedShape{Users: 3, Rate: 50, DurationSeconds: 0.3}
	e := NewEngine(cfg, shape)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.ActiveUsers() >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if e.ActiveUsers() < 3 {
		t.Fatalf("ActiveUsers() = %d, want >= 3 before stop", e.ActiveUsers())
	}

	e.Wait()

	if e.TotalRequests() == 0 {
		t.Fatalf("expected at least one request to have been fired")
	}
	stats := e.TokenStats()
	if stats.Reqs == 0 || stats.CompletionTokens == 0 {
		t.Fatalf("expected non-zero token stats, got %+v", stats)
	}
	if e.ActiveUsers() != 0 {
		t.Fatalf("ActiveUsers() after Wait() = %d, want 0", e.ActiveUsers())
	}
}

func TestEngineStopCutsRunShort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	client, err := respproc.BuildHTTPClient(config.DefaultEngineConfig(), "", "")
	if err != nil {
		t.Fatalf("BuildHTTPClient: %v", err)
	}

	bus := metricbus.NewBus()
	mapping := fieldmap.Resolve(fieldmap.FlavorOpenAIChat, false)
	cfg := VUConfig{
		TaskID:   "t2",
		Method:   "POST",
		URL:      srv.URL,
		Template: []byte(`{"model":"m","messages":[{"role":"user","content":"hi"}]}`),
		Flavor:   fieldmap.FlavorOpenAIChat,
		Mapping:  mapping,
		Client:   client,
		Bus:      bus,
	}

	// DurationSeconds large enough that the shape would not stop on its own
	// within the test window; Stop() must cut it short instead.
	shape := &FixedShape{Users: 2, Rate: 50, DurationSeconds: 120}
	e := NewEngine(cfg, shape)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.Start(ctx)

	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if e.ActiveUsers() != 0 {
		t.Fatalf("ActiveUsers() after Stop() = %d, want 0", e.ActiveUsers())
	}
}
