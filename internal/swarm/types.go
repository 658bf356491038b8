package swarm

import (
	"net/http"

	"github.com/lmeterx/stress-engine/internal/dataset"
	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/metricbus"
)

// VUConfig is the immutable per-run configuration shared by every virtual
// user the Engine spawns. Built once by the Task Pipeline from the job
// row and passed by value, the way mcpdrill's vu.VUConfig is built once
// per assignment.
type VUConfig struct {
	TaskID  string
	Method  string
	URL     string
	Headers map[string]string
	Cookies map[string]string

	Template []byte
	Flavor   fieldmap.Flavor
	Mapping  fieldmap.Mapping
	Model    string
	Stream   bool

	// Queue is nil for jobs with no dataset file; Build then sends the
	// template verbatim (spec.md §4.2 "no dataset -> replay the template").
	Queue *dataset.Queue

	Client *http.Client
	Bus    *metricbus.Bus

	// WarmupMode mirrors the runner's --warmup_mode flag (spec.md §4.10
	// step 2): workers still fire requests and feed the metric bus (so
	// downstream caches see real traffic) but do not count toward the
	// token-stat totals the master finalizes at test-stop.
	WarmupMode bool
}

// TokenStats is the at-least-once delta message spec.md §4.7 has workers
// send to the master at test-stop: request count plus completion/total
// token sums. The Engine accumulates these directly (single process, no
// real wire message) behind a mutex, mirroring mcpdrill's register_message
// analogue described in SPEC_FULL.md's glossary mapping.
type TokenStats struct {
	Reqs             int64
	CompletionTokens int64
	TotalTokens      int64
}
