package swarm

import (
	"context"

	"github.com/lmeterx/stress-engine/internal/dataset"
	"github.com/lmeterx/stress-engine/internal/reqbuilder"
	"github.com/lmeterx/stress-engine/internal/respproc"
)

// runVU is one virtual user's task loop: as fast as the context allows,
// borrow a dataset record, build a request, fire it, record the outcome,
// and repeat until retired or cancelled. Unlike mcpdrill's VUExecutor
// there is no per-iteration think time or weighted operation mix — a
// stress-engine VU replays the single configured request shape
// continuously, matching Locust's own default task loop that this
// component's behavior is modeled on.
func (e *Engine) runVU(ctx context.Context, h *vuHandle) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if h.retiring.Load() {
			return
		}

		var rec *dataset.Record
		if e.cfg.Queue != nil && e.cfg.Queue.Len() > 0 {
			r, ok := e.cfg.Queue.Next()
			if ok {
				rec = &r
			}
		}

		req, err := reqbuilder.Build(e.cfg.Template, rec, e.cfg.Mapping, e.cfg.Flavor, e.cfg.Model, e.cfg.Stream)
		if err != nil {
			e.totalRequests.Add(1)
			e.totalFailures.Add(1)
			continue
		}

		outcome := respproc.Process(ctx, e.cfg.Client, e.cfg.Method, e.cfg.URL, e.cfg.Headers, e.cfg.Cookies, req, e.cfg.Mapping, e.cfg.Stream, e.cfg.Bus)
		e.recordOutcome(outcome)

		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) recordOutcome(o respproc.Outcome) {
	e.totalRequests.Add(1)
	if o.Failure != nil || o.StatusCode >= 400 {
		e.totalFailures.Add(1)
	}

	if e.cfg.WarmupMode {
		return
	}

	e.tokenMu.Lock()
	e.tokenStats.Reqs++
	e.tokenStats.CompletionTokens += int64(o.CompletionTokens)
	e.tokenStats.TotalTokens += int64(o.TotalTokens)
	e.tokenMu.Unlock()
}
