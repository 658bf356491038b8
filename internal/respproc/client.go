// Package respproc implements the Response Processor component
// (spec.md §4.5, C5): it sends one request (streamed or not), decodes
// the response per the resolved field-mapping, extracts content/
// reasoning/token-usage, fires per-call metrics, and classifies
// failures. Grounded on mcpdrill's internal/transport/sse_decoder.go
// (single-reader-goroutine SSE framing) and streamable_http.go
// (client/transport construction).
package respproc

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"github.com/lmeterx/stress-engine/internal/config"
)

// BuildHTTPClient constructs the HTTP client used for target requests,
// wiring the connect/read/write/pool timeouts from spec.md §5 and an
// optional mTLS client certificate.
func BuildHTTPClient(cfg config.EngineConfig, certFile, keyFile string) (*http.Client, error) {
	tlsConfig := &tls.Config{}
	if certFile != "" && keyFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:        tlsConfig,
		TLSHandshakeTimeout:    cfg.ConnectTimeout,
		ResponseHeaderTimeout:  cfg.ReadTimeout,
		IdleConnTimeout:        cfg.PoolTimeout,
		ExpectContinueTimeout:  cfg.WriteTimeout,
		MaxIdleConnsPerHost:    64,
	}

	return &http.Client{
		Transport: transport,
		// No blanket client.Timeout: the stream path must stay open for
		// the whole run; per-frame stalls are bounded by the SSE decoder
		// instead (spec.md §4.5).
	}, nil
}

// defaultStallTimeout bounds how long the stream decoder waits for the
// next SSE line before treating the connection as stalled.
const defaultStallTimeout = 30 * time.Second
