// Command mockserver runs a standalone instance of the mock target
// endpoint (internal/mockserver) so a job can be pointed at a real,
// locally-reachable openai-chat/claude-chat server without a live
// provider API key. Not part of the Stress Engine's own process
// topology: it plays the role of "the system under test" in manual
// runs and in the scenarios from spec.md §8 (S1, S5).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmeterx/stress-engine/internal/mockserver"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:0", "address to listen on")
	chunkCount := flag.Int("chunks", 3, "number of streamed content chunks per reply")
	chunkDelayMs := flag.Int("chunk-delay-ms", 10, "delay between streamed chunks, in milliseconds")
	replyText := flag.String("reply", "Hello there!", "reply content text")
	flag.Parse()

	cfg := mockserver.DefaultConfig()
	cfg.Addr = *addr
	cfg.Behavior.ChunkCount = *chunkCount
	cfg.Behavior.ChunkDelay = time.Duration(*chunkDelayMs) * time.Millisecond
	cfg.Behavior.ReplyText = *replyText

	srv := mockserver.New(cfg)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "mockserver: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("mock target listening on %s\n", srv.Addr())
	fmt.Printf("openai-chat endpoint: %s\n", srv.OpenAIURL())
	fmt.Printf("claude-chat endpoint: %s\n", srv.ClaudeURL())
	fmt.Println("press ctrl+c to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}
