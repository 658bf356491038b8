package respproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lmeterx/stress-engine/internal/fieldmap"
	"github.com/lmeterx/stress-engine/internal/jsonpath"
	"github.com/lmeterx/stress-engine/internal/reqbuilder"
)

// MetricSink is the subset of the Metric Event Bus the processor needs;
// keeping it an interface here lets respproc be tested without pulling
// in internal/metricbus.
type MetricSink interface {
	Fire(name string, valueMs float64, contentLength int)
}

// Metric names fired by the Response Processor (spec.md §4.5).
const (
	MetricTimeToFirstOutputToken    = "Time_to_first_output_token"
	MetricTimeToFirstReasoningToken = "Time_to_first_reasoning_token"
	MetricTimeToReasoningCompletion = "Time_to_reasoning_completion"
	MetricTimeToOutputCompletion    = "Time_to_output_completion"
	MetricTotalTime                = "Total_time"
	MetricInputTokens              = "Input_tokens"
	MetricCompletionTokens         = "Completion_tokens"
)

// Outcome is the result of one request: either a successful content/
// usage extraction or a classified Failure (spec.md §4.5).
type Outcome struct {
	Failure *Failure

	StatusCode int
	Content    string
	Reasoning  string

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// responsePreviewBytes bounds how much of an error body is read into a
// failure message.
const responsePreviewBytes = 2048

// Process issues one request and processes its response, streamed or
// not, per spec.md §4.5.
func Process(ctx context.Context, client *http.Client, method, url string, headers, cookies map[string]string, body reqbuilder.Request, mapping fieldmap.Mapping, stream bool, sink MetricSink) Outcome {
	payload, err := body.Marshal()
	if err != nil {
		return Outcome{Failure: &Failure{Category: FailureUnknown, Message: err.Error()}}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return Outcome{Failure: Classify(err)}
	}
	if body.IsJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return Outcome{Failure: Classify(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, responsePreviewBytes))
		f := ClassifyHTTPStatus(resp.StatusCode)
		f.Message = fmt.Sprintf("%s: %s", f.Message, strings.TrimSpace(string(preview)))
		return Outcome{Failure: f, StatusCode: resp.StatusCode}
	}

	if stream {
		return processStream(resp, mapping, start, sink)
	}
	return processNonStream(resp, mapping, start, sink)
}

func processNonStream(resp *http.Response, mapping fieldmap.Mapping, start time.Time, sink MetricSink) Outcome {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Failure: Classify(err), StatusCode: resp.StatusCode}
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Outcome{Failure: &Failure{Category: FailureJSONParse, Message: err.Error()}, StatusCode: resp.StatusCode}
	}

	if errObj, ok := obj["error"]; ok && errObj != nil {
		return Outcome{Failure: &Failure{Category: FailureProviderError, Message: fmt.Sprintf("%v", errObj)}, StatusCode: resp.StatusCode}
	}

	content, _ := jsonpath.GetString(obj, mapping.ContentPathNonStream)
	reasoning, _ := jsonpath.GetString(obj, mapping.ReasoningPathNonStream)

	prompt, completion, total := extractUsage(obj, mapping, content)
	fireTokenMetrics(sink, prompt, completion)

	sink.Fire(MetricTotalTime, float64(time.Since(start).Milliseconds()), len(content))

	return Outcome{
		StatusCode:       resp.StatusCode,
		Content:          content,
		Reasoning:        reasoning,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

func processStream(resp *http.Response, mapping fieldmap.Mapping, start time.Time, sink MetricSink) Outcome {
	decoder := newSSEDecoder(resp.Body, defaultStallTimeout)
	defer decoder.Close()

	var contentBuf, reasoningBuf strings.Builder
	var firstContentTime, firstReasoningTime time.Time
	reasoningActive := false
	var prompt, completion, total int

	streamPrefix := mapping.StreamPrefix
	if streamPrefix == "" {
		streamPrefix = "data:"
	}

	for {
		frame, err := decoder.nextFrame(streamPrefix)
		if err != nil {
			if err == io.EOF {
				break
			}
			if err == ErrStreamStall {
				return Outcome{Failure: &Failure{Category: FailureTimeout, Message: "stream stalled"}, StatusCode: resp.StatusCode}
			}
			return Outcome{Failure: Classify(err), StatusCode: resp.StatusCode}
		}

		if mapping.StopSentinel != "" && frame == mapping.StopSentinel {
			break
		}
		if frame == "" {
			continue
		}

		var obj map[string]any
		if err := json.Unmarshal([]byte(frame), &obj); err != nil {
			return Outcome{
				Failure:    &Failure{Category: FailureStreamFraming, Message: fmt.Sprintf("non-JSON stream chunk: %v", err)},
				StatusCode: resp.StatusCode,
				Content:    contentBuf.String(),
				Reasoning:  reasoningBuf.String(),
			}
		}

		if errObj, ok := obj["error"]; ok && errObj != nil {
			return Outcome{
				Failure:    &Failure{Category: FailureProviderError, Message: fmt.Sprintf("%v", errObj)},
				StatusCode: resp.StatusCode,
				Content:    contentBuf.String(),
				Reasoning:  reasoningBuf.String(),
			}
		}

		if mapping.EndField != "" {
			if v, ok := jsonpath.Get(obj, mapping.EndField); ok && fmt.Sprintf("%v", v) == mapping.EndFieldValue {
				break
			}
		}

		isUsageFrame := hasAnyTokenField(obj, mapping)
		if isUsageFrame {
			p, c, t := extractUsage(obj, mapping, contentBuf.String())
			if p > 0 {
				prompt = p
			}
			if c > 0 {
				completion = c
			}
			if t > 0 {
				total = t
			}
			continue
		}

		if reasoningChunk, ok := jsonpath.GetString(obj, mapping.ReasoningPathStream); ok && reasoningChunk != "" {
			if firstReasoningTime.IsZero() {
				firstReasoningTime = time.Now()
				sink.Fire(MetricTimeToFirstReasoningToken, float64(firstReasoningTime.Sub(start).Milliseconds()), 0)
			}
			reasoningActive = true
			reasoningBuf.WriteString(reasoningChunk)
		}

		if contentChunk, ok := jsonpath.GetString(obj, mapping.ContentPathStream); ok && contentChunk != "" {
			if firstContentTime.IsZero() {
				firstContentTime = time.Now()
				sink.Fire(MetricTimeToFirstOutputToken, float64(firstContentTime.Sub(start).Milliseconds()), 0)
			}
			if reasoningActive {
				now := time.Now()
				sink.Fire(MetricTimeToReasoningCompletion, float64(now.Sub(firstReasoningTime).Milliseconds()), 0)
				reasoningActive = false
			}
			contentBuf.WriteString(contentChunk)
		}
	}

	now := time.Now()
	if !firstContentTime.IsZero() {
		sink.Fire(MetricTimeToOutputCompletion, float64(now.Sub(firstContentTime).Milliseconds()), contentBuf.Len())
	}
	sink.Fire(MetricTotalTime, float64(now.Sub(start).Milliseconds()), contentBuf.Len())

	if total == 0 && (prompt > 0 || completion > 0) {
		total = prompt + completion
	}
	if total > 0 && completion == 0 && prompt > 0 {
		completion = total - prompt
	}
	if total == 0 && prompt == 0 && completion == 0 {
		completion = EstimateTokens(contentBuf.String())
	}
	fireTokenMetrics(sink, prompt, completion)

	return Outcome{
		StatusCode:       resp.StatusCode,
		Content:          contentBuf.String(),
		Reasoning:        reasoningBuf.String(),
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// fireTokenMetrics records a request's prompt/completion token counts as
// Metric Event Bus series (spec.md §3 metric names Input_tokens,
// Completion_tokens), skipping fields a request never reported.
func fireTokenMetrics(sink MetricSink, prompt, completion int) {
	if prompt > 0 {
		sink.Fire(MetricInputTokens, float64(prompt), 0)
	}
	if completion > 0 {
		sink.Fire(MetricCompletionTokens, float64(completion), 0)
	}
}

// hasAnyTokenField reports whether obj carries any recognizable usage
// field, the signal the decoder uses to treat a frame as a usage frame
// rather than a content delta (spec.md §4.5 step 7).
func hasAnyTokenField(obj map[string]any, mapping fieldmap.Mapping) bool {
	for _, path := range []string{mapping.PromptTokensPath, mapping.CompletionTokensPath, mapping.TotalTokensPath} {
		if path == "" {
			continue
		}
		if _, ok := jsonpath.Get(obj, path); ok {
			return true
		}
	}
	if _, ok := obj["usage"]; ok {
		return true
	}
	return false
}

// extractUsage implements the token-usage extraction priority chain
// from spec.md §4.5: (a) mapping paths, (b) canonical usage fields,
// (c) derive the missing side by subtraction, (d) local tokenizer
// fallback against the accumulated content.
func extractUsage(obj map[string]any, mapping fieldmap.Mapping, content string) (prompt, completion, total int) {
	if v, ok := jsonpath.GetFloat64(obj, mapping.PromptTokensPath); ok {
		prompt = int(v)
	}
	if v, ok := jsonpath.GetFloat64(obj, mapping.CompletionTokensPath); ok {
		completion = int(v)
	}
	if v, ok := jsonpath.GetFloat64(obj, mapping.TotalTokensPath); ok {
		total = int(v)
	}

	if prompt == 0 {
		for _, p := range []string{"usage.prompt_tokens", "usage.input_tokens"} {
			if v, ok := jsonpath.GetFloat64(obj, p); ok {
				prompt = int(v)
				break
			}
		}
	}
	if completion == 0 {
		for _, p := range []string{"usage.completion_tokens", "usage.output_tokens"} {
			if v, ok := jsonpath.GetFloat64(obj, p); ok {
				completion = int(v)
				break
			}
		}
	}
	if total == 0 {
		if v, ok := jsonpath.GetFloat64(obj, "usage.total_tokens"); ok {
			total = int(v)
		}
	}

	if total > 0 && prompt > 0 && completion == 0 {
		completion = total - prompt
	}
	if total > 0 && completion > 0 && prompt == 0 {
		prompt = total - completion
	}
	if total == 0 && (prompt > 0 || completion > 0) {
		total = prompt + completion
	}
	if prompt == 0 && completion == 0 && total == 0 && content != "" {
		completion = EstimateTokens(content)
		total = completion
	}
	return prompt, completion, total
}
