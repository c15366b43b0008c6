// Package sse turns a stream of completion chunks into server-sent event frames.
//
// Each delta becomes one "data:" frame with line breaks rewritten to <br>, so a
// multi-line delta never splits into several SSE fields. A successful stream ends
// with "data: [DONE]"; a failed one ends with a single "event: error" frame.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	ports "github.com/ZanzyTHEbar/streaming-chatbot/chatbot/generation/harness/ports"
)

// Frame is one complete SSE event including its trailing blank line.
type Frame string

// DoneFrame terminates a successful stream.
const DoneFrame Frame = "data: [DONE]\n\n"

var newlines = strings.NewReplacer("\r\n", "<br>", "\r", "<br>", "\n", "<br>")

// EncodeText applies the newline rule to a delta.
func EncodeText(s string) string {
	return newlines.Replace(s)
}

// DataFrame wraps a delta in a data frame.
func DataFrame(text string) Frame {
	return Frame("data: " + EncodeText(text) + "\n\n")
}

// ErrorFrame reports a terminal failure as a JSON payload on the "error" event.
func ErrorFrame(message string) Frame {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return Frame("event: error\ndata: " + string(payload) + "\n\n")
}

// ErrorMessage is the client-facing text for a stream failure.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, ports.ErrEngineTimeout):
		return "Completion engine timed out"
	case errors.Is(err, ports.ErrEngineUnavailable):
		return "Completion engine unavailable"
	default:
		return "Stream failed"
	}
}

// Encoder converts chunks to frames, optionally pausing between data frames.
type Encoder struct {
	pacing time.Duration
}

// NewEncoder creates an encoder. Zero pacing emits frames as fast as they arrive.
func NewEncoder(pacing time.Duration) *Encoder {
	return &Encoder{pacing: pacing}
}

// Encode emits one frame per non-empty delta, in arrival order. When in closes
// without a Done or Err chunk (the producer was cancelled) no terminal frame is sent.
func (e *Encoder) Encode(ctx context.Context, in <-chan ports.CompletionChunk) <-chan Frame {
	out := make(chan Frame)
	go func() {
		defer close(out)

		send := func(f Frame) bool {
			select {
			case out <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for chunk := range in {
			if chunk.Err != nil {
				send(ErrorFrame(ErrorMessage(chunk.Err)))
				return
			}
			if chunk.DeltaText != "" {
				if !send(DataFrame(chunk.DeltaText)) {
					return
				}
				if !e.pause(ctx) {
					return
				}
			}
			if chunk.Done {
				send(DoneFrame)
				return
			}
		}
	}()
	return out
}

func (e *Encoder) pause(ctx context.Context) bool {
	if e.pacing <= 0 {
		return true
	}
	t := time.NewTimer(e.pacing)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
