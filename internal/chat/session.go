package chat

import (
	"context"
	"io"
	"log"
	"strings"
	"sync/atomic"

	"github.com/nimbuslabs/azurechat/internal/llm"
)

// FlushEvery is the character modulus for throttled UI flushes. Deltas are
// not propagated one by one; a flush happens when the accumulated length
// crosses a FlushEvery boundary or when a delta contains a newline, so
// paragraph boundaries always become visible promptly. Tunable, not a
// contract.
const FlushEvery = 64

// CancelToken requests cooperative cancellation of one streaming session.
// The loop checks it before processing each decoded record, so at most one
// more record is consumed after Cancel is called.
type CancelToken struct {
	cancelled atomic.Bool
}

func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// StreamOpener issues one streaming completion request. Satisfied by
// *llm.Client; faked in tests.
type StreamOpener interface {
	OpenStream(ctx context.Context, req llm.Request) (io.ReadCloser, error)
}

// FlushFunc receives the full accumulated text at each throttled flush.
type FlushFunc func(text string)

// Result is the outcome of one completed (or cancelled) generation.
// ResponseID is only set on successful completion: a cancelled run must not
// advance the continuation handle.
type Result struct {
	Text       string
	ResponseID string
	Cancelled  bool
}

// RunSession owns one in-flight generation: it opens the stream, folds
// decoded records into the accumulated text in wire order, applies throttled
// flushes, and hands back the final text plus any captured continuation
// handle. Exactly one outbound call; no retry. Cancellation keeps the partial
// text as final content. Transport failures propagate to the caller, which
// substitutes a generic failure notice.
func RunSession(ctx context.Context, opener StreamOpener, req llm.Request, token *CancelToken, flush FlushFunc) (Result, error) {
	body, err := opener.OpenStream(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer body.Close()

	var (
		buf        strings.Builder
		responseID string
	)

	decoder := llm.NewDecoder(body)
	for {
		if token != nil && token.Cancelled() {
			// Keep what was generated; no further flushes.
			return Result{Text: buf.String(), Cancelled: true}, nil
		}

		record, ok, err := decoder.Next()
		if err != nil {
			return Result{Text: buf.String()}, err
		}
		if !ok {
			break
		}

		event := llm.Classify([]byte(record))
		if event.ResponseID != "" {
			// The identifier can ride on any record and the terminal one may
			// omit it; keep the most recent.
			responseID = event.ResponseID
		}

		switch event.Kind {
		case llm.EventLegacyDelta, llm.EventStatefulDelta:
			before := buf.Len()
			buf.WriteString(event.Text)

			crossedBoundary := before/FlushEvery != buf.Len()/FlushEvery
			if flush != nil && (crossedBoundary || strings.Contains(event.Text, "\n")) {
				flush(buf.String())
			}
		case llm.EventIDCapture:
			// Identifier already recorded above.
		case llm.EventUnrecognized:
			log.Printf("Skipping unrecognized stream record")
		}
	}

	// Final unconditional flush covers anything accumulated since the last
	// throttled flush, including the empty-stream case.
	if flush != nil {
		flush(buf.String())
	}

	return Result{Text: buf.String(), ResponseID: responseID}, nil
}
