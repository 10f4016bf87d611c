// Package sse implements IVXP's reconnecting Server-Sent Events client:
// subscribes to a provider's event stream, dispatches typed events to
// handlers, and reconnects on transport failure with the same
// exponential-backoff schedule as the polling engine.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ivxp-protocol/ivxp-go"
	"github.com/ivxp-protocol/ivxp-go/poll"
)

// Handlers dispatches the typed events an IVXP stream emits.
type Handlers struct {
	OnStatusUpdate func(payload json.RawMessage)
	OnProgress     func(payload json.RawMessage)
	OnCompleted    func(payload json.RawMessage)
	OnFailed       func(payload json.RawMessage)
	// OnExhausted is invoked once, with the terminal SSE_EXHAUSTED error, when
	// the retry budget is spent and the client should fall back to polling.
	OnExhausted func(err error)
}

// Options configures the retry budget. MaxRetries defaults to 5; the
// backoff schedule itself reuses poll.DefaultOptions.
type Options struct {
	MaxRetries int
	HTTPClient *http.Client
}

// DefaultOptions returns MaxRetries=5 with http.DefaultClient.
func DefaultOptions() Options {
	return Options{MaxRetries: 5, HTTPClient: http.DefaultClient}
}

// Unsubscribe stops the background read/reconnect loop. Idempotent.
type Unsubscribe func()

// Connect subscribes to the SSE stream at url and dispatches events to
// handlers until unsubscribed, the context is cancelled, or the retry
// budget is exhausted (in which case OnExhausted fires once).
func Connect(ctx context.Context, url string, handlers Handlers, opts Options) Unsubscribe {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	streamCtx, cancel := context.WithCancel(ctx)

	var closed atomic.Bool
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			closed.Store(true)
			cancel()
		})
	}

	go run(streamCtx, url, handlers, opts, &closed)

	return unsubscribe
}

func run(ctx context.Context, url string, handlers Handlers, opts Options, closed *atomic.Bool) {
	backoffOpts := poll.DefaultOptions()
	backoffOpts.MaxAttempts = opts.MaxRetries

	for attempt := 0; ; attempt++ {
		if closed.Load() || ctx.Err() != nil {
			return
		}

		err := readStream(ctx, url, handlers, opts.HTTPClient)
		if err == nil {
			// Stream ended cleanly (server closed it); treat as exhausted retry
			// budget reset and stop rather than loop forever on a finished order.
			return
		}
		if closed.Load() || ctx.Err() != nil {
			return
		}

		if attempt+1 >= opts.MaxRetries {
			if handlers.OnExhausted != nil {
				handlers.OnExhausted(ivxp.Wrap(ivxp.ErrSSEExhausted, "exhausted SSE reconnect attempts", err))
			}
			return
		}

		delay := poll.Delay(backoffOpts, attempt)
		if backoffOpts.Jitter > 0 {
			spread := float64(delay) * backoffOpts.Jitter
			delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
			if delay < backoffOpts.InitialDelay {
				delay = backoffOpts.InitialDelay
			}
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// readStream opens the SSE connection and dispatches events until the
// stream ends or errors. It returns nil only when the server closes the
// connection without error (EOF), and a non-nil error otherwise.
func readStream(ctx context.Context, url string, handlers Handlers, client *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ivxp.Wrap(ivxp.ErrNetworkError, "failed to build SSE request", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		return ivxp.Wrap(ivxp.ErrNetworkError, "failed to open SSE stream", err).WithRecoverable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ivxp.New(ivxp.ErrProviderUnavailable, fmt.Sprintf("SSE endpoint returned status %d", resp.StatusCode)).WithRecoverable(true)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventName string
	var dataLines []string

	flush := func() {
		if eventName == "" && len(dataLines) == 0 {
			return
		}
		payload := json.RawMessage(strings.Join(dataLines, "\n"))
		dispatch(eventName, payload, handlers)
		eventName = ""
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return ivxp.Wrap(ivxp.ErrNetworkError, "SSE stream read failed", err).WithRecoverable(true)
	}
	return nil
}

func dispatch(eventName string, payload json.RawMessage, handlers Handlers) {
	switch eventName {
	case "status_update":
		if handlers.OnStatusUpdate != nil {
			handlers.OnStatusUpdate(payload)
		}
	case "progress":
		if handlers.OnProgress != nil {
			handlers.OnProgress(payload)
		}
	case "completed":
		if handlers.OnCompleted != nil {
			handlers.OnCompleted(payload)
		}
	case "failed":
		if handlers.OnFailed != nil {
			handlers.OnFailed(payload)
		}
	}
}
