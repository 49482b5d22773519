package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/AriukCS1A/testreg/shared"
)

// HTTPSink preflights media sources over HTTP: a ranged GET plus container
// sniffing stands in for the playback element's "ready to play" signal.
// One sink per playback surface; a new Begin supersedes the previous
// attempt, which resolves as aborted.
type HTTPSink struct {
	client *http.Client

	mu      sync.Mutex
	current *httpAttempt
}

func NewHTTPSink(client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPSink{client: client}
}

func (s *HTTPSink) Begin(ctx context.Context, src SinkSource) SinkAttempt {
	attemptCtx, cancel := context.WithCancel(ctx)
	att := &httpAttempt{
		done:   make(chan AttemptResult, 1),
		cancel: cancel,
	}

	s.mu.Lock()
	if s.current != nil {
		s.current.abort()
	}
	s.current = att
	s.mu.Unlock()

	go att.run(attemptCtx, s.client, src)
	return att
}

type httpAttempt struct {
	done   chan AttemptResult
	cancel context.CancelFunc
	once   sync.Once
}

func (a *httpAttempt) Done() <-chan AttemptResult {
	return a.done
}

func (a *httpAttempt) Abort() {
	a.abort()
}

func (a *httpAttempt) abort() {
	a.resolve(AttemptResult{Status: AttemptAborted})
	a.cancel()
}

func (a *httpAttempt) resolve(res AttemptResult) {
	a.once.Do(func() {
		a.done <- res
	})
}

func (a *httpAttempt) fail(class string, err error) {
	a.resolve(AttemptResult{Status: AttemptFailed, FailureClass: class, Err: err})
}

func (a *httpAttempt) run(ctx context.Context, client *http.Client, src SinkSource) {
	defer a.cancel()

	// The seek hint is a playback instruction; it never goes on the wire.
	reqURL := src.URL
	if i := strings.IndexByte(reqURL, '#'); i >= 0 {
		reqURL = reqURL[:i]
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		a.fail(shared.FailureNetwork, fmt.Errorf("build request: %w", err))
		return
	}
	req.Header.Set("Range", "bytes=0-1023")

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			a.resolve(AttemptResult{Status: AttemptAborted})
			return
		}
		a.fail(shared.FailureNetwork, fmt.Errorf("fetch %s: %w", reqURL, err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		a.fail(shared.FailureNetwork, fmt.Errorf("fetch %s: status %d", reqURL, resp.StatusCode))
		return
	}

	head := make([]byte, 32)
	n, err := io.ReadFull(resp.Body, head)
	if err != nil && n < 12 {
		a.fail(shared.FailureDecode, fmt.Errorf("read %s: %w", reqURL, err))
		return
	}
	head = head[:n]

	container := sniffContainer(head)

	if src.MimeType != "" {
		// Typed attempt: the declared type must hold against both the
		// server's Content-Type and the actual bytes.
		expected := normalizeMime(src.MimeType)
		served := normalizeMime(resp.Header.Get("Content-Type"))
		if served != "" && served != expected && !strings.HasPrefix(served, "application/octet-stream") {
			a.fail(shared.FailureUnsupported, fmt.Errorf("%s: declared %s but served %s", reqURL, expected, served))
			return
		}
		if container == "" || mimeForContainer(container) != expected {
			a.fail(shared.FailureDecode, fmt.Errorf("%s: declared %s but content is %q", reqURL, expected, container))
			return
		}
	} else {
		// Sniffed attempt: only the bytes matter.
		if container == "" {
			a.fail(shared.FailureUnsupported, fmt.Errorf("%s: unrecognized container", reqURL))
			return
		}
	}

	a.resolve(AttemptResult{Status: AttemptReady})
}

// sniffContainer recognizes supported containers by magic: EBML header for
// webm, an ftyp box for mp4/mov.
func sniffContainer(head []byte) string {
	if len(head) >= 4 && head[0] == 0x1A && head[1] == 0x45 && head[2] == 0xDF && head[3] == 0xA3 {
		return "webm"
	}
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		return "mp4"
	}
	return ""
}

func mimeForContainer(container string) string {
	switch container {
	case "webm":
		return "video/webm"
	case "mp4":
		return "video/mp4"
	}
	return ""
}
