package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/AriukCS1A/testreg/dto"
	"github.com/AriukCS1A/testreg/shared"
)

// AttemptStatus is the terminal state of one load attempt. Each attempt
// resolves exactly once: pending until ready, failed or aborted.
type AttemptStatus int

const (
	AttemptReady AttemptStatus = iota
	AttemptFailed
	AttemptAborted
)

type AttemptResult struct {
	Status       AttemptStatus
	FailureClass string // shared.Failure* when Status == AttemptFailed
	Err          error
}

// SinkSource is one URL/type variant handed to a sink. An empty MimeType
// means "sniff the bytes, ignore declared types".
type SinkSource struct {
	URL      string
	MimeType string
}

// SinkAttempt is a single in-flight load. Late results on an abandoned
// attempt stay on that attempt's channel and can never resolve a newer one.
type SinkAttempt interface {
	Done() <-chan AttemptResult
	Abort()
}

// MediaSink abstracts the playback target. Begin supersedes any attempt
// still in flight on the same sink, resolving it as aborted.
type MediaSink interface {
	Begin(ctx context.Context, src SinkSource) SinkAttempt
}

// ErrLoadSuperseded reports that a newer load took over this sink. It is a
// cooperative cancellation, not a failure.
var ErrLoadSuperseded = errors.New("load superseded by a newer request")

// LoadExhaustedError aggregates a fully failed load: every variant of
// every candidate was tried.
type LoadExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *LoadExhaustedError) Error() string {
	return fmt.Sprintf("all %d load attempts failed, last error: %v", e.Attempts, e.LastErr)
}

func (e *LoadExhaustedError) Unwrap() error {
	return e.LastErr
}

const defaultAttemptTimeout = 15 * time.Second

// LoaderService walks a ranked candidate list, trying up to four variants
// per candidate (declared vs sniffed MIME, plain vs seek-hinted URL) and
// returning the kind of the first source that reaches ready.
type LoaderService struct {
	appContext.DefaultService

	attemptTimeout time.Duration
}

const LOADER_SVC = "loader_svc"

func (svc LoaderService) Id() string {
	return LOADER_SVC
}

func (svc *LoaderService) Configure(ctx *appContext.Context) error {
	svc.attemptTimeout = defaultAttemptTimeout
	if raw := os.Getenv("LOAD_ATTEMPT_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			svc.attemptTimeout = d
		}
	}
	return svc.DefaultService.Configure(ctx)
}

func (svc *LoaderService) Start() error {
	return nil
}

// Load tries candidates in rank order, first ready wins. Exhaustion
// returns a single aggregated error carrying the last underlying cause.
func (svc *LoaderService) Load(ctx context.Context, sink MediaSink, candidates []dto.MediaCandidate) (string, error) {
	if len(candidates) == 0 {
		return "", errors.New("no candidates to load")
	}

	timeout := svc.attemptTimeout
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	var lastErr error
	attempts := 0

	for _, cand := range candidates {
		for _, src := range attemptVariants(cand) {
			attempts++

			att := sink.Begin(ctx, src)
			timer := time.NewTimer(timeout)

			select {
			case res := <-att.Done():
				timer.Stop()

				switch res.Status {
				case AttemptReady:
					log.WithFields(log.Fields{
						"url":  src.URL,
						"kind": cand.Kind,
					}).Info("Media candidate ready")
					return cand.Kind, nil

				case AttemptAborted:
					// A newer load owns the sink now; stop quietly.
					return "", ErrLoadSuperseded

				case AttemptFailed:
					lastErr = res.Err
					observeLoadFailure(res.FailureClass)
					log.WithError(res.Err).WithFields(log.Fields{
						"url":           src.URL,
						"mime":          src.MimeType,
						"failure_class": res.FailureClass,
					}).Warn("Load attempt failed, moving to next variant")
				}

			case <-timer.C:
				att.Abort()
				lastErr = fmt.Errorf("load attempt timed out after %s: %s", timeout, src.URL)
				observeLoadFailure(shared.FailureTimeout)
				log.WithFields(log.Fields{
					"url":           src.URL,
					"failure_class": shared.FailureTimeout,
				}).Warn("Load attempt timed out, moving to next variant")

			case <-ctx.Done():
				timer.Stop()
				att.Abort()
				return "", ctx.Err()
			}
		}
	}

	return "", &LoadExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// attemptVariants expands one candidate along two axes: declared vs
// sniffed MIME, and plain vs seek-hinted URL. The MIME axis comes first
// because a wrong CDN Content-Type is the common failure.
func attemptVariants(cand dto.MediaCandidate) []SinkSource {
	hinted := seekHintURL(cand.URL)

	var variants []SinkSource
	if cand.MimeType != "" {
		variants = append(variants, SinkSource{URL: cand.URL, MimeType: cand.MimeType})
	}
	variants = append(variants, SinkSource{URL: cand.URL})

	if hinted != cand.URL {
		if cand.MimeType != "" {
			variants = append(variants, SinkSource{URL: hinted, MimeType: cand.MimeType})
		}
		variants = append(variants, SinkSource{URL: hinted})
	}

	return variants
}

// seekHintURL appends the tiny-seek fragment that forces CDNs with a black
// first frame to deliver a decodable one. URLs that already carry a
// fragment are left alone.
func seekHintURL(rawURL string) string {
	if strings.Contains(rawURL, "#") {
		return rawURL
	}
	return rawURL + "#t=0.001"
}
