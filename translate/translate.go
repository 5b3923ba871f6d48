// Package translate turns batches of source strings into translations using an
// external chat-completions service. It contains the batch scheduler (a
// bounded worker pool), the client adapter that wraps one service call with
// retry, backoff and response validation, and the aggregator that merges
// per-batch results into one source-to-translation mapping.
//
// Failures never escape a batch: when every attempt fails, the batch resolves
// to an identity mapping (translation equals source) flagged as a fallback.
package translate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

const (
	// DefaultBatchSize is the number of units sent in one request.
	DefaultBatchSize = 20
	// DefaultMaxWorkers is the number of batches in flight per file.
	DefaultMaxWorkers = 3
	// DefaultMaxRetries is the number of attempts per batch.
	DefaultMaxRetries = 2
	// DefaultBaseDelay is the first backoff delay after a transport failure.
	// It doubles with every attempt.
	DefaultBaseDelay = time.Second
)

var (
	// ErrCountMismatch is returned when the service returns a different
	// number of pairs than the batch holds.
	ErrCountMismatch = errors.New("result count mismatch")
	// ErrUnparseable is returned when no list of source/translation pairs can
	// be found in the service response.
	ErrUnparseable = errors.New("unparseable translation response")
)

// ---------------------------------------------------------------------------
// Data model
// ---------------------------------------------------------------------------

// TranslationResult pairs a source text with its translation.
type TranslationResult struct {
	Source      string `yaml:"source"`
	Translation string `yaml:"translation"`
	// Fallback is set when the translation is the source text because the
	// service could not produce one.
	Fallback bool `yaml:"fallback,omitempty"`
}

// Batch is a contiguous slice of a file's units sent in one request.
type Batch struct {
	// Index is the position of the batch within its file, starting at 0.
	Index int
	// Sources are the source texts in document order.
	Sources []string
	// Language is the target language code derived from the file name.
	Language string
	// Label identifies the file in the prompt.
	Label string
}

// Identity returns one result per source whose translation is the source
// itself.
func Identity(sources []string) []TranslationResult {
	out := make([]TranslationResult, len(sources))
	for i, s := range sources {
		out[i] = TranslationResult{Source: s, Translation: s}
	}
	return out
}

func fallbackResults(sources []string) []TranslationResult {
	out := Identity(sources)
	for i := range out {
		out[i].Fallback = true
	}
	return out
}

// ---------------------------------------------------------------------------
// Client adapter
// ---------------------------------------------------------------------------

// Client wraps a Service with retry, backoff and response validation.
type Client struct {
	// Service performs the actual request.
	Service Service
	// MaxRetries is the number of attempts per batch (default 2).
	MaxRetries int
	// BaseDelay is the backoff delay after the first transport failure
	// (default 1s). The delay doubles after every further failure.
	BaseDelay time.Duration
	// Sleep waits between attempts. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// Logger receives per-attempt diagnostics.
	Logger zerolog.Logger
}

func (c *Client) attempts() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

func (c *Client) baseDelay() time.Duration {
	if c.BaseDelay > 0 {
		return c.BaseDelay
	}
	return DefaultBaseDelay
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if c.Sleep != nil {
		return c.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// TranslateBatch returns one result per source of b, in the same order.
// Transport failures are retried after an exponential backoff; malformed or
// short responses are retried at once. When every attempt fails the batch
// resolves to identity results with Fallback set. It never returns an error.
func (c *Client) TranslateBatch(ctx context.Context, b Batch) []TranslationResult {
	if len(b.Sources) == 0 {
		return nil
	}

	prompt := BuildPrompt(b)
	attempts := c.attempts()
	log := c.Logger.With().Str("file", b.Label).Int("batch", b.Index).Logger()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		results, err := c.try(ctx, prompt, b.Sources)
		if err == nil {
			log.Debug().Int("attempt", attempt+1).Int("units", len(results)).Msg("batch translated")
			return results
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Int("attempts", attempts).Msg("batch attempt failed")

		var te *TransportError
		if !errors.As(err, &te) || attempt == attempts-1 {
			continue
		}
		delay := c.baseDelay() << attempt
		log.Debug().Dur("delay", delay).Msg("backing off")
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	log.Error().Err(lastErr).Int("units", len(b.Sources)).Msg("batch failed, using source text")
	return fallbackResults(b.Sources)
}

func (c *Client) try(ctx context.Context, prompt string, sources []string) ([]TranslationResult, error) {
	if c.Service == nil {
		return nil, errors.New("no translation service configured")
	}
	text, err := c.Service.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	results, err := ParseResponse(text, sources)
	if err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return results, nil
}
