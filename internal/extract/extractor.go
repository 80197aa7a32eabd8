package extract

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/render"
)

// DefaultMaxAttempts is the number of vision calls made per page.
const DefaultMaxAttempts = 4

// Config bounds the work spent on one page.
type Config struct {
	// MaxAttempts is the total number of calls per page.
	MaxAttempts int

	// RequestsPerSecond is shared by every caller of the extractor. 0 = unlimited.
	RequestsPerSecond float64

	// Timeout bounds each attempt. 0 = no deadline.
	Timeout time.Duration
}

// ConfigFrom maps the vision section of the user config.
func ConfigFrom(cfg config.VisionConfig) Config {
	return Config{
		MaxAttempts:       cfg.MaxAttempts,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Timeout:           cfg.Timeout,
	}
}

// Result is the outcome of extracting one page.
type Result struct {
	Page   int
	Bundle Bundle

	// Failed is set when every attempt failed. Bundle is then empty.
	Failed bool

	Attempts int
	Err      error
}

// Extractor turns page images into element bundles.
// It is safe for concurrent use.
type Extractor struct {
	vision  Vision
	cfg     Config
	limiter *rate.Limiter

	failedPages atomic.Int64
}

// NewExtractor creates an extractor over vision.
func NewExtractor(vision Vision, cfg Config) *Extractor {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	e := &Extractor{vision: vision, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return e
}

// FailedPages is the number of pages that exhausted their attempts since
// the extractor was created.
func (e *Extractor) FailedPages() int64 {
	return e.failedPages.Load()
}

// Extract asks the vision model for the layout of page, retrying on call
// or parse failures until MaxAttempts calls have been made. Exhaustion is
// reported through Result.Failed, not the error. The error is non-nil only
// when ctx ends.
func (e *Extractor) Extract(ctx context.Context, page render.Page) (Result, error) {
	res := Result{Page: page.Index}
	instructions := Instructions(page.Index)

	retry := errors.AttemptsConfig(e.cfg.MaxAttempts)
	retry.OnRetry = func(attempt int, err error) {
		slog.Debug("page_extraction_retry",
			slog.Int("page", page.Index),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
	}

	bundle, err := errors.RetryWithResult(ctx, retry, func() (Bundle, error) {
		res.Attempts++
		return e.attempt(ctx, instructions, page)
	})
	if err == nil {
		res.Bundle = bundle
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	e.failedPages.Add(1)
	res.Failed = true
	res.Err = errors.New(errors.ErrCodeExtractionFailed, "page extraction failed", err)
	slog.Warn("page_extraction_failed",
		slog.Int("page", page.Index),
		slog.Int("attempts", res.Attempts),
		slog.String("model", e.vision.ModelName()),
		slog.String("error", err.Error()))
	return res, nil
}

func (e *Extractor) attempt(ctx context.Context, instructions string, page render.Page) (Bundle, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return Bundle{}, err
		}
	}

	callCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	reply, err := e.vision.Infer(callCtx, instructions, page.Data, page.Format)
	if err != nil {
		return Bundle{}, err
	}
	return Parse(reply, page.Index)
}
