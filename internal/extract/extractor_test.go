package extract

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/errors"
	"github.com/Aman-CERP/docindex/internal/render"
)

// scriptedVision returns replies[i] on call i, repeating the last one.
// A reply of "" is returned as an error.
type scriptedVision struct {
	replies []string

	mu           sync.Mutex
	instructions []string
	calls        atomic.Int32
}

func (s *scriptedVision) Infer(ctx context.Context, instructions string, _ []byte, _ string) (string, error) {
	n := int(s.calls.Add(1)) - 1
	s.mu.Lock()
	s.instructions = append(s.instructions, instructions)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if n >= len(s.replies) {
		n = len(s.replies) - 1
	}
	if s.replies[n] == "" {
		return "", fmt.Errorf("model unavailable")
	}
	return s.replies[n], nil
}

func (s *scriptedVision) ModelName() string { return "scripted" }
func (s *scriptedVision) Close() error      { return nil }

// slowVision blocks until ctx ends.
type slowVision struct{ calls atomic.Int32 }

func (s *slowVision) Infer(ctx context.Context, _ string, _ []byte, _ string) (string, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return "", ctx.Err()
}

func (s *slowVision) ModelName() string { return "slow" }
func (s *slowVision) Close() error      { return nil }

const onePageReply = "```json\n" + `{
  "tables": [{"tableName": "Revenue", "docPage": 0, "content": "| q | v |\n|---|---|\n| 1 | 2 |", "xy": [1, 2, 3, 4]}],
  "images": [],
  "labels": [{"labelName": "Intro", "docPage": 0, "content": "Hello", "xy": [5, 6, 7, 8]}]
}` + "\n```"

func page(index int) render.Page {
	return render.Page{Index: index, Data: []byte("img"), Format: "png"}
}

// =============================================================================
// Bounded retry
// =============================================================================

func TestExtract_AlwaysFailingModel_MakesExactlyFourCalls(t *testing.T) {
	// Given: a model that always fails
	vision := &scriptedVision{replies: []string{""}}
	ex := NewExtractor(vision, Config{})

	// When: extracting one page
	res, err := ex.Extract(t.Context(), page(0))

	// Then: four calls, an empty failed result, one failed page counted
	require.NoError(t, err)
	assert.Equal(t, int32(4), vision.calls.Load())
	assert.Equal(t, 4, res.Attempts)
	assert.True(t, res.Failed)
	assert.Zero(t, res.Bundle.Len())
	assert.Equal(t, errors.ErrCodeExtractionFailed, errors.GetCode(res.Err))
	assert.Equal(t, int64(1), ex.FailedPages())
}

func TestExtract_UnparsableRepliesCountAsFailures(t *testing.T) {
	vision := &scriptedVision{replies: []string{"not json"}}
	ex := NewExtractor(vision, Config{MaxAttempts: 2})

	res, err := ex.Extract(t.Context(), page(3))

	require.NoError(t, err)
	assert.Equal(t, int32(2), vision.calls.Load())
	assert.True(t, res.Failed)
	assert.Equal(t, 3, res.Page)
}

func TestExtract_SucceedsAfterRetries(t *testing.T) {
	// Given: two failures, then garbage, then a good reply
	vision := &scriptedVision{replies: []string{"", "", "{oops", onePageReply}}
	ex := NewExtractor(vision, Config{})

	// When: extracting
	res, err := ex.Extract(t.Context(), page(1))

	// Then: the fourth call wins
	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Equal(t, 4, res.Attempts)
	assert.Len(t, res.Bundle.Tables, 1)
	assert.Len(t, res.Bundle.Labels, 1)
	assert.Zero(t, ex.FailedPages())
}

func TestExtract_SendsPageNumberOneBased(t *testing.T) {
	vision := &scriptedVision{replies: []string{`{}`}}
	ex := NewExtractor(vision, Config{})

	_, err := ex.Extract(t.Context(), page(4))

	require.NoError(t, err)
	require.Len(t, vision.instructions, 1)
	assert.Contains(t, vision.instructions[0], "\nThis is page 5.")
}

func TestExtract_EmptyObjectIsSuccess(t *testing.T) {
	ex := NewExtractor(&scriptedVision{replies: []string{`{}`}}, Config{})

	res, err := ex.Extract(t.Context(), page(0))

	require.NoError(t, err)
	assert.False(t, res.Failed)
	assert.Zero(t, res.Bundle.Len())
}

// =============================================================================
// Deadlines and rate limit
// =============================================================================

func TestExtract_PerAttemptTimeout(t *testing.T) {
	// Given: a model that never answers and a short per-call deadline
	vision := &slowVision{}
	ex := NewExtractor(vision, Config{MaxAttempts: 3, Timeout: 10 * time.Millisecond})

	// When: extracting
	res, err := ex.Extract(t.Context(), page(0))

	// Then: each attempt timed out on its own and the page failed
	require.NoError(t, err)
	assert.True(t, res.Failed)
	assert.Equal(t, int32(3), vision.calls.Load())
}

func TestExtract_CancelledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	vision := &scriptedVision{replies: []string{""}}
	ex := NewExtractor(vision, Config{})

	res, err := ex.Extract(ctx, page(0))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Failed)
	assert.Zero(t, ex.FailedPages())
}

func TestExtract_RateLimited(t *testing.T) {
	// Given: 20 requests per second with a burst of one
	vision := &scriptedVision{replies: []string{`{}`}}
	ex := NewExtractor(vision, Config{RequestsPerSecond: 20})

	// When: extracting three pages back to back
	start := time.Now()
	for i := range 3 {
		_, err := ex.Extract(t.Context(), page(i))
		require.NoError(t, err)
	}

	// Then: the second and third calls waited for tokens
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.VisionConfig{MaxAttempts: 6, RequestsPerSecond: 1.5, Timeout: time.Second})

	assert.Equal(t, Config{MaxAttempts: 6, RequestsPerSecond: 1.5, Timeout: time.Second}, cfg)
}
