package ui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: a page of a document is done
	r.UpdateProgress(ProgressEvent{
		Stage:       StageExtracting,
		Current:     3,
		Total:       12,
		CurrentFile: "reports/q3.pdf",
	})

	// Then: one tagged line with the count and file
	assert.Equal(t, "[EXTRACT] 3/12 - reports/q3.pdf\n", buf.String())
}

func TestPlainRenderer_UpdateProgress_MessageWinsOverFile(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{
		Stage:       StageRendering,
		Current:     1,
		Total:       2,
		CurrentFile: "a.pdf",
		Message:     "rendering a.pdf",
	})

	assert.Equal(t, "[RENDER] 1/2 - rendering a.pdf\n", buf.String())
}

func TestPlainRenderer_UpdateProgress_ZeroTotal(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating without a total, with and without a message
	r.UpdateProgress(ProgressEvent{Stage: StageRendering, Message: "starting"})
	r.UpdateProgress(ProgressEvent{Stage: StageRendering})

	// Then: only the message line is written
	assert.Equal(t, "[RENDER] starting\n", buf.String())
}

func TestPlainRenderer_NoANSICodes(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	for _, stage := range []Stage{StageRendering, StageExtracting, StageComplete} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 1, Total: 2, Message: "working"})
	}
	r.AddError(ErrorEvent{File: "a.pdf", Err: errors.New("boom")})
	r.Complete(CompletionStats{Documents: 1})

	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_AddError(t *testing.T) {
	tests := []struct {
		name  string
		event ErrorEvent
		want  string
	}{
		{"error with file", ErrorEvent{File: "a.pdf", Err: errors.New("render failed")}, "ERROR: a.pdf: render failed\n"},
		{"warning with file", ErrorEvent{File: "a.pdf", Err: errors.New("page 2 skipped"), IsWarn: true}, "WARN: a.pdf: page 2 skipped\n"},
		{"error without file", ErrorEvent{Err: errors.New("store closed")}, "ERROR: store closed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))

			r.AddError(tt.event)

			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPlainRenderer_Complete(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: completing with warnings
	r.Complete(CompletionStats{
		Documents: 2,
		Pages:     5,
		Elements:  17,
		Warnings:  1,
		Duration:  1234 * time.Millisecond,
	})

	// Then: the summary names every count
	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "Complete: 2 documents, 5 pages, 17 elements stored in 1.2s"))
	assert.Contains(t, out, "(0 errors, 1 warnings)")
}

func TestPlainRenderer_StartStop(t *testing.T) {
	r := NewPlainRenderer(NewConfig(&bytes.Buffer{}))
	require.NoError(t, r.Start(t.Context()))
	require.NoError(t, r.Stop())
}
