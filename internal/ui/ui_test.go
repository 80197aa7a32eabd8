package ui

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStage_StringAndIcon(t *testing.T) {
	tests := []struct {
		stage Stage
		name  string
		icon  string
	}{
		{StageRendering, "Rendering", "RENDER"},
		{StageExtracting, "Extracting", "EXTRACT"},
		{StageComplete, "Complete", "DONE"},
		{Stage(42), "Unknown", "???"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.stage.String())
			assert.Equal(t, tt.icon, tt.stage.Icon())
		})
	}
}

func TestNewConfig_Options(t *testing.T) {
	// Given: a buffer and both options
	buf := &bytes.Buffer{}

	// When: building a config
	cfg := NewConfig(buf, WithForcePlain(true), WithNoColor(true))

	// Then: options are applied
	assert.Same(t, buf, cfg.Output)
	assert.True(t, cfg.ForcePlain)
	assert.True(t, cfg.NoColor)
}

func TestNewRenderer_PlainForNonTTY(t *testing.T) {
	// Given: output to a buffer, which is never a terminal
	cfg := NewConfig(&bytes.Buffer{})

	// When: choosing a renderer
	r := NewRenderer(cfg)

	// Then: plain output is used
	assert.IsType(t, &PlainRenderer{}, r)
}

func TestNewRenderer_ForcePlain(t *testing.T) {
	r := NewRenderer(NewConfig(&bytes.Buffer{}, WithForcePlain(true)))
	assert.IsType(t, &PlainRenderer{}, r)
}

func TestDetectCI(t *testing.T) {
	// Given: no CI variables (Setenv first so they are restored afterwards)
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "TRAVIS"} {
		t.Setenv(v, "")
		require.NoError(t, os.Unsetenv(v))
	}
	assert.False(t, DetectCI())

	// When: one is set, even to an empty value
	t.Setenv("GITHUB_ACTIONS", "")

	// Then: CI is detected
	assert.True(t, DetectCI())
}
