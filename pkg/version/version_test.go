package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_SemverOrDev(t *testing.T) {
	if Version == "dev" {
		return
	}
	assert.Regexp(t, regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`), Version)
}

func TestString(t *testing.T) {
	// Given: ldflags-style values
	oldV, oldC := Version, Commit
	t.Cleanup(func() { Version, Commit = oldV, oldC })
	Version, Commit = "1.2.3", "abc123"

	// When: formatting
	s := String()

	// Then: every field shows up
	assert.Contains(t, s, "docindex 1.2.3")
	assert.Contains(t, s, "commit abc123")
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestGet_JSON(t *testing.T) {
	data, err := json.Marshal(Get())
	require.NoError(t, err)

	var m map[string]string
	require.NoError(t, json.Unmarshal(data, &m))
	for _, key := range []string{"version", "commit", "date", "go_version", "platform"} {
		assert.Contains(t, m, key)
	}
}
