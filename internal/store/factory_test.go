package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/embed"
	"github.com/Aman-CERP/docindex/internal/errors"
)

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New("qdrant", "", DefaultCollectionNames(), embed.NewStaticEmbedder())

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.GetCode(err))
}

func TestNew_RequiresEmbedder(t *testing.T) {
	_, err := New(BackendBleve, "", DefaultCollectionNames(), nil)
	assert.Error(t, err)
}

func TestOpen_InMemoryCreatesCollections(t *testing.T) {
	for _, backend := range Backends() {
		t.Run(backend, func(t *testing.T) {
			st, report, err := Open(t.Context(), config.StoreConfig{Backend: backend}, embed.NewStaticEmbedder())
			require.NoError(t, err)
			defer st.Close()

			assert.Equal(t, backend, st.Backend())
			require.NotNil(t, report)
			assert.True(t, report.Migrated)

			names, err := st.ListCollections(t.Context())
			require.NoError(t, err)
			assert.ElementsMatch(t, Collections(), names)
		})
	}
}

func TestOpen_SecondOpenSkipsMigration(t *testing.T) {
	dir := t.TempDir()
	cfg := config.StoreConfig{Backend: BackendSQLite, Path: dir}

	// Given: a store opened and closed once
	st, report, err := Open(t.Context(), cfg, embed.NewStaticEmbedder())
	require.NoError(t, err)
	assert.True(t, report.Migrated)
	require.NoError(t, st.Close())

	_, err = os.Stat(filepath.Join(dir, "fingerprint.yaml"))
	require.NoError(t, err)

	// When: opening again with the same configuration
	st, report, err = Open(t.Context(), cfg, embed.NewStaticEmbedder())
	require.NoError(t, err)
	defer st.Close()

	// Then: no migration
	assert.False(t, report.Migrated)
	assert.Equal(t, Fingerprint{Backend: BackendSQLite, EmbeddingModel: "static"}, report.Previous)
}

func TestOpen_BackendChangeMigrates(t *testing.T) {
	dir := t.TempDir()

	st, _, err := Open(t.Context(), config.StoreConfig{Backend: BackendBleve, Path: dir}, embed.NewStaticEmbedder())
	require.NoError(t, err)
	require.NoError(t, st.Close())

	// When: the same directory is opened with another backend
	st, report, err := Open(t.Context(), config.StoreConfig{Backend: BackendHNSW, Path: dir}, embed.NewStaticEmbedder())
	require.NoError(t, err)
	defer st.Close()

	// Then: the fingerprint change is detected
	assert.True(t, report.Migrated)
	assert.Equal(t, BackendBleve, report.Previous.Backend)
	assert.Equal(t, BackendHNSW, report.Current.Backend)
}

func TestOpen_WithoutMigration(t *testing.T) {
	fps := NewMemoryFingerprint()
	st, report, err := Open(t.Context(), config.StoreConfig{Backend: BackendHNSW}, embed.NewStaticEmbedder(),
		WithoutMigration(), WithFingerprintStore(fps))
	require.NoError(t, err)
	defer st.Close()

	assert.Nil(t, report)
	_, found, err := fps.Load(t.Context())
	require.NoError(t, err)
	assert.False(t, found, "fingerprint untouched")

	names, err := st.ListCollections(t.Context())
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestOpen_CustomCollectionNames(t *testing.T) {
	names := CollectionNames{Table: "Tables", Image: "Figures", Label: "Labels"}

	st, _, err := Open(t.Context(), config.StoreConfig{Backend: BackendSQLite}, embed.NewStaticEmbedder(),
		WithCollectionNames(names))
	require.NoError(t, err)
	defer st.Close()

	got, err := st.ListCollections(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []string{"Figures", "Labels", "Tables"}, got)
}

func TestOpen_UnwritableDirIsConnectionError(t *testing.T) {
	// Given: a regular file where the data directory should be
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, _, err := Open(t.Context(), config.StoreConfig{Backend: BackendHNSW, Path: filepath.Join(file, "store")},
		embed.NewStaticEmbedder())

	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))
}
