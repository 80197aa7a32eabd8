package store

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// VectorIndexConfig configures a VectorIndex.
type VectorIndexConfig struct {
	Dimensions int
	M          int // max neighbours per node (default 16)
	EfSearch   int // search candidate list size (default 20)
}

// VectorHit is one nearest-neighbour result.
type VectorHit struct {
	ID    string
	Score float32 // cosine similarity mapped to [0, 1]
}

// VectorIndex is a cosine HNSW graph keyed by element id, built on
// coder/hnsw. Removal is lazy: the node stays in the graph and only the id
// mapping is dropped, because deleting the last node of a coder/hnsw graph
// corrupts it.
type VectorIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	closed bool
}

// vectorIndexMeta stores id mappings next to the exported graph.
type vectorIndexMeta struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorIndexConfig
}

// NewVectorIndex creates an empty index.
func NewVectorIndex(cfg VectorIndexConfig) *VectorIndex {
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}
	return &VectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

func newGraph(cfg VectorIndexConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	g.EfSearch = cfg.EfSearch
	g.Ml = 0.25
	return g
}

// Dimensions returns the fixed vector size.
func (v *VectorIndex) Dimensions() int {
	return v.config.Dimensions
}

// Add upserts one vector. Zero vectors are accepted but not searchable.
func (v *VectorIndex) Add(id string, vector []float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	if len(vector) != v.config.Dimensions {
		return fmt.Errorf("vector has %d dimensions, index expects %d", len(vector), v.config.Dimensions)
	}

	if existing, ok := v.idMap[id]; ok {
		delete(v.keyMap, existing)
		delete(v.idMap, id)
	}

	vec := make([]float32, len(vector))
	copy(vec, vector)
	if !normalizeVectorInPlace(vec) {
		// A zero vector has no cosine neighbours; leave it unindexed.
		return nil
	}

	key := v.nextKey
	v.nextKey++

	v.graph.Add(hnsw.MakeNode(key, vec))
	v.idMap[id] = key
	v.keyMap[key] = id
	return nil
}

// Search returns up to k live ids nearest to query, best first.
func (v *VectorIndex) Search(query []float32, k int) ([]VectorHit, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return nil, fmt.Errorf("vector index is closed")
	}
	if len(query) != v.config.Dimensions {
		return nil, fmt.Errorf("query has %d dimensions, index expects %d", len(query), v.config.Dimensions)
	}
	if len(v.idMap) == 0 || k <= 0 {
		return []VectorHit{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if !normalizeVectorInPlace(q) {
		return []VectorHit{}, nil
	}

	// Orphaned nodes can occupy result slots, so over-fetch by their count.
	orphans := v.graph.Len() - len(v.idMap)
	nodes := v.graph.Search(q, k+orphans)

	hits := make([]VectorHit, 0, k)
	for _, node := range nodes {
		id, ok := v.keyMap[node.Key]
		if !ok {
			continue
		}
		hits = append(hits, VectorHit{
			ID:    id,
			Score: 1.0 - v.graph.Distance(q, node.Value)/2.0,
		})
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// Delete removes an id. It reports whether the id was present.
func (v *VectorIndex) Delete(id string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	key, ok := v.idMap[id]
	if !ok {
		return false
	}
	delete(v.keyMap, key)
	delete(v.idMap, id)
	return true
}

// Contains checks if id is indexed.
func (v *VectorIndex) Contains(id string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.idMap[id]
	return ok
}

// Count returns the number of live vectors.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.idMap)
}

// Save writes the graph to path and the id mappings to path+".meta",
// each through a temp file and rename. An empty graph writes only the meta file.
func (v *VectorIndex) Save(path string) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.closed {
		return fmt.Errorf("vector index is closed")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if v.graph.Len() == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove graph file: %w", err)
		}
		return v.saveMeta(path + ".meta")
	}

	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create graph file: %w", err)
	}
	if err := v.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to export graph: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close graph file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename graph file: %w", err)
	}

	return v.saveMeta(path + ".meta")
}

func (v *VectorIndex) saveMeta(path string) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	meta := vectorIndexMeta{IDMap: v.idMap, NextKey: v.nextKey, Config: v.config}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmp)
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close metadata file: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadVectorIndex reads an index written by Save.
func LoadVectorIndex(path string) (*VectorIndex, error) {
	metaFile, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open metadata file: %w", err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta vectorIndexMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector index metadata: %w", err)
	}

	v := NewVectorIndex(meta.Config)
	v.idMap = meta.IDMap
	if v.idMap == nil {
		v.idMap = make(map[string]uint64)
	}
	v.nextKey = meta.NextKey
	for id, key := range v.idMap {
		v.keyMap[key] = id
	}

	graphFile, err := os.Open(path)
	if os.IsNotExist(err) && len(v.idMap) == 0 {
		// Saved while empty.
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open graph file: %w", err)
	}
	defer func() { _ = graphFile.Close() }()

	// coder/hnsw Import needs an io.ByteReader.
	if err := v.graph.Import(bufio.NewReader(graphFile)); err != nil {
		return nil, fmt.Errorf("failed to import graph: %w", err)
	}
	return v, nil
}

// RemoveVectorIndexFiles deletes the files written by Save.
func RemoveVectorIndexFiles(path string) error {
	for _, p := range []string{path, path + ".meta"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Close releases the graph.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
// It returns false for a zero vector, which is left unchanged.
func normalizeVectorInPlace(v []float32) bool {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return false
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// cosineSimilarity of two equal-length vectors; 0 when either is zero.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
