package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *EmbeddingStore {
	t.Helper()
	store, err := OpenEmbeddingStore(filepath.Join(t.TempDir(), "embeddings.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestEmbeddingStoreRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	vectors := [][]float64{
		{0.1, 0.2, 0.3},
		{0.4, 0.5, 0.6},
	}
	require.NoError(t, store.Save(ctx, "fp-1", vectors))

	loaded, hit, err := store.Load(ctx, "fp-1", 2)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, vectors, loaded, "向量按序号顺序原样还原")
}

func TestEmbeddingStoreFingerprintMiss(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "fp-old", [][]float64{{1}, {2}}))

	_, hit, err := store.Load(ctx, "fp-new", 2)
	require.NoError(t, err)
	assert.False(t, hit, "指纹不匹配视为快照失效")
}

func TestEmbeddingStoreCountMismatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "fp-1", [][]float64{{1}, {2}}))

	_, hit, err := store.Load(ctx, "fp-1", 3)
	require.NoError(t, err)
	assert.False(t, hit, "数量不符视为未命中")
}

func TestEmbeddingStoreSaveReplacesOldGeneration(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "fp-old", [][]float64{{1}, {2}}))
	require.NoError(t, store.Save(ctx, "fp-new", [][]float64{{3}}))

	_, hit, err := store.Load(ctx, "fp-old", 2)
	require.NoError(t, err)
	assert.False(t, hit, "旧代在保存新代时被清除")

	loaded, hit, err := store.Load(ctx, "fp-new", 1)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, [][]float64{{3}}, loaded)
}

func TestCorpusFingerprint(t *testing.T) {
	a := makeFragment("id-1", "p", "宫保鸡丁", "原料", 0)
	b := makeFragment("id-2", "p", "宫保鸡丁", "原料", 0)
	c := makeFragment("id-3", "p", "宫保鸡丁", "做法", 0)

	// 指纹只看嵌入文本, 与每次加载重新生成的片段 id 无关.
	assert.Equal(t, CorpusFingerprint([]Fragment{a}), CorpusFingerprint([]Fragment{b}))
	assert.NotEqual(t, CorpusFingerprint([]Fragment{a}), CorpusFingerprint([]Fragment{c}))
	assert.NotEqual(t, CorpusFingerprint([]Fragment{a}), CorpusFingerprint([]Fragment{a, c}))
}
