package rag

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hybridTestFragments() ([]Fragment, *fakeEmbedder) {
	fragments := []Fragment{
		makeFragment("f1", "p1", "", "宫保鸡丁需要鸡腿肉和花生米", 0),
		makeFragment("f2", "p2", "", "红烧肉需要五花肉和冰糖", 0),
		makeFragment("f3", "p3", "", "番茄蛋汤需要番茄和鸡蛋", 0),
	}
	embedder := &fakeEmbedder{vectors: map[string][]float64{}}
	embedder.vectors[fragments[0].Content] = []float64{1, 0, 0}
	embedder.vectors[fragments[1].Content] = []float64{0, 1, 0}
	embedder.vectors[fragments[2].Content] = []float64{0, 0, 1}
	embedder.vectors["宫保鸡丁怎么做"] = []float64{1, 0.1, 0}
	return fragments, embedder
}

func TestHybridRetrieverSearch(t *testing.T) {
	fragments, embedder := hybridTestFragments()

	config := DefaultHybridConfig()
	config.SparseWeight = 0.5
	retriever := NewHybridRetriever(config, embedder, nil)

	_, err := retriever.Build(context.Background(), fragments)
	require.NoError(t, err)

	result, err := retriever.Search(context.Background(), "宫保鸡丁怎么做", 2)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "f1", result[0].ID, "稠密和稀疏都命中的片段排第一")
}

func TestHybridRetrieverNotBuilt(t *testing.T) {
	retriever := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, nil)

	_, err := retriever.Search(context.Background(), "任何查询", 3)
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestHybridRetrieverDefaultTopK(t *testing.T) {
	fragments, embedder := hybridTestFragments()

	config := DefaultHybridConfig()
	config.TopK = 2
	retriever := NewHybridRetriever(config, embedder, nil)
	_, err := retriever.Build(context.Background(), fragments)
	require.NoError(t, err)

	result, err := retriever.Search(context.Background(), "宫保鸡丁怎么做", 0)
	require.NoError(t, err)
	assert.Len(t, result, 2, "topK<=0 时使用配置默认值")
}

func TestHybridRetrieverDenseFailure(t *testing.T) {
	fragments, _ := hybridTestFragments()
	failing := &fakeEmbedder{queryErr: errors.New("embedding service down")}

	t.Run("sparse path survives", func(t *testing.T) {
		config := DefaultHybridConfig()
		config.SparseWeight = 0.5
		retriever := NewHybridRetriever(config, failing, nil)
		require.NoError(t, retriever.BuildWithVectors(fragments, [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

		result, err := retriever.Search(context.Background(), "宫保鸡丁", 3)
		require.NoError(t, err, "单路失败时另一路的结果仍然返回")
		require.NotEmpty(t, result)
		assert.Equal(t, "f1", result[0].ID)
	})

	t.Run("all enabled paths fail", func(t *testing.T) {
		retriever := NewHybridRetriever(DefaultHybridConfig(), failing, nil)
		require.NoError(t, retriever.BuildWithVectors(fragments, [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}))

		_, err := retriever.Search(context.Background(), "宫保鸡丁", 3)
		assert.ErrorIs(t, err, ErrRetrieval)
	})
}

func TestHybridRetrieverCancellation(t *testing.T) {
	fragments, embedder := hybridTestFragments()

	config := DefaultHybridConfig()
	config.SparseWeight = 0.5
	retriever := NewHybridRetriever(config, embedder, nil)
	_, err := retriever.Build(context.Background(), fragments)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = retriever.Search(ctx, "宫保鸡丁怎么做", 3)
	require.Error(t, err, "取消的调用不能产出部分融合结果")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestHybridRetrieverSearchFiltered(t *testing.T) {
	fragments := []Fragment{
		makeFragment("f1", "p1", "宫保鸡丁", "宫保鸡丁做法", 0),
		makeFragment("f2", "p2", "红烧肉", "红烧肉做法", 0),
		makeFragment("f3", "p3", "凉拌黄瓜", "凉拌黄瓜做法", 0),
	}
	fragments[0].Meta.Category = "荤菜"
	fragments[1].Meta.Category = "荤菜"
	fragments[2].Meta.Category = "素菜"

	embedder := &fakeEmbedder{}
	config := DefaultHybridConfig()
	config.SparseWeight = 1.0
	config.DenseWeight = 0
	retriever := NewHybridRetriever(config, embedder, nil)
	require.NoError(t, retriever.BuildWithVectors(fragments, make([][]float64, 3)))

	result, err := retriever.SearchFiltered(context.Background(), "做法", Filter{Category: "素菜"}, 2)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Equal(t, "f3", result[0].ID)
}

func TestHybridRetrieverConcurrentSearch(t *testing.T) {
	fragments, embedder := hybridTestFragments()

	config := DefaultHybridConfig()
	config.SparseWeight = 0.5
	retriever := NewHybridRetriever(config, embedder, nil)
	_, err := retriever.Build(context.Background(), fragments)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := retriever.Search(context.Background(), "宫保鸡丁怎么做", 2)
			assert.NoError(t, err)
			assert.Len(t, result, 2)
		}()
	}
	wg.Wait()
}

func TestFuseRRF(t *testing.T) {
	a := makeFragment("a", "p", "", "a", 0)
	b := makeFragment("b", "p", "", "b", 0)
	c := makeFragment("c", "p", "", "c", 0)

	dense := []Hit{{Fragment: a, Score: 0.9}, {Fragment: b, Score: 0.5}}
	sparse := []Hit{{Fragment: b, Score: 7.0}, {Fragment: c, Score: 3.0}}

	fused := fuseRRF(dense, sparse, 1.0, 1.0)
	require.Len(t, fused, 3)

	// b 两路都命中: 1/62 + 1/61; a 只在稠密路: 1/61; c 只在稀疏路: 1/62.
	assert.Equal(t, "b", fused[0].ID)
	assert.Equal(t, "a", fused[1].ID)
	assert.Equal(t, "c", fused[2].ID)
}

func TestFuseScoreFormula(t *testing.T) {
	a := makeFragment("a", "p", "", "a", 0)
	b := makeFragment("b", "p", "", "b", 0)

	dense := []Hit{{Fragment: a, Score: 0.9}, {Fragment: b, Score: 0.5}}
	sparse := []Hit{{Fragment: b, Score: 7.0}}

	fused := fuse(dense, sparse, 2.0, 0.5)
	require.Len(t, fused, 2)

	byID := map[string]float64{}
	for _, f := range fused {
		byID[f.fragment.ID] = f.score
	}

	// 只在稠密路 0 位: wDense/(0+60+1); 缺席的一路贡献恰好为 0.
	assert.InDelta(t, 2.0/61.0, byID["a"], 1e-12)
	// 稠密 1 位 + 稀疏 0 位.
	assert.InDelta(t, 2.0/62.0+0.5/61.0, byID["b"], 1e-12)
}

func TestFuseRRFWeights(t *testing.T) {
	a := makeFragment("a", "p", "", "a", 0)
	b := makeFragment("b", "p", "", "b", 0)

	dense := []Hit{{Fragment: a, Score: 0.9}}
	sparse := []Hit{{Fragment: b, Score: 7.0}}

	// 稀疏路权重为 0: b 的总分是 0, 排在 a 之后.
	fused := fuseRRF(dense, sparse, 1.0, 0)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID)
	assert.Equal(t, "b", fused[1].ID)
}

func TestFuseRRFTieBreak(t *testing.T) {
	a := makeFragment("a", "p", "", "a", 0)
	b := makeFragment("b", "p", "", "b", 0)

	// 两个片段各自只在一路的同一排名上, 同权重下分数相同,
	// 稠密路位置优先决胜.
	dense := []Hit{{Fragment: a, Score: 0.9}}
	sparse := []Hit{{Fragment: b, Score: 7.0}}

	fused := fuseRRF(dense, sparse, 1.0, 1.0)
	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].ID, "分数并列时稠密路位置靠前者胜出")
}

func TestFuseRRFDuplicateContentDistinct(t *testing.T) {
	// 内容相同但 id 不同的片段是两个独立的检索单元.
	a := makeFragment("a", "p", "", "一样的文本", 0)
	b := makeFragment("b", "p", "", "一样的文本", 1)

	fused := fuseRRF([]Hit{{Fragment: a}}, []Hit{{Fragment: b}}, 1.0, 1.0)
	assert.Len(t, fused, 2)
}
