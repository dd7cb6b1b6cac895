package rag

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// Hit 单路检索器产出的 (片段, 得分) 命中, 只在一次检索调用内存在.
type Hit struct {
	Fragment Fragment
	Score    float64
}

// DenseIndex 稠密向量索引, 按语义相似度 (余弦) 检索.
// 构建后不可变, 并发查询只读共享.
type DenseIndex struct {
	fragments []Fragment
	vectors   [][]float64
	logger    *zap.Logger
}

// NewDenseIndex 用预先计算好的向量构建稠密索引.
// vectors 必须与 fragments 一一对应.
func NewDenseIndex(fragments []Fragment, vectors [][]float64, logger *zap.Logger) (*DenseIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(fragments) != len(vectors) {
		return nil, fmt.Errorf("build dense index: %d fragments but %d vectors", len(fragments), len(vectors))
	}
	return &DenseIndex{
		fragments: fragments,
		vectors:   vectors,
		logger:    logger.With(zap.String("component", "dense_index")),
	}, nil
}

// Search 返回与查询向量余弦相似度最高的 k 个片段, 降序排列.
func (idx *DenseIndex) Search(queryVector []float64, k int) []Hit {
	if len(idx.fragments) == 0 || k <= 0 {
		return nil
	}

	hits := make([]Hit, 0, len(idx.fragments))
	for i, frag := range idx.fragments {
		hits = append(hits, Hit{
			Fragment: frag,
			Score:    cosineSimilarity(queryVector, idx.vectors[i]),
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// Len 返回索引的片段数量.
func (idx *DenseIndex) Len() int {
	return len(idx.fragments)
}

// EmbedText 返回片段用于嵌入的文本: 菜品名前缀提升同菜品片段的语义聚合.
func EmbedText(frag Fragment) string {
	if frag.Meta.DishName == "" {
		return frag.Content
	}
	return "菜品：" + frag.Meta.DishName + "\n" + frag.Content
}

// cosineSimilarity 计算余弦相似度, 维度不匹配或零向量返回 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
