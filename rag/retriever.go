package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chefrag/chefrag/llm/embedding"
)

// rrfConstant RRF 的稳定常数 C, 压低头部排名的分差.
const rrfConstant = 60

// HybridConfig 混合检索配置.
// 任一权重可以设为 0 来停用对应检索路 (运维旋钮, 不是固定策略).
type HybridConfig struct {
	TopK         int        `json:"top_k"`         // 默认返回的片段数
	CandidateK   int        `json:"candidate_k"`   // 每路检索器取回的候选数, 刻意大于 TopK
	DenseWeight  float64    `json:"dense_weight"`  // 稠密路 RRF 权重
	SparseWeight float64    `json:"sparse_weight"` // 稀疏路 RRF 权重
	BM25         BM25Config `json:"bm25"`
}

// DefaultHybridConfig 返回默认混合检索配置.
// 默认只走稠密路 (稀疏权重为 0), 双路融合通过配置开启.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{
		TopK:         3,
		CandidateK:   5,
		DenseWeight:  1.0,
		SparseWeight: 0,
		BM25:         DefaultBM25Config(),
	}
}

// indexGeneration 一代不可变的索引对, 整体原子替换.
type indexGeneration struct {
	dense     *DenseIndex
	sparse    *BM25Index
	fragments []Fragment
}

// HybridRetriever 在同一片段集合上维护稠密与稀疏两路独立检索器,
// 用加权 Reciprocal Rank Fusion 合并两路结果.
//
// RRF 直接按排名合并, 不需要把余弦相似度和 BM25 这两种量纲不同的
// 分数归一化, 对单路的离群分数也更稳健.
type HybridRetriever struct {
	config   HybridConfig
	embedder embedding.Provider

	mu  sync.RWMutex
	gen *indexGeneration

	logger *zap.Logger
}

// NewHybridRetriever 创建混合检索器.
func NewHybridRetriever(config HybridConfig, embedder embedding.Provider, logger *zap.Logger) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridRetriever{
		config:   config,
		embedder: embedder,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// Build 嵌入全部片段并构建新一代索引对, 原子替换旧的一代.
// 返回嵌入向量供调用方持久化; 嵌入失败是启动期致命错误.
func (r *HybridRetriever) Build(ctx context.Context, fragments []Fragment) ([][]float64, error) {
	texts := make([]string, len(fragments))
	for i, frag := range fragments {
		texts[i] = EmbedText(frag)
	}

	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d fragments: %w", len(fragments), err)
	}

	if err := r.BuildWithVectors(fragments, vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

// BuildWithVectors 用预先计算好的向量构建索引对 (如来自嵌入快照).
func (r *HybridRetriever) BuildWithVectors(fragments []Fragment, vectors [][]float64) error {
	dense, err := NewDenseIndex(fragments, vectors, r.logger)
	if err != nil {
		return err
	}
	sparse := NewBM25Index(fragments, r.config.BM25, r.logger)

	r.mu.Lock()
	r.gen = &indexGeneration{dense: dense, sparse: sparse, fragments: fragments}
	r.mu.Unlock()

	r.logger.Info("混合索引构建完成", zap.Int("fragments", len(fragments)))
	return nil
}

func (r *HybridRetriever) generation() *indexGeneration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gen
}

// Search 混合检索: 两路各取 CandidateK 个候选, RRF 融合后返回前 topK 个.
// topK <= 0 时使用配置默认值.
//
// 两路子检索并发执行且可取消: 调用方中止时不会产出部分融合结果.
// 单路失败记录错误并用另一路的结果继续; 两路都失败才向调用方报错.
func (r *HybridRetriever) Search(ctx context.Context, query string, topK int) ([]Fragment, error) {
	gen := r.generation()
	if gen == nil {
		return nil, ErrNotBuilt
	}
	if topK <= 0 {
		topK = r.config.TopK
	}

	var (
		denseHits  []Hit
		sparseHits []Hit
		denseErr   error
		sparseErr  error
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if r.config.DenseWeight == 0 {
			return nil
		}
		queryVector, err := r.embedder.EmbedQuery(gctx, query)
		if err != nil {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			denseErr = fmt.Errorf("dense ranker: %w", err)
			return nil
		}
		denseHits = gen.dense.Search(queryVector, r.config.CandidateK)
		return nil
	})

	g.Go(func() error {
		if r.config.SparseWeight == 0 {
			return nil
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		sparseHits = gen.sparse.Search(query, r.config.CandidateK)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 单路失败时靠另一路存活; 所有启用的检索路都失败才报错.
	sparseAlive := r.config.SparseWeight > 0 && sparseErr == nil
	denseAlive := r.config.DenseWeight > 0 && denseErr == nil
	if denseErr != nil {
		if !sparseAlive {
			return nil, fmt.Errorf("%w: %v", ErrRetrieval, denseErr)
		}
		r.logger.Error("稠密检索失败, 使用稀疏检索结果继续", zap.Error(denseErr))
	}
	if sparseErr != nil {
		if !denseAlive {
			return nil, fmt.Errorf("%w: %v", ErrRetrieval, sparseErr)
		}
		r.logger.Error("稀疏检索失败, 使用稠密检索结果继续", zap.Error(sparseErr))
	}

	fused := fuseRRF(denseHits, sparseHits, r.config.DenseWeight, r.config.SparseWeight)
	if topK > len(fused) {
		topK = len(fused)
	}
	return fused[:topK], nil
}

// SearchFiltered 带元数据过滤的检索: 先以 3 倍候选量检索,
// 再保留满足全部过滤条件的片段, 凑够 topK 即停.
func (r *HybridRetriever) SearchFiltered(ctx context.Context, query string, filter Filter, topK int) ([]Fragment, error) {
	if topK <= 0 {
		topK = r.config.TopK
	}

	candidates, err := r.Search(ctx, query, topK*3)
	if err != nil {
		return nil, err
	}

	filtered := make([]Fragment, 0, topK)
	for _, frag := range candidates {
		if !filter.Matches(frag.Meta) {
			continue
		}
		filtered = append(filtered, frag)
		if len(filtered) >= topK {
			break
		}
	}
	return filtered, nil
}

// fusedHit RRF 融合的中间态.
type fusedHit struct {
	fragment  Fragment
	score     float64
	densePos  int
	sparsePos int
}

// fuseRRF 加权 Reciprocal Rank Fusion.
//
//	score(f) = wDense · 1/(rankDense+C+1) + wSparse · 1/(rankSparse+C+1)
//
// 排名 0 起始; 片段不在某路列表中时该路贡献恰好为 0.
// 合并身份是片段创建时生成的唯一 id, 不用内容哈希 (重复文本会碰撞).
// 并列分数按稠密路位置、再按稀疏路位置决胜.
func fuseRRF(denseHits, sparseHits []Hit, wDense, wSparse float64) []Fragment {
	fused := fuse(denseHits, sparseHits, wDense, wSparse)

	result := make([]Fragment, len(fused))
	for i, f := range fused {
		result[i] = f.fragment
	}
	return result
}

func fuse(denseHits, sparseHits []Hit, wDense, wSparse float64) []*fusedHit {
	const absent = int(^uint(0) >> 1) // 不在该路列表中

	merged := make(map[string]*fusedHit)
	order := make([]string, 0, len(denseHits)+len(sparseHits))

	add := func(hits []Hit, weight float64, dense bool) {
		for rank, hit := range hits {
			f, ok := merged[hit.Fragment.ID]
			if !ok {
				f = &fusedHit{fragment: hit.Fragment, densePos: absent, sparsePos: absent}
				merged[hit.Fragment.ID] = f
				order = append(order, hit.Fragment.ID)
			}
			f.score += weight * 1.0 / float64(rank+rrfConstant+1)
			if dense {
				f.densePos = rank
			} else {
				f.sparsePos = rank
			}
		}
	}
	add(denseHits, wDense, true)
	add(sparseHits, wSparse, false)

	fused := make([]*fusedHit, 0, len(order))
	for _, id := range order {
		fused = append(fused, merged[id])
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		if fused[i].densePos != fused[j].densePos {
			return fused[i].densePos < fused[j].densePos
		}
		return fused[i].sparsePos < fused[j].sparsePos
	})
	return fused
}
