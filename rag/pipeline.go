package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chefrag/chefrag/types"
)

// Answer 一次问答的结构化结果.
type Answer struct {
	Intent    Intent     `json:"intent"`
	Query     string     `json:"query"` // 实际用于检索的最终查询
	Fragments []Fragment `json:"fragments,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	Text      string     `json:"text"`
}

// Pipeline 把检索核心的四个组件串成完整的问答管线:
// 路由分类 → (改写) → 混合检索 → 父文档解析 → 生成.
//
// 每次查询严格串行经过各阶段; 索引构建是启动期一次性的阻塞批处理,
// 构建完成后的片段集合与两路索引在一代内不可变, 并发查询只读共享.
// 对话历史由调用方持有并传入, 核心不在两次调用之间保留任何会话状态.
type Pipeline struct {
	loader    *CorpusLoader
	splitter  *HeaderSplitter
	retriever *HybridRetriever
	router    *QueryRouter
	generator *Generator
	snapshot  *EmbeddingStore // 可选

	mu       sync.RWMutex
	resolver *ParentResolver

	topK   int
	logger *zap.Logger
}

// PipelineOption 配置 Pipeline 的可选项.
type PipelineOption func(*Pipeline)

// WithSnapshot 启用嵌入快照: 语料未变时跳过重新嵌入.
func WithSnapshot(store *EmbeddingStore) PipelineOption {
	return func(p *Pipeline) { p.snapshot = store }
}

// WithTopK 覆盖每次检索返回的片段数.
func WithTopK(topK int) PipelineOption {
	return func(p *Pipeline) { p.topK = topK }
}

// NewPipeline 组装问答管线.
func NewPipeline(
	loader *CorpusLoader,
	splitter *HeaderSplitter,
	retriever *HybridRetriever,
	router *QueryRouter,
	generator *Generator,
	logger *zap.Logger,
	opts ...PipelineOption,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		loader:    loader,
		splitter:  splitter,
		retriever: retriever,
		router:    router,
		generator: generator,
		logger:    logger.With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// BuildKnowledgeBase 加载语料、切分片段并构建一代检索索引.
// 启用快照且语料指纹命中时跳过嵌入; 否则全量嵌入并回写快照.
// 加载或索引构建失败是启动期致命错误.
func (p *Pipeline) BuildKnowledgeBase(ctx context.Context) error {
	docs, err := p.loader.Load(ctx)
	if err != nil {
		return err
	}

	fragments, parents := p.splitter.Split(docs)

	if err := p.buildIndexes(ctx, fragments); err != nil {
		return fmt.Errorf("build indexes: %w", err)
	}

	p.mu.Lock()
	p.resolver = NewParentResolver(parents, p.logger)
	p.mu.Unlock()

	p.logger.Info("知识库构建完成",
		zap.Int("documents", len(docs)),
		zap.Int("fragments", len(fragments)))
	return nil
}

func (p *Pipeline) buildIndexes(ctx context.Context, fragments []Fragment) error {
	if p.snapshot != nil {
		fingerprint := CorpusFingerprint(fragments)

		vectors, hit, err := p.snapshot.Load(ctx, fingerprint, len(fragments))
		if err != nil {
			p.logger.Warn("读取嵌入快照失败, 改为全量嵌入", zap.Error(err))
		} else if hit {
			return p.retriever.BuildWithVectors(fragments, vectors)
		}

		vectors, err = p.retriever.Build(ctx, fragments)
		if err != nil {
			return err
		}
		if err := p.snapshot.Save(ctx, fingerprint, vectors); err != nil {
			p.logger.Warn("保存嵌入快照失败", zap.Error(err))
		}
		return nil
	}

	_, err := p.retriever.Build(ctx, fragments)
	return err
}

// Retrieve 用最终查询执行混合检索, 返回相关片段.
func (p *Pipeline) Retrieve(ctx context.Context, query string, topK int) ([]Fragment, error) {
	if topK <= 0 {
		topK = p.topK
	}
	return p.retriever.Search(ctx, query, topK)
}

// ResolveParents 把片段列表还原为去重排序后的父文档.
func (p *Pipeline) ResolveParents(fragments []Fragment) ([]Document, error) {
	p.mu.RLock()
	resolver := p.resolver
	p.mu.RUnlock()

	if resolver == nil {
		return nil, ErrNotBuilt
	}
	return resolver.Resolve(fragments), nil
}

// ClassifyAndMaybeRewrite 暴露路由阶段, 返回意图和最终检索查询.
func (p *Pipeline) ClassifyAndMaybeRewrite(ctx context.Context, query string, history []types.Message) (Intent, string) {
	return p.router.ClassifyAndMaybeRewrite(ctx, query, history)
}

// Ask 回答一个用户问题, 走完整管线.
// 返回的错误是单次查询的失败, 调用方的服务循环应继续处理后续问题.
func (p *Pipeline) Ask(ctx context.Context, question string, history []types.Message) (*Answer, error) {
	intent, finalQuery := p.router.ClassifyAndMaybeRewrite(ctx, question, history)

	if intent == IntentChitchat {
		text, err := p.generator.ChitchatAnswer(ctx, question, history)
		if err != nil {
			return nil, fmt.Errorf("answer chitchat: %w", err)
		}
		return &Answer{Intent: intent, Query: question, Text: text}, nil
	}

	fragments, err := p.Retrieve(ctx, finalQuery, 0)
	if err != nil {
		return nil, fmt.Errorf("retrieve for %q: %w", finalQuery, err)
	}

	docs, err := p.ResolveParents(fragments)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Intent:    intent,
		Query:     finalQuery,
		Fragments: fragments,
		Documents: docs,
	}

	switch intent {
	case IntentList:
		answer.Text = p.generator.ListAnswer(docs)
	case IntentDetail:
		answer.Text, err = p.generator.DetailAnswer(ctx, finalQuery, docs, history)
	default:
		answer.Text, err = p.generator.GeneralAnswer(ctx, finalQuery, docs, history)
	}
	if err != nil {
		return nil, fmt.Errorf("generate %s answer: %w", intent, err)
	}
	return answer, nil
}
