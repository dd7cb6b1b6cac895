package rag

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/chefrag/chefrag/types"
)

// fakeEmbedder 确定性嵌入: 优先使用显式登记的向量, 否则对文本哈希生成.
type fakeEmbedder struct {
	vectors  map[string][]float64
	queryErr error
}

func (e *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return e.vectorFor(query), nil
}

func (e *fakeEmbedder) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float64, len(documents))
	for i, doc := range documents {
		vectors[i] = e.vectorFor(doc)
	}
	return vectors, nil
}

func (e *fakeEmbedder) Name() string    { return "fake" }
func (e *fakeEmbedder) Dimensions() int { return 8 }

func (e *fakeEmbedder) vectorFor(text string) []float64 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	sum := sha256.Sum256([]byte(text))
	vector := make([]float64, 8)
	for i := range vector {
		vector[i] = float64(sum[i]) / 255.0
	}
	return vector
}

// fakeChatProvider 脚本化的生成提供者.
// Complete 按顺序吐出 completeReplies, 用完后重复最后一条.
type fakeChatProvider struct {
	mu              sync.Mutex
	completeReplies []string
	completeErr     error
	chatReply       string
	chatErr         error

	completeCalls []string
	chatCalls     [][]types.Message
}

func (p *fakeChatProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.completeCalls = append(p.completeCalls, prompt)
	if p.completeErr != nil {
		return "", p.completeErr
	}
	if len(p.completeReplies) == 0 {
		return "", nil
	}
	reply := p.completeReplies[0]
	if len(p.completeReplies) > 1 {
		p.completeReplies = p.completeReplies[1:]
	}
	return reply, nil
}

func (p *fakeChatProvider) Chat(ctx context.Context, messages []types.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.chatCalls = append(p.chatCalls, messages)
	if p.chatErr != nil {
		return "", p.chatErr
	}
	return p.chatReply, nil
}

func makeFragment(id, parentID, dish, content string, index int) Fragment {
	return Fragment{
		ID:       id,
		ParentID: parentID,
		Content:  content,
		Index:    index,
		Meta: DocMeta{
			DishName: dish,
			DocType:  DocTypeChild,
		},
	}
}
