package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chefrag/chefrag/types"
)

func newTestPipeline(t *testing.T, provider *fakeChatProvider, opts ...PipelineOption) *Pipeline {
	t.Helper()

	root := t.TempDir()
	writeRecipe(t, root, "meat_dish/宫保鸡丁.md",
		"# 宫保鸡丁\n\n预估烹饪难度：★★★\n\n## 必备原料和工具\n\n鸡腿肉、花生米\n\n## 操作\n\n先腌制再炒\n")
	writeRecipe(t, root, "vegetable_dish/凉拌黄瓜.md",
		"# 凉拌黄瓜\n\n预估烹饪难度：★\n\n## 必备原料和工具\n\n黄瓜、蒜\n\n## 操作\n\n拍碎凉拌\n")

	config := DefaultHybridConfig()
	config.SparseWeight = 0.5
	retriever := NewHybridRetriever(config, &fakeEmbedder{}, nil)

	pipeline := NewPipeline(
		NewCorpusLoader(root, nil),
		NewHeaderSplitter(nil),
		retriever,
		NewQueryRouter(provider, nil),
		NewGenerator(DefaultGeneratorConfig(), provider, nil, nil),
		nil,
		opts...,
	)
	require.NoError(t, pipeline.BuildKnowledgeBase(context.Background()))
	return pipeline
}

func TestPipelineAskList(t *testing.T) {
	provider := &fakeChatProvider{completeReplies: []string{"list"}}
	pipeline := newTestPipeline(t, provider)

	answer, err := pipeline.Ask(context.Background(), "推荐几个荤菜", nil)
	require.NoError(t, err)

	assert.Equal(t, IntentList, answer.Intent)
	assert.Equal(t, "推荐几个荤菜", answer.Query, "list 意图用原查询检索")
	assert.NotEmpty(t, answer.Fragments)
	assert.NotEmpty(t, answer.Documents)
	assert.Contains(t, answer.Text, "推荐")
}

func TestPipelineAskChitchatSkipsRetrieval(t *testing.T) {
	provider := &fakeChatProvider{
		completeReplies: []string{"chitchat"},
		chatReply:       "你好呀，想吃点什么？",
	}
	pipeline := newTestPipeline(t, provider)

	answer, err := pipeline.Ask(context.Background(), "你好", nil)
	require.NoError(t, err)

	assert.Equal(t, IntentChitchat, answer.Intent)
	assert.Equal(t, "你好呀，想吃点什么？", answer.Text)
	assert.Empty(t, answer.Fragments, "闲聊不触发检索")
	assert.Empty(t, answer.Documents)
}

func TestPipelineAskDetailRewrites(t *testing.T) {
	provider := &fakeChatProvider{
		completeReplies: []string{"detail", "宫保鸡丁的详细做法"},
		chatReply:       "先腌制鸡肉，再下锅爆炒。",
	}
	pipeline := newTestPipeline(t, provider)

	history := []types.Message{
		types.NewUserMessage("推荐个荤菜"),
		types.NewAssistantMessage("为你推荐此菜品：宫保鸡丁"),
	}
	answer, err := pipeline.Ask(context.Background(), "它怎么做", history)
	require.NoError(t, err)

	assert.Equal(t, IntentDetail, answer.Intent)
	assert.Equal(t, "宫保鸡丁的详细做法", answer.Query, "detail 意图先改写再检索")
	assert.Equal(t, "先腌制鸡肉，再下锅爆炒。", answer.Text)
	assert.NotEmpty(t, answer.Documents)
}

func TestPipelineSingleParentProperty(t *testing.T) {
	provider := &fakeChatProvider{completeReplies: []string{"general", "宫保鸡丁的做法"}}
	provider.chatReply = "回答"
	pipeline := newTestPipeline(t, provider)

	answer, err := pipeline.Ask(context.Background(), "宫保鸡丁的做法", nil)
	require.NoError(t, err)

	// 同一父文档的多个片段只产出一个父文档.
	seen := make(map[string]bool)
	for _, doc := range answer.Documents {
		assert.False(t, seen[doc.ID], "父文档不应重复")
		seen[doc.ID] = true
	}
	for _, frag := range answer.Fragments {
		assert.Equal(t, DocTypeChild, frag.Meta.DocType)
	}
}

func TestPipelineCategoryExclusive(t *testing.T) {
	root := t.TempDir()
	writeRecipe(t, root, "meat_dish/宫保鸡丁.md",
		"# 宫保鸡丁\n\n## 必备原料和工具\n\n鸡腿肉、花生米\n\n## 操作\n\n先腌制再炒\n")
	writeRecipe(t, root, "vegetable_dish/凉拌黄瓜.md",
		"# 凉拌黄瓜\n\n## 必备原料和工具\n\n黄瓜、蒜\n\n## 操作\n\n黄瓜拍碎凉拌\n")

	// 纯词法检索, 零分片段不进入候选, 结果可完全预判.
	config := DefaultHybridConfig()
	config.DenseWeight = 0
	config.SparseWeight = 1.0
	retriever := NewHybridRetriever(config, &fakeEmbedder{}, nil)

	provider := &fakeChatProvider{completeReplies: []string{"general", "黄瓜的做法"}}
	provider.chatReply = "拍碎后加蒜凉拌即可。"

	pipeline := NewPipeline(
		NewCorpusLoader(root, nil),
		NewHeaderSplitter(nil),
		retriever,
		NewQueryRouter(provider, nil),
		NewGenerator(DefaultGeneratorConfig(), provider, nil, nil),
		nil,
	)
	require.NoError(t, pipeline.BuildKnowledgeBase(context.Background()))

	answer, err := pipeline.Ask(context.Background(), "黄瓜怎么做", nil)
	require.NoError(t, err)

	require.NotEmpty(t, answer.Documents)
	for _, doc := range answer.Documents {
		assert.Equal(t, "凉拌黄瓜", doc.Meta.DishName, "只命中目标分类的菜谱")
		assert.Equal(t, "素菜", doc.Meta.Category)
	}
}

func TestPipelineResolveBeforeBuild(t *testing.T) {
	retriever := NewHybridRetriever(DefaultHybridConfig(), &fakeEmbedder{}, nil)
	pipeline := NewPipeline(
		NewCorpusLoader(t.TempDir(), nil),
		NewHeaderSplitter(nil),
		retriever,
		NewQueryRouter(&fakeChatProvider{}, nil),
		NewGenerator(DefaultGeneratorConfig(), &fakeChatProvider{}, nil, nil),
		nil,
	)

	_, err := pipeline.ResolveParents(nil)
	assert.ErrorIs(t, err, ErrNotBuilt)
}

func TestPipelineSnapshotWarmStart(t *testing.T) {
	store, err := OpenEmbeddingStore(filepath.Join(t.TempDir(), "emb.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	provider := &fakeChatProvider{completeReplies: []string{"list"}}
	pipeline := newTestPipeline(t, provider, WithSnapshot(store))

	// 第二次构建走快照, 结果不变.
	require.NoError(t, pipeline.BuildKnowledgeBase(context.Background()))

	answer, err := pipeline.Ask(context.Background(), "推荐几个菜", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Documents)
}
