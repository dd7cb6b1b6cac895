package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chefrag/chefrag/types"
)

func TestQueryRouterClassify(t *testing.T) {
	cases := []struct {
		reply string
		want  Intent
	}{
		{"chitchat", IntentChitchat},
		{"list", IntentList},
		{"detail", IntentDetail},
		{"general", IntentGeneral},
		{"  Detail \n", IntentDetail},
		{"LIST", IntentList},
		{"我不知道", IntentGeneral},
		{"", IntentGeneral},
	}

	for _, tc := range cases {
		provider := &fakeChatProvider{completeReplies: []string{tc.reply}}
		router := NewQueryRouter(provider, nil)

		got := router.Classify(context.Background(), "随便问点什么")
		assert.Equal(t, tc.want, got, "reply=%q", tc.reply)
	}
}

func TestQueryRouterClassifyProviderError(t *testing.T) {
	provider := &fakeChatProvider{completeErr: errors.New("model unavailable")}
	router := NewQueryRouter(provider, nil)

	got := router.Classify(context.Background(), "宫保鸡丁怎么做")
	assert.Equal(t, IntentGeneral, got, "分类失败回退为 general, 不向调用方报错")
}

func TestQueryRouterRewrite(t *testing.T) {
	t.Run("rewritten", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"简单易做的家常菜谱"}}
		router := NewQueryRouter(provider, nil)

		got := router.Rewrite(context.Background(), "做菜", nil)
		assert.Equal(t, "简单易做的家常菜谱", got)
	})

	t.Run("empty output falls back to original", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"   "}}
		router := NewQueryRouter(provider, nil)

		got := router.Rewrite(context.Background(), "做菜", nil)
		assert.Equal(t, "做菜", got, "改写结果必须非空")
	})

	t.Run("provider error falls back to original", func(t *testing.T) {
		provider := &fakeChatProvider{completeErr: errors.New("timeout")}
		router := NewQueryRouter(provider, nil)

		got := router.Rewrite(context.Background(), "宫保鸡丁怎么做", nil)
		assert.Equal(t, "宫保鸡丁怎么做", got)
	})

	t.Run("history is included in prompt", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"宫保鸡丁的做法"}}
		router := NewQueryRouter(provider, nil)

		history := []types.Message{
			types.NewUserMessage("推荐个荤菜"),
			types.NewAssistantMessage("为你推荐此菜品：宫保鸡丁"),
		}
		router.Rewrite(context.Background(), "它怎么做", history)

		require.Len(t, provider.completeCalls, 1)
		assert.Contains(t, provider.completeCalls[0], "宫保鸡丁", "最近对话要进入改写提示词")
		assert.Contains(t, provider.completeCalls[0], "它怎么做")
	})
}

func TestClassifyAndMaybeRewrite(t *testing.T) {
	t.Run("list keeps raw query", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"list"}}
		router := NewQueryRouter(provider, nil)

		intent, query := router.ClassifyAndMaybeRewrite(context.Background(), "推荐几个素菜", nil)
		assert.Equal(t, IntentList, intent)
		assert.Equal(t, "推荐几个素菜", query)
		assert.Len(t, provider.completeCalls, 1, "list 意图不触发改写调用")
	})

	t.Run("chitchat keeps raw query", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"chitchat"}}
		router := NewQueryRouter(provider, nil)

		intent, query := router.ClassifyAndMaybeRewrite(context.Background(), "你好", nil)
		assert.Equal(t, IntentChitchat, intent)
		assert.Equal(t, "你好", query)
	})

	t.Run("detail rewrites", func(t *testing.T) {
		provider := &fakeChatProvider{completeReplies: []string{"detail", "宫保鸡丁的详细做法"}}
		router := NewQueryRouter(provider, nil)

		intent, query := router.ClassifyAndMaybeRewrite(context.Background(), "它怎么做", nil)
		assert.Equal(t, IntentDetail, intent)
		assert.Equal(t, "宫保鸡丁的详细做法", query)
		assert.Len(t, provider.completeCalls, 2)
	})
}

func TestFormatHistory(t *testing.T) {
	assert.Equal(t, "（无）", formatHistory(nil))

	history := []types.Message{
		types.NewUserMessage("推荐个菜"),
		types.NewAssistantMessage("宫保鸡丁"),
	}
	assert.Equal(t, "用户: 推荐个菜\n助手: 宫保鸡丁", formatHistory(history))
}
