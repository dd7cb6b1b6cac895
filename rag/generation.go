package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chefrag/chefrag/llm"
	"github.com/chefrag/chefrag/llm/tokenizer"
	"github.com/chefrag/chefrag/types"
)

// GeneratorConfig 回答生成配置.
type GeneratorConfig struct {
	MaxContextTokens int `json:"max_context_tokens"` // 检索上下文的 token 预算
	HistoryWindow    int `json:"history_window"`     // 带入生成的最近对话条数
}

// DefaultGeneratorConfig 返回默认生成配置.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		MaxContextTokens: 1600,
		HistoryWindow:    8,
	}
}

const chitchatSystemPrompt = `你是"知味小厨"，一个友好的烹饪助手。用户在和你闲聊，自然地回应即可，可以顺便引导用户聊聊想吃什么。`

const detailPromptTemplate = `你是一位专业的烹饪导师。请根据食谱信息，为用户提供详细的分步骤指导。

用户问题: %s

相关食谱信息:
%s

请灵活组织回答，建议包含菜品介绍、所需食材、制作步骤、制作技巧等部分，
根据实际内容调整结构，不要强行填充无关内容，重点突出实用性和可操作性。

回答:`

const generalPromptTemplate = `你是一位专业的烹饪助手。请根据以下食谱信息回答用户的问题。

用户问题: %s

相关食谱信息:
%s

请提供详细、实用的回答。如果信息不足，请诚实说明。

回答:`

// Generator 集成语言生成, 按意图选择回答方式.
type Generator struct {
	config   GeneratorConfig
	provider llm.ChatProvider
	counter  tokenizer.Tokenizer
	logger   *zap.Logger
}

// NewGenerator 创建回答生成器.
func NewGenerator(config GeneratorConfig, provider llm.ChatProvider, counter tokenizer.Tokenizer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewEstimatorTokenizer()
	}
	return &Generator{
		config:   config,
		provider: provider,
		counter:  counter,
		logger:   logger.With(zap.String("component", "generator")),
	}
}

// ChitchatAnswer 闲聊回答: 查询加最近对话直接交给生成能力, 不走检索.
func (g *Generator) ChitchatAnswer(ctx context.Context, query string, history []types.Message) (string, error) {
	messages := make([]types.Message, 0, g.config.HistoryWindow+2)
	messages = append(messages, types.NewSystemMessage(chitchatSystemPrompt))
	messages = append(messages, types.TailWindow(history, g.config.HistoryWindow)...)
	messages = append(messages, types.NewUserMessage(query))

	answer, err := g.provider.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chitchat answer: %w", err)
	}
	return answer, nil
}

// ListAnswer 列表回答: 去重菜名直接拼装, 不调用生成能力.
func (g *Generator) ListAnswer(docs []Document) string {
	if len(docs) == 0 {
		return "很抱歉，没有找到相关的菜谱"
	}

	var dishes []string
	seen := make(map[string]bool)
	for _, doc := range docs {
		name := doc.Meta.DishName
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		dishes = append(dishes, name)
	}

	switch {
	case len(dishes) == 1:
		return fmt.Sprintf("为你推荐此菜品：%s", dishes[0])
	case len(dishes) <= 3:
		return "为你推荐以下菜品：\n" + numberedList(dishes)
	default:
		return fmt.Sprintf("为你推荐以下菜品：\n%s\n\n还有其他 %d 道菜品可供选择",
			numberedList(dishes[:3]), len(dishes)-3)
	}
}

// DetailAnswer 详细做法回答.
func (g *Generator) DetailAnswer(ctx context.Context, query string, docs []Document, history []types.Message) (string, error) {
	return g.contextAnswer(ctx, detailPromptTemplate, query, docs, history)
}

// GeneralAnswer 一般性问题回答.
func (g *Generator) GeneralAnswer(ctx context.Context, query string, docs []Document, history []types.Message) (string, error) {
	return g.contextAnswer(ctx, generalPromptTemplate, query, docs, history)
}

func (g *Generator) contextAnswer(ctx context.Context, template, query string, docs []Document, history []types.Message) (string, error) {
	prompt := fmt.Sprintf(template, query, g.buildContext(docs))

	messages := make([]types.Message, 0, g.config.HistoryWindow+1)
	messages = append(messages, types.TailWindow(history, g.config.HistoryWindow)...)
	messages = append(messages, types.NewUserMessage(prompt))

	answer, err := g.provider.Chat(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}

// buildContext 把父文档列表拼成生成上下文, 每篇带菜名/分类/难度抬头,
// 按 token 预算截断: 放不下的整篇丢弃, 不截半篇.
func (g *Generator) buildContext(docs []Document) string {
	if len(docs) == 0 {
		return "暂无上下文信息"
	}

	var parts []string
	usedTokens := 0

	for i, doc := range docs {
		header := fmt.Sprintf("食谱%d：%s | 分类：%s | 难易程度：%s",
			i+1, doc.Meta.DishName, doc.Meta.Category, doc.Meta.Difficulty)
		part := header + "\n" + doc.Content

		tokens, err := g.counter.CountTokens(part)
		if err != nil {
			// 计数失败按字符估算, 不阻断生成.
			g.logger.Warn("token 计数失败, 按字符估算", zap.Error(err))
			tokens = len(part) / 4
		}

		if usedTokens+tokens > g.config.MaxContextTokens && len(parts) > 0 {
			g.logger.Info("上下文超出预算, 丢弃剩余文档",
				zap.Int("included", len(parts)),
				zap.Int("dropped", len(docs)-len(parts)))
			break
		}
		parts = append(parts, part)
		usedTokens += tokens
	}

	return "\n" + strings.Repeat("=", 50) + "\n" + strings.Join(parts, "\n\n")
}

func numberedList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item)
	}
	return strings.TrimRight(b.String(), "\n")
}
