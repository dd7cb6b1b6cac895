// Package tokenizer 提供上下文预算使用的 token 计数能力.
// 生成阶段用它把检索到的食谱上下文裁剪到模型窗口之内.
package tokenizer

import "github.com/chefrag/chefrag/types"

// Tokenizer 统一的 token 计数接口.
type Tokenizer interface {
	// CountTokens 返回文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回一组对话消息的 token 总数（含角色开销）.
	CountMessages(messages []types.Message) (int, error)

	// Name 返回分词器名称.
	Name() string
}
