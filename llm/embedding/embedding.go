// Package embedding 提供统一的嵌入提供者接口和 OpenAI 兼容实现.
package embedding

import (
	"context"
)

// InputType 指定嵌入优化的输入类型.
type InputType string

const (
	InputTypeQuery    InputType = "query"    // 检索查询
	InputTypeDocument InputType = "document" // 待索引文档
)

// Provider 定义统一的嵌入提供者接口.
// 同一模型下嵌入结果是确定性的, 检索核心把它当作黑盒使用.
type Provider interface {
	// EmbedQuery 嵌入单个查询.
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedDocuments 批量嵌入文档, 返回向量与输入一一对应.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error)

	// Name 返回提供者名称.
	Name() string

	// Dimensions 返回嵌入维度.
	Dimensions() int
}
