package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Config 配置 OpenAI 兼容嵌入提供者.
type Config struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Model      string        `json:"model"`
	Dimensions int           `json:"dimensions"`
	MaxBatch   int           `json:"max_batch"`
	Timeout    time.Duration `json:"timeout"`
}

// OpenAICompatProvider 通过 OpenAI 兼容的 /embeddings 接口生成嵌入.
type OpenAICompatProvider struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

// NewOpenAICompatProvider 创建 OpenAI 兼容嵌入提供者.
func NewOpenAICompatProvider(config Config, logger *zap.Logger) *OpenAICompatProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 64
	}
	return &OpenAICompatProvider{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.With(zap.String("component", "embedding_provider")),
	}
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *OpenAICompatProvider) Name() string    { return "openai-compat/" + p.config.Model }
func (p *OpenAICompatProvider) Dimensions() int { return p.config.Dimensions }

// EmbedQuery 嵌入单个查询.
func (p *OpenAICompatProvider) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	vectors, err := p.embedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vectors[0], nil
}

// EmbedDocuments 批量嵌入文档, 超过批大小时自动分批.
func (p *OpenAICompatProvider) EmbedDocuments(ctx context.Context, documents []string) ([][]float64, error) {
	result := make([][]float64, 0, len(documents))
	for start := 0; start < len(documents); start += p.config.MaxBatch {
		end := start + p.config.MaxBatch
		if end > len(documents) {
			end = len(documents)
		}
		vectors, err := p.embedBatch(ctx, documents[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		result = append(result, vectors...)
	}
	return result, nil
}

func (p *OpenAICompatProvider) embedBatch(ctx context.Context, input []string) ([][]float64, error) {
	reqBody, err := json.Marshal(embeddingRequest{
		Model:          p.config.Model,
		Input:          input,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(p.config.BaseURL, "/") + "/embeddings"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API status %d", httpResp.StatusCode)
	}

	var resp embeddingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embedding failed: %s", resp.Error.Message)
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(input), len(resp.Data))
	}

	// API 不保证返回顺序, 按 index 还原.
	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vectors := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}
