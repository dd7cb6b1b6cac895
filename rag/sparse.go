package rag

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/chefrag/chefrag/llm/tokenizer"
)

// BM25Config BM25 参数.
type BM25Config struct {
	K1 float64 `json:"k1"` // 词频饱和参数 (1.2-2.0)
	B  float64 `json:"b"`  // 文档长度归一化参数 (0.75)
}

// DefaultBM25Config 返回默认 BM25 参数.
func DefaultBM25Config() BM25Config {
	return BM25Config{K1: 1.5, B: 0.75}
}

// BM25Index 稀疏词法索引, 按 BM25 词频统计打分.
// 统计信息在构建时一次算好, 之后不可变, 并发查询只读共享.
type BM25Index struct {
	config    BM25Config
	fragments []Fragment

	termFreqs []map[string]int
	docLens   []int
	avgDocLen float64
	idf       map[string]float64

	logger *zap.Logger
}

// NewBM25Index 构建稀疏索引并预计算词频统计.
func NewBM25Index(fragments []Fragment, config BM25Config, logger *zap.Logger) *BM25Index {
	if logger == nil {
		logger = zap.NewNop()
	}

	idx := &BM25Index{
		config:    config,
		fragments: fragments,
		termFreqs: make([]map[string]int, len(fragments)),
		docLens:   make([]int, len(fragments)),
		idf:       make(map[string]float64),
		logger:    logger.With(zap.String("component", "bm25_index")),
	}
	idx.computeStats()
	return idx
}

func (idx *BM25Index) computeStats() {
	totalLen := 0
	termDocCount := make(map[string]int)

	for i, frag := range idx.fragments {
		terms := tokenize(frag.Content)
		freq := make(map[string]int, len(terms))
		for _, term := range terms {
			freq[term]++
		}
		idx.termFreqs[i] = freq
		idx.docLens[i] = len(terms)
		totalLen += len(terms)

		for term := range freq {
			termDocCount[term]++
		}
	}

	if len(idx.fragments) > 0 {
		idx.avgDocLen = float64(totalLen) / float64(len(idx.fragments))
	}

	n := float64(len(idx.fragments))
	for term, df := range termDocCount {
		idx.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
}

// Search 返回 BM25 得分最高的 k 个片段, 降序排列; 零分片段不计入.
func (idx *BM25Index) Search(query string, k int) []Hit {
	if len(idx.fragments) == 0 || k <= 0 {
		return nil
	}

	queryTerms := tokenize(query)
	hits := make([]Hit, 0, len(idx.fragments))

	for i, frag := range idx.fragments {
		score := idx.score(queryTerms, i)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Fragment: frag, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})

	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

func (idx *BM25Index) score(queryTerms []string, docIdx int) float64 {
	score := 0.0
	docLen := float64(idx.docLens[docIdx])
	freq := idx.termFreqs[docIdx]

	for _, term := range queryTerms {
		tf, ok := freq[term]
		if !ok {
			continue
		}
		idf := idx.idf[term]

		numerator := float64(tf) * (idx.config.K1 + 1.0)
		denominator := float64(tf) + idx.config.K1*(1.0-idx.config.B+idx.config.B*(docLen/idx.avgDocLen))
		score += idf * (numerator / denominator)
	}
	return score
}

// Len 返回索引的片段数量.
func (idx *BM25Index) Len() int {
	return len(idx.fragments)
}

// tokenize 切分查询与正文: ASCII 词按空白切分并小写,
// CJK 连续段展开为单字 + 相邻双字, 保证中文菜名可以按词法命中.
func tokenize(text string) []string {
	var tokens []string
	var ascii []rune
	var cjk []rune

	flushASCII := func() {
		if len(ascii) > 0 {
			tokens = append(tokens, strings.ToLower(string(ascii)))
			ascii = ascii[:0]
		}
	}
	flushCJK := func() {
		for i, r := range cjk {
			tokens = append(tokens, string(r))
			if i+1 < len(cjk) {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case tokenizer.IsCJK(r) && !unicode.IsPunct(r) && !unicode.IsSpace(r):
			flushASCII()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			flushCJK()
			ascii = append(ascii, r)
		default:
			flushASCII()
			flushCJK()
		}
	}
	flushASCII()
	flushCJK()

	return tokens
}
