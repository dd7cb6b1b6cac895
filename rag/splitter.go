package rag

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// maxHeaderLevel 参与切分的最深标题层级: # 菜品名, ## 原料/操作, ### 做法变体.
const maxHeaderLevel = 3

// HeaderSplitter 沿 Markdown 标题层级把父文档切分为检索片段.
type HeaderSplitter struct {
	logger *zap.Logger
}

// NewHeaderSplitter 创建标题切分器.
func NewHeaderSplitter(logger *zap.Logger) *HeaderSplitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeaderSplitter{
		logger: logger.With(zap.String("component", "header_splitter")),
	}
}

// Split 切分全部父文档并构建父子映射.
// 结构切分失败的文档退化为单个整文片段并记录警告, 任何文档都不会被丢弃.
// 每个片段获得新生成的唯一 id, 并复制父文档元数据 (doc_type 改为 child).
func (s *HeaderSplitter) Split(docs []Document) ([]Fragment, *ParentMap) {
	parents := NewParentMap()
	var fragments []Fragment

	for _, doc := range docs {
		parents.addDocument(doc)

		sections, structured := splitByHeaders(doc.Content)
		if !structured {
			s.logger.Warn("结构化切分失败, 整文作为单个片段",
				zap.String("source", doc.Meta.Source))
			sections = []string{doc.Content}
		}

		for i, text := range sections {
			frag := Fragment{
				ID:       uuid.NewString(),
				ParentID: doc.ID,
				Content:  text,
				Index:    i,
				Meta:     doc.Meta,
			}
			frag.Meta.DocType = DocTypeChild

			parents.addFragment(frag.ID, doc.ID)
			fragments = append(fragments, frag)
		}
	}

	s.logger.Info("文档切分完成",
		zap.Int("documents", len(docs)),
		zap.Int("fragments", len(fragments)))
	return fragments, parents
}

// splitByHeaders 按 1-3 级 ATX 标题切分正文, 标题行保留在片段内.
// 没有找到任何可用标题时返回 structured=false.
func splitByHeaders(content string) (sections []string, structured bool) {
	lines := strings.Split(content, "\n")

	var current []string
	inCodeBlock := false
	sawHeader := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			sections = append(sections, text)
		}
		current = current[:0]
	}

	for _, line := range lines {
		// 代码块内的 # 不是标题.
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
			current = append(current, line)
			continue
		}

		if !inCodeBlock {
			if _, level := parseHeading(line); level >= 1 && level <= maxHeaderLevel {
				flush()
				sawHeader = true
				current = append(current, line)
				continue
			}
		}
		current = append(current, line)
	}
	flush()

	if !sawHeader {
		return nil, false
	}
	return sections, true
}

// parseHeading 识别 ATX 风格标题 (# 标题), 返回标题文本与层级;
// 不是标题时返回 ("", 0).
func parseHeading(line string) (heading string, level int) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", 0
	}
	for _, ch := range trimmed {
		if ch == '#' {
			level++
		} else {
			break
		}
	}
	if level < 1 || level > 6 {
		return "", 0
	}
	rest := strings.TrimSpace(trimmed[level:])
	if rest == "" {
		return "", 0
	}
	return rest, level
}
