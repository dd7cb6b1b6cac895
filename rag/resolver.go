package rag

import (
	"sort"

	"go.uber.org/zap"
)

// ParentResolver 把检索到的片段列表还原为去重后的父文档列表.
//
// 同一父文档被命中的片段数就是它的相关性权重: 检索结果里属于某个
// 菜谱的片段越多, 这个菜谱越靠前.
type ParentResolver struct {
	parents *ParentMap
	logger  *zap.Logger
}

// NewParentResolver 创建父文档解析器. parents 来自同一次加载/切分周期.
func NewParentResolver(parents *ParentMap, logger *zap.Logger) *ParentResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParentResolver{
		parents: parents,
		logger:  logger.With(zap.String("component", "parent_resolver")),
	}
}

// Resolve 按片段命中数降序返回去重后的父文档.
// 命中数相同的父文档保持首次出现的先后顺序 (稳定排序).
// 父文档不在当前加载代中的片段记录警告后跳过, 不影响其余结果.
func (r *ParentResolver) Resolve(fragments []Fragment) []Document {
	counts := make(map[string]int)
	var firstSeen []string

	for _, frag := range fragments {
		if _, ok := counts[frag.ParentID]; !ok {
			firstSeen = append(firstSeen, frag.ParentID)
		}
		counts[frag.ParentID]++
	}

	sort.SliceStable(firstSeen, func(i, j int) bool {
		return counts[firstSeen[i]] > counts[firstSeen[j]]
	})

	docs := make([]Document, 0, len(firstSeen))
	for _, parentID := range firstSeen {
		doc, ok := r.parents.DocumentOf(parentID)
		if !ok {
			r.logger.Warn("片段指向的父文档不在当前加载代, 已跳过",
				zap.String("parent_id", parentID))
			continue
		}
		docs = append(docs, doc)
	}

	if len(docs) > 0 {
		names := make([]string, 0, len(docs))
		for _, doc := range docs {
			names = append(names, doc.Meta.DishName)
		}
		r.logger.Info("父文档解析完成",
			zap.Int("fragments", len(fragments)),
			zap.Int("documents", len(docs)),
			zap.Strings("dishes", names))
	}
	return docs
}
