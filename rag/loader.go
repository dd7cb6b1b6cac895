package rag

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// categoryTable 路径目录名到菜品分类的固定映射.
var categoryTable = map[string]string{
	"meat_dish":      "荤菜",
	"vegetable_dish": "素菜",
	"soup":           "汤品",
	"dessert":        "甜品",
	"breakfast":      "早餐",
	"staple":         "主食",
	"aquatic":        "水产",
	"condiment":      "调料",
	"drink":          "饮品",
}

const categoryOther = "其他"

// difficultyLabels ★ 数量到难度标签的有序映射, 从最难到最简单匹配.
var difficultyLabels = []struct {
	marker string
	label  string
}{
	{"★★★★★", "非常困难"},
	{"★★★★", "困难"},
	{"★★★", "中等难度"},
	{"★★", "比较简单"},
	{"★", "简单"},
}

const difficultyUnknown = "未知难度"

// CorpusLoader 递归加载语料根目录下的菜谱文档并补全派生元数据.
type CorpusLoader struct {
	root   string
	logger *zap.Logger
}

// NewCorpusLoader 创建语料加载器.
func NewCorpusLoader(root string, logger *zap.Logger) *CorpusLoader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CorpusLoader{
		root:   root,
		logger: logger.With(zap.String("component", "corpus_loader")),
	}
}

// Load 递归枚举根目录下的 .md 文件, 每个文件构建一个父文档.
// 单个文件读取失败只记录警告并跳过, 不会中断整次加载;
// 根目录缺失或没有加载到任何文档返回 ErrEmptyCorpus.
func (l *CorpusLoader) Load(ctx context.Context) ([]Document, error) {
	info, err := os.Stat(l.root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, l.root)
	}

	var docs []Document
	walkErr := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("跳过无法访问的路径", zap.String("path", path), zap.Error(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".md") {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("读取文件失败, 已跳过", zap.String("path", path), zap.Error(err))
			return nil
		}

		docs = append(docs, Document{
			ID:      documentID(path),
			Content: string(content),
			Meta:    deriveMeta(path, string(content)),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walk corpus %s: %w", l.root, walkErr)
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no .md files under %s", ErrEmptyCorpus, l.root)
	}

	l.logger.Info("语料加载完成",
		zap.String("root", l.root),
		zap.Int("documents", len(docs)))
	return docs, nil
}

// documentID 返回源路径的确定性哈希, 同一路径在每次加载中得到同一 id.
func documentID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

// deriveMeta 从路径和正文推导文档元数据.
func deriveMeta(path, content string) DocMeta {
	return DocMeta{
		Source:     path,
		Category:   deriveCategory(path),
		DishName:   deriveDishName(path),
		Difficulty: deriveDifficulty(content),
		DocType:    DocTypeParent,
	}
}

// deriveCategory 在路径的各级目录名中查找分类关键词.
func deriveCategory(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, part := range parts {
		if category, ok := categoryTable[part]; ok {
			return category
		}
	}
	return categoryOther
}

// deriveDishName 取文件名去掉扩展名作为菜品名称.
func deriveDishName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// deriveDifficulty 按正文中连续 ★ 的数量推导难度, 没有 ★ 视为未知.
func deriveDifficulty(content string) string {
	for _, d := range difficultyLabels {
		if strings.Contains(content, d.marker) {
			return d.label
		}
	}
	return difficultyUnknown
}
