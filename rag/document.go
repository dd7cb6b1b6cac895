package rag

// DocType 标记文档在父子层级中的位置.
type DocType string

const (
	DocTypeParent DocType = "parent" // 完整源文件, 交给生成阶段
	DocTypeChild  DocType = "child"  // 结构化切分出的片段, 实际被检索
)

// DocMeta 文档的派生元数据.
// 建模为显式字段而不是开放的 key-value 包, 拼写错误在编译期暴露.
type DocMeta struct {
	Source     string  `json:"source"`     // 源文件路径
	Category   string  `json:"category"`   // 菜品分类, 由路径目录推导
	DishName   string  `json:"dish_name"`  // 菜品名称, 由文件名推导
	Difficulty string  `json:"difficulty"` // 难度等级, 由正文 ★ 数量推导
	DocType    DocType `json:"doc_type"`
}

// Document 父文档: 一个完整的菜谱源文件.
// 一次加载生成后不可变, 只会被整体重载替换.
type Document struct {
	ID      string  `json:"id"` // 源路径的确定性哈希
	Content string  `json:"content"`
	Meta    DocMeta `json:"meta"`
}

// Fragment 子文档: 按标题层级切分出的检索单元.
// ID 是创建时生成的唯一标识, 所有打分与映射都以它为键;
// Index 只是父文档内的展示序号, 不参与查找.
type Fragment struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parent_id"`
	Content  string  `json:"content"` // 标题文本保留在内
	Index    int     `json:"index"`   // 父文档内 0 起始位置
	Meta     DocMeta `json:"meta"`
}

// Filter 元数据过滤条件. 零值字段不参与过滤;
// 标量字段要求精确匹配, 列表字段要求集合包含.
type Filter struct {
	Category     string   `json:"category,omitempty"`
	DishName     string   `json:"dish_name,omitempty"`
	Difficulties []string `json:"difficulties,omitempty"`
}

// Matches 判断元数据是否满足全部过滤条件.
func (f Filter) Matches(meta DocMeta) bool {
	if f.Category != "" && meta.Category != f.Category {
		return false
	}
	if f.DishName != "" && meta.DishName != f.DishName {
		return false
	}
	if len(f.Difficulties) > 0 {
		found := false
		for _, d := range f.Difficulties {
			if meta.Difficulty == d {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ParentMap 子文档到父文档的查找表, 生命周期与一次加载/切分周期一致.
type ParentMap struct {
	fragmentParent map[string]string   // fragment id -> document id
	documents      map[string]Document // document id -> Document
}

// NewParentMap 创建空的父子映射.
func NewParentMap() *ParentMap {
	return &ParentMap{
		fragmentParent: make(map[string]string),
		documents:      make(map[string]Document),
	}
}

func (m *ParentMap) addDocument(doc Document) {
	m.documents[doc.ID] = doc
}

func (m *ParentMap) addFragment(fragmentID, documentID string) {
	m.fragmentParent[fragmentID] = documentID
}

// ParentOf 返回片段所属的父文档 id.
func (m *ParentMap) ParentOf(fragmentID string) (string, bool) {
	id, ok := m.fragmentParent[fragmentID]
	return id, ok
}

// DocumentOf 按 id 返回父文档.
func (m *ParentMap) DocumentOf(documentID string) (Document, bool) {
	doc, ok := m.documents[documentID]
	return doc, ok
}

// Len 返回已登记的片段数量.
func (m *ParentMap) Len() int {
	return len(m.fragmentParent)
}
