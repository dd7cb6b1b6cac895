package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chefrag/chefrag/llm"
	"github.com/chefrag/chefrag/types"
)

// Intent 查询意图, 四个终态之一, 没有中间态.
type Intent string

const (
	IntentChitchat Intent = "chitchat" // 闲聊, 不触发检索
	IntentList     Intent = "list"     // 菜品列表/推荐, 原查询直接检索
	IntentDetail   Intent = "detail"   // 具体做法, 先改写再检索
	IntentGeneral  Intent = "general"  // 其他问题, 先改写再检索; 也是兜底意图
)

// rewriteHistoryWindow 改写时提供给模型的最近对话条数.
const rewriteHistoryWindow = 4

// classifyTemplate 意图分类提示词. 模板归检索核心所有, 措辞可调,
// 输出契约是四个标签之一.
const classifyTemplate = `根据用户的问题，将其分类为以下四种类型之一：

1. 'chitchat' - 打招呼或与做菜无关的闲聊
   例如：你好、在吗、今天天气怎么样

2. 'list' - 用户想要获取菜品列表或推荐，只需要菜名
   例如：推荐几个素菜、有什么川菜、给我3个简单的菜

3. 'detail' - 用户想要具体的制作方法或详细信息
   例如：宫保鸡丁怎么做、制作步骤、需要什么食材

4. 'general' - 其他一般性问题
   例如：什么是川菜、制作技巧、营养价值

请只返回分类结果：chitchat、list、detail 或 general

用户问题: %s

分类结果:`

// rewriteTemplate 查询改写提示词: 具体明确的查询原样保留,
// 模糊查询扩写为利于检索的表述, 代词和序数指代结合最近对话消解.
const rewriteTemplate = `你是一个智能查询分析助手。请分析用户的查询，判断是否需要重写以提高食谱搜索效果。

最近对话（用于消解"它"、"第一个"之类的指代）:
%s

原始查询: %s

分析规则：
1. **具体明确的查询**（直接返回原查询）：
   - 包含具体菜品名称：如"宫保鸡丁怎么做"、"红烧肉的制作方法"
   - 明确的制作询问：如"蛋炒饭需要什么食材"、"糖醋排骨的步骤"

2. **模糊不清的查询**（需要重写）：
   - 过于宽泛：如"做菜"、"有什么好吃的"、"推荐个菜"
   - 缺乏具体信息：如"川菜"、"素菜"、"简单的"
   - 指代上文：如"它怎么做"、"第一个的做法"

重写原则：
- 保持原意不变
- 增加相关烹饪术语
- 指代词替换为对话中提到的具体菜品
- 保持简洁性

示例：
- "做菜" → "简单易做的家常菜谱"
- "有饮品推荐吗" → "简单饮品制作方法"
- "宫保鸡丁怎么做" → "宫保鸡丁怎么做"（保持原查询）

请只输出最终查询，不要输出任何解释:`

// QueryRouter 四态查询路由器: 先分类意图, 再按意图决定是否检索、
// 检索前是否改写查询.
type QueryRouter struct {
	provider llm.ChatProvider
	logger   *zap.Logger
}

// NewQueryRouter 创建查询路由器.
func NewQueryRouter(provider llm.ChatProvider, logger *zap.Logger) *QueryRouter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryRouter{
		provider: provider,
		logger:   logger.With(zap.String("component", "query_router")),
	}
}

// Classify 调用生成能力对查询分类.
// 回复去除首尾空白并小写后校验; 无法识别的回复一律落到 general,
// 分类永远不会向调用方返回错误.
func (r *QueryRouter) Classify(ctx context.Context, query string) Intent {
	reply, err := r.provider.Complete(ctx, fmt.Sprintf(classifyTemplate, query))
	if err != nil {
		r.logger.Warn("意图分类调用失败, 回退为 general", zap.Error(err))
		return IntentGeneral
	}

	switch intent := Intent(strings.ToLower(strings.TrimSpace(reply))); intent {
	case IntentChitchat, IntentList, IntentDetail, IntentGeneral:
		r.logger.Info("查询意图分类完成",
			zap.String("query", query),
			zap.String("intent", string(intent)))
		return intent
	default:
		r.logger.Warn("无法识别的分类输出, 回退为 general",
			zap.String("reply", strings.TrimSpace(reply)))
		return IntentGeneral
	}
}

// Rewrite 结合最近对话改写查询, 结果保证非空.
// 模型输出为空或调用失败时返回原查询; 输出与输入相同只是"未改写",
// 记日志, 不算错误.
func (r *QueryRouter) Rewrite(ctx context.Context, query string, history []types.Message) string {
	prompt := fmt.Sprintf(rewriteTemplate, formatHistory(types.TailWindow(history, rewriteHistoryWindow)), query)

	reply, err := r.provider.Complete(ctx, prompt)
	if err != nil {
		r.logger.Warn("查询改写调用失败, 使用原查询", zap.Error(err))
		return query
	}

	rewritten := strings.TrimSpace(reply)
	if rewritten == "" {
		r.logger.Warn("查询改写输出为空, 使用原查询", zap.String("query", query))
		return query
	}

	if rewritten == query {
		r.logger.Info("查询未改写", zap.String("query", query))
	} else {
		r.logger.Info("查询已改写",
			zap.String("from", query),
			zap.String("to", rewritten))
	}
	return rewritten
}

// ClassifyAndMaybeRewrite 是路由器的对外入口:
// chitchat 不检索; list 用原查询检索; detail/general 先改写.
// 返回意图和最终用于检索的查询.
func (r *QueryRouter) ClassifyAndMaybeRewrite(ctx context.Context, query string, history []types.Message) (Intent, string) {
	intent := r.Classify(ctx, query)

	switch intent {
	case IntentChitchat, IntentList:
		return intent, query
	default:
		return intent, r.Rewrite(ctx, query, history)
	}
}

// formatHistory 把对话消息格式化为提示词里的纯文本.
func formatHistory(history []types.Message) string {
	if len(history) == 0 {
		return "（无）"
	}

	var b strings.Builder
	for _, msg := range history {
		role := "用户"
		if msg.Role == types.RoleAssistant {
			role = "助手"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
