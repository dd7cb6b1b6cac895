// Package rag 实现菜谱问答的检索核心.
//
// 语料是一棵 Markdown 菜谱目录树, 按目录结构推导分类和菜名, 按星级
// 标记推导难度. 每篇菜谱按标题切分为片段, 片段进入稠密 (向量余弦)
// 和稀疏 (BM25) 两路索引, 查询时两路并发检索后用 RRF 融合, 再把
// 片段还原为完整菜谱交给生成阶段.
//
// 查询先经过意图路由: 闲聊直接生成, 列表类用原查询检索并拼装菜名,
// 做法类和一般问题先结合对话历史改写再检索. Pipeline 把这些组件
// 串成完整管线, 各组件也可单独使用.
package rag
