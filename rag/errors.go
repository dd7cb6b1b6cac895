package rag

import "errors"

// 错误分级: 启动期错误 (语料缺失, 索引构建失败) 终止进程;
// 每次查询的错误作为结构化失败返回, 服务循环继续.
var (
	// ErrEmptyCorpus 语料根目录缺失或没有可加载的文档, 启动期致命.
	ErrEmptyCorpus = errors.New("corpus root missing or empty")

	// ErrNotBuilt 在索引构建完成前调用了检索.
	ErrNotBuilt = errors.New("retriever index not built")

	// ErrRetrieval 两路检索全部失败, 无法产出结果.
	ErrRetrieval = errors.New("all rankers failed")
)
