// =============================================================================
// ChefRAG 主入口
// =============================================================================
// 菜谱问答命令行入口，包含知识库构建和交互式问答
//
// 使用方法:
//
//	chefrag chat                        # 启动交互式问答
//	chefrag chat --config config.yaml   # 指定配置文件
//	chefrag index                       # 仅构建知识库 (预热嵌入快照)
//	chefrag version                     # 显示版本信息
// =============================================================================
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chefrag/chefrag/config"
	"github.com/chefrag/chefrag/llm"
	"github.com/chefrag/chefrag/llm/embedding"
	"github.com/chefrag/chefrag/llm/tokenizer"
	"github.com/chefrag/chefrag/rag"
	"github.com/chefrag/chefrag/types"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "index":
		runIndex(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	cfg, logger := setup("chat", args)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("初始化失败", zap.Error(err))
	}
	defer cleanup()

	repl(ctx, pipeline)
}

// repl 交互式问答循环. 单次问答失败打印错误后继续, 不退出.
func repl(ctx context.Context, pipeline *rag.Pipeline) {
	fmt.Println("知味小厨已就绪，输入问题开始对话（输入 退出/exit/quit 结束）")

	var history []types.Message
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("\n你: ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		switch strings.ToLower(question) {
		case "退出", "exit", "quit":
			fmt.Println("再见，祝你做菜愉快！")
			return
		}

		answer, err := pipeline.Ask(ctx, question, history)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			fmt.Printf("出错了: %v\n", err)
			continue
		}

		fmt.Printf("\n知味小厨: %s\n", answer.Text)
		history = append(history,
			types.NewUserMessage(question),
			types.NewAssistantMessage(answer.Text))
	}
}

// =============================================================================
// 🗂️ index 命令
// =============================================================================

func runIndex(args []string) {
	cfg, logger := setup("index", args)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, cleanup, err := buildPipeline(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("知识库构建失败", zap.Error(err))
	}
	defer cleanup()

	fmt.Println("知识库构建完成")
}

// =============================================================================
// 🔧 初始化与装配
// =============================================================================

// setup 解析命令行参数并加载配置和日志.
func setup(command string, args []string) (*config.Config, *zap.Logger) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	logger.Info("Starting ChefRAG",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)
	return cfg, logger
}

// buildPipeline 按配置装配完整问答管线并构建知识库.
// 返回的 cleanup 负责关闭快照数据库等资源.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*rag.Pipeline, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	chatProvider := buildChatProvider(cfg, logger)

	embedder := embedding.NewOpenAICompatProvider(embedding.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		MaxBatch:   cfg.Embedding.MaxBatch,
		Timeout:    cfg.Embedding.Timeout,
	}, logger)

	retriever := rag.NewHybridRetriever(rag.HybridConfig{
		TopK:         cfg.Retrieval.TopK,
		CandidateK:   cfg.Retrieval.CandidateK,
		DenseWeight:  cfg.Retrieval.DenseWeight,
		SparseWeight: cfg.Retrieval.SparseWeight,
		BM25: rag.BM25Config{
			K1: cfg.Retrieval.BM25K1,
			B:  cfg.Retrieval.BM25B,
		},
	}, embedder, logger)

	generator := rag.NewGenerator(rag.GeneratorConfig{
		MaxContextTokens: cfg.Generation.MaxContextTokens,
		HistoryWindow:    cfg.Generation.HistoryWindow,
	}, chatProvider, buildTokenizer(cfg), logger)

	opts := []rag.PipelineOption{rag.WithTopK(cfg.Retrieval.TopK)}
	if cfg.Data.SnapshotPath != "" {
		store, err := rag.OpenEmbeddingStore(cfg.Data.SnapshotPath, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { store.Close() })
		opts = append(opts, rag.WithSnapshot(store))
	}

	pipeline := rag.NewPipeline(
		rag.NewCorpusLoader(cfg.Data.RecipesDir, logger),
		rag.NewHeaderSplitter(logger),
		retriever,
		rag.NewQueryRouter(chatProvider, logger),
		generator,
		logger,
		opts...,
	)

	if err := pipeline.BuildKnowledgeBase(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}
	return pipeline, cleanup, nil
}

// buildChatProvider 创建对话提供者, 按配置套上回答缓存.
func buildChatProvider(cfg *config.Config, logger *zap.Logger) llm.ChatProvider {
	provider := llm.NewOpenAICompatProvider(llm.ProviderConfig{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	}, logger)

	cacheConfig := llm.CacheConfig{
		LocalMaxSize: cfg.Cache.LocalSize,
		LocalTTL:     cfg.Cache.LocalTTL,
		RedisTTL:     cfg.Cache.RedisTTL,
		EnableLocal:  cfg.Cache.LocalSize > 0,
		EnableRedis:  cfg.Cache.EnableRedis,
	}
	if !cacheConfig.EnableLocal && !cacheConfig.EnableRedis {
		return provider
	}

	var rdb *redis.Client
	if cfg.Cache.EnableRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
	}

	cache := llm.NewAnswerCache(rdb, cacheConfig, logger)
	return llm.NewCachedChatProvider(provider, cache, cfg.LLM.Model, logger)
}

// buildTokenizer 按配置选择 token 计数方式.
func buildTokenizer(cfg *config.Config) tokenizer.Tokenizer {
	if cfg.Generation.Tokenizer == "tiktoken" {
		return tokenizer.NewTiktokenTokenizer(cfg.LLM.Model)
	}
	return tokenizer.NewEstimatorTokenizer()
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("ChefRAG %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`ChefRAG - 菜谱问答助手

Usage:
  chefrag <command> [options]

Commands:
  chat      启动交互式问答
  index     仅构建知识库 (预热嵌入快照)
  version   显示版本信息
  help      显示帮助

Options:
  --config <path>   配置文件路径 (YAML)

Examples:
  chefrag chat
  chefrag chat --config /etc/chefrag/config.yaml
  chefrag index --config config.yaml
  chefrag version`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}
