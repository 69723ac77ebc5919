// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"resume-chat-go/internal/config"
	"resume-chat-go/internal/handler"
	"resume-chat-go/internal/middleware"
	"resume-chat-go/internal/model"
	"resume-chat-go/internal/pipeline"
	"resume-chat-go/internal/rag"
	"resume-chat-go/internal/repository"
	"resume-chat-go/internal/service"
	"resume-chat-go/pkg/database"
	"resume-chat-go/pkg/embedding"
	"resume-chat-go/pkg/es"
	"resume-chat-go/pkg/kafka"
	"resume-chat-go/pkg/llm"
	"resume-chat-go/pkg/log"
	"resume-chat-go/pkg/storage"
	"resume-chat-go/pkg/tika"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := "./configs/config.yaml"
	if p := os.Getenv("RESUMECHAT_CONFIG"); p != "" {
		configPath = p
	}

	// 1. 初始化配置
	config.Init(configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath, log.RotateOptions{
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 配置不完整时不对外提供服务
	if err := config.Validate(cfg); err != nil {
		log.Fatal("配置校验失败", err)
	}

	// 3. 初始化数据库、Redis 和各外部服务
	database.InitMySQL(cfg.Database.MySQL.DSN, &model.ResumeUpload{}, &model.DocumentVector{})
	database.InitRedis(cfg.Database.Redis)
	storage.InitMinIO(cfg.MinIO)
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Fatal("es 初始化失败", err)
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	uploadRepo := repository.NewUploadRepository(database.DB)
	docVectorRepo := repository.NewDocumentVectorRepository(database.DB)
	historyRepo := newHistoryRepository(cfg.History)

	// 5. 初始化问答编排：句柄注册表、链缓存与 Orchestrator
	metrics := rag.NewMetrics(prometheus.DefaultRegisterer, "resumechat")
	registry := rag.NewRegistry(metrics)
	llmClient := llm.NewClient(cfg.LLM)
	chainFactory := rag.NewChainFactory(llmClient, rag.NewPromptTemplate(cfg.LLM.Prompt), historyRepo, rag.ChainOptions{
		TopK:        cfg.RAG.TopK,
		MemoryTurns: cfg.RAG.MemoryTurns,
		Generation:  llm.GenerationFromConfig(cfg.LLM.Generation),
	})
	chains := rag.NewChainCache(registry, chainFactory, cfg.RAG.ChainIdleTTL, metrics)
	orchestrator := rag.NewOrchestrator(registry, chains, rag.Options{
		ReadyAttempts: cfg.RAG.ReadyAttempts,
		ReadyDelay:    cfg.RAG.ReadyDelay,
	}, metrics)

	// 6. 初始化 Service (依赖注入)
	bucket := storage.Bucket{Name: cfg.MinIO.BucketName}
	chunkIndex := es.ChunkIndex{IndexName: cfg.Elasticsearch.IndexName}
	tikaClient := tika.NewClient(cfg.Tika)
	embeddingClient := embedding.NewClient(cfg.Embedding)

	chatService := service.NewChatService(orchestrator, historyRepo, service.PersistPolicy(cfg.History.Persist))
	uploadService := service.NewUploadService(uploadRepo, bucket, kafka.Publisher{}, registry, service.UploadOptions{
		MaxFileSize:       cfg.Upload.MaxFileSize,
		AllowedExtensions: cfg.Upload.AllowedExtensions,
	})
	sessionService := service.NewSessionService(registry, historyRepo, uploadRepo, docVectorRepo, chunkIndex, bucket)
	scoreService := service.NewScoreService(uploadRepo, docVectorRepo, cfg.Upload.ChunkOverlap)

	// 7. 初始化简历处理管道 (Processor)
	processor := pipeline.NewProcessor(
		bucket,
		tikaClient,
		embeddingClient,
		chunkIndex,
		uploadRepo,
		docVectorRepo,
		registry,
		func(sessionID, fileMD5 string) rag.Retriever {
			return es.NewSessionRetriever(es.ESClient, embeddingClient, cfg.Elasticsearch.IndexName, sessionID, fileMD5)
		},
		pipeline.Options{ChunkSize: cfg.Upload.ChunkSize, ChunkOverlap: cfg.Upload.ChunkOverlap},
	)
	// 注册表只在内存中，重启后按数据库记录恢复
	if _, err := processor.Restore(); err != nil {
		log.Warnf("恢复会话检索句柄失败: %v", err)
	}

	// 8. 启动后台 Kafka 消费者
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.StartConsumer(consumerCtx, cfg.Kafka, processor, database.RDB)
	}()

	// 9. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS(cfg.Server.CORSOrigins))

	// 10. 注册路由
	r.GET("/", handler.Index)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/chat/:sessionId", handler.NewChatHandler(chatService).Handle)

	apiV1 := r.Group("/api/v1")
	{
		uploadHandler := handler.NewUploadHandler(uploadService)
		apiV1.POST("/upload", uploadHandler.Upload)
		apiV1.GET("/upload/status", uploadHandler.Status)

		sessionHandler := handler.NewSessionHandler(sessionService)
		sessions := apiV1.Group("/sessions")
		{
			sessions.POST("", sessionHandler.Create)
			sessions.DELETE("/:sessionId", sessionHandler.Delete)
			sessions.GET("/:sessionId/history", sessionHandler.History)
			sessions.GET("/:sessionId/resume", sessionHandler.Resume)
		}

		apiV1.POST("/score", handler.NewScoreHandler(scoreService).Score)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费者并等待正在处理的任务、会话清理结束
	stopConsumer()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	sessionService.Wait()

	kafka.CloseProducer()
	database.CloseRedis()
	database.CloseMySQL()
	log.Info("服务已优雅关闭")
}

func newHistoryRepository(cfg config.HistoryConfig) repository.HistoryRepository {
	if cfg.Backend == "file" {
		repo, err := repository.NewFileHistoryRepository(cfg.Dir)
		if err != nil {
			log.Fatal("初始化聊天记录存储失败", err)
		}
		return repo
	}
	return repository.NewRedisHistoryRepository(database.RDB, cfg.TTL)
}
