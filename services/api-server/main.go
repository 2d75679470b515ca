package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/freedkr/shebao/internal/config"
	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/parser"
	"github.com/freedkr/shebao/internal/queue"
	"github.com/freedkr/shebao/internal/service"
	"github.com/freedkr/shebao/internal/storage"
	"github.com/freedkr/shebao/services/api-server/handlers"
	"github.com/freedkr/shebao/services/api-server/middleware"
)

type Server struct {
	config *config.Config
	db     database.Store
	queue  queue.Client
	router *gin.Engine
}

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载API服务器配置
	cfg, err := config.LoadConfigForService(config.ServiceTypeAPIServer, *configPath)
	if err != nil {
		logger.Log.Fatalf("加载配置失败: %v", err)
	}
	logger.Init(cfg)

	// 金额以JSON数字输出
	decimal.MarshalJSONWithoutQuotes = true

	// 创建服务器
	server, err := NewServer(cfg)
	if err != nil {
		logger.Log.Fatalf("创建服务器失败: %v", err)
	}

	// 启动服务器
	if err := server.Start(); err != nil {
		logger.Log.Fatalf("启动服务器失败: %v", err)
	}
}

func NewServer(cfg *config.Config) (*Server, error) {
	log := logger.WithComponent("api-server")

	// 设置Gin模式
	gin.SetMode(cfg.APIServer.Mode)
	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	}

	log.Infof("正在初始化数据库连接: db=%s", cfg.Database.Database)
	db, err := database.NewPostgreSQLDB(&cfg.Database, cfg.App.Debug)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}

	// 创建表结构
	ctx := context.Background()
	if err := db.CreateTables(ctx); err != nil {
		return nil, fmt.Errorf("创建数据库表失败: %w", err)
	}

	// 初始化存储，未启用时上传文件不归档
	var archive storage.StorageInterface
	if cfg.Storage.Enabled {
		minioStorage, err := storage.NewMinIOStorage(&cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("初始化存储失败: %w", err)
		}
		// 确保存储桶存在
		if err := minioStorage.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("确保存储桶失败: %w", err)
		}
		archive = minioStorage
	}

	// 初始化队列，未启用时不提供异步计算
	var redisQueue queue.Client
	if cfg.Queue.Enabled {
		redisQueue, err = queue.NewRedisQueue(ctx, cfg.Queue)
		if err != nil {
			return nil, fmt.Errorf("初始化队列失败: %w", err)
		}
	}

	excelParser := parser.NewExcelParser(&parser.ParserConfig{
		SheetName:     cfg.Parser.SheetName,
		StrictMode:    cfg.Parser.StrictMode,
		SkipEmptyRows: cfg.Parser.SkipEmptyRows,
		MaxRows:       cfg.Parser.MaxRows,
	})
	if err := excelParser.Validate(); err != nil {
		return nil, fmt.Errorf("解析器配置无效: %w", err)
	}

	importer := service.NewImportService(db, archive, excelParser, cfg.APIServer.MaxUploadSize)
	calc := service.NewContributionService(db, cfg.Calculation.City)
	h := handlers.NewHandlers(importer, calc, db, redisQueue)

	return &Server{
		config: cfg,
		db:     db,
		queue:  redisQueue,
		router: NewRouter(h, cfg.APIServer.MaxUploadSize),
	}, nil
}

// NewRouter 创建带中间件的路由
func NewRouter(h *handlers.Handlers, maxUploadSize int64) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = maxUploadSize
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())

	h.Register(router)
	return router
}

func (s *Server) Start() error {
	log := logger.WithComponent("api-server")
	addr := fmt.Sprintf("%s:%d", s.config.APIServer.Host, s.config.APIServer.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.APIServer.Timeout,
		WriteTimeout: s.config.APIServer.Timeout,
	}

	// 在goroutine中启动服务器
	go func() {
		log.Infof("API服务器启动在 %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("启动服务器失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	// 创建关闭上下文
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 关闭HTTP服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("服务器关闭失败: %v", err)
		return err
	}

	// 关闭数据库连接
	if err := s.db.Close(); err != nil {
		log.Errorf("关闭数据库失败: %v", err)
	}

	// 关闭队列连接
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			log.Errorf("关闭队列失败: %v", err)
		}
	}

	log.Info("服务器已关闭")
	return nil
}
