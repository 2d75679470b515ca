package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/freedkr/shebao/internal/config"
	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/queue"
	"github.com/freedkr/shebao/internal/service"
	"github.com/freedkr/shebao/internal/worker"
)

// CalcWorker 异步计算Worker进程
type CalcWorker struct {
	config *config.Config
	db     database.Store
	queue  queue.Client
	worker *worker.Worker
}

func main() {
	// 解析命令行参数
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载Calc Worker配置
	cfg, err := config.LoadConfigForService(config.ServiceTypeCalcWorker, *configPath)
	if err != nil {
		logger.Log.Fatalf("加载配置失败: %v", err)
	}
	logger.Init(cfg)

	// 创建Worker
	w, err := NewCalcWorker(cfg)
	if err != nil {
		logger.Log.Fatalf("创建Worker失败: %v", err)
	}

	// 启动Worker
	w.Start()
}

func NewCalcWorker(cfg *config.Config) (*CalcWorker, error) {
	// 初始化数据库
	db, err := database.NewPostgreSQLDB(&cfg.Database, cfg.App.Debug)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	if err := db.CreateTables(context.Background()); err != nil {
		return nil, fmt.Errorf("创建数据库表失败: %w", err)
	}

	// 初始化队列
	redisQueue, err := queue.NewRedisQueue(context.Background(), cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("初始化队列失败: %w", err)
	}

	calc := service.NewContributionService(db, cfg.Calculation.City)

	return &CalcWorker{
		config: cfg,
		db:     db,
		queue:  redisQueue,
		worker: worker.New(redisQueue, calc, cfg.Worker.PollInterval, cfg.Worker.BlockTimeout),
	}, nil
}

func (w *CalcWorker) Start() {
	log := logger.WithComponent("calc-worker")
	log.Infof("计算Worker启动中... city=%s", w.config.Calculation.City)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.worker.Run(ctx)
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("正在关闭计算Worker...")

	// 等待当前任务结束
	cancel()
	<-done

	w.cleanup()
	log.Info("计算Worker已关闭")
}

func (w *CalcWorker) cleanup() {
	log := logger.WithComponent("calc-worker")
	if err := w.queue.Close(); err != nil {
		log.Errorf("关闭队列失败: %v", err)
	}
	if err := w.db.Close(); err != nil {
		log.Errorf("关闭数据库失败: %v", err)
	}
}
