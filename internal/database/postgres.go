package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/freedkr/shebao/internal/config"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
)

const defaultBatchSize = 100

// PostgreSQLDB 基于gorm的数据存储
type PostgreSQLDB struct {
	db        *gorm.DB
	batchSize int
}

// 编译期检查
var _ Store = (*PostgreSQLDB)(nil)

// NewPostgreSQLDB 创建PostgreSQL数据库连接
func NewPostgreSQLDB(cfg *config.DatabaseConfig, debug bool) (*PostgreSQLDB, error) {
	log := logger.WithComponent("database")

	// 如果schema为空，使用默认值
	if cfg.Schema == "" {
		cfg.Schema = "shebao"
		log.Warn("schema为空，使用默认值: shebao")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Database, cfg.SSLMode, cfg.Schema)

	gormConfig := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if debug {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", cfg.Schema)).Error; err != nil {
		return nil, fmt.Errorf("创建schema失败: %w", err)
	}
	// 确保设置正确的schema search_path
	if err := db.Exec(fmt.Sprintf("SET search_path TO %s", cfg.Schema)).Error; err != nil {
		return nil, fmt.Errorf("设置schema失败: %w", err)
	}

	// 设置连接池参数
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取数据库连接池失败: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// 测试连接
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("数据库ping失败: %w", err)
	}

	log.WithField("host", cfg.Host).WithField("schema", cfg.Schema).Info("数据库连接成功")
	return &PostgreSQLDB{db: db, batchSize: cfg.BatchSize}, nil
}

// NewGormDB 使用任意gorm方言创建存储，测试中使用sqlite
func NewGormDB(dialector gorm.Dialector, batchSize int) (*PostgreSQLDB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("连接数据库失败: %w", err)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &PostgreSQLDB{db: db, batchSize: batchSize}, nil
}

// CreateTables 创建表结构
func (p *PostgreSQLDB) CreateTables(ctx context.Context) error {
	err := p.db.WithContext(ctx).AutoMigrate(
		&SalaryRow{},
		&CityRow{},
		&ResultRow{},
		&UploadRecord{},
		&CalculationRun{},
	)
	if err != nil {
		return fmt.Errorf("自动迁移失败: %w", err)
	}
	return nil
}

// replaceAll 在一个事务内清空表并批量写入，失败时保留原有数据
func replaceAll[T any](ctx context.Context, db *gorm.DB, batchSize int, table string, rows []*T) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var zero T
		if err := tx.Where("1 = 1").Delete(&zero).Error; err != nil {
			return fmt.Errorf("清空%s失败: %w", table, err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, batchSize).Error; err != nil {
			return fmt.Errorf("批量写入%s失败: %w", table, err)
		}
		return nil
	})
}

// ReplaceSalaries 用新上传的工资数据整体替换旧数据
func (p *PostgreSQLDB) ReplaceSalaries(ctx context.Context, records []model.SalaryRecord) error {
	rows := make([]*SalaryRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, salaryRowFrom(r))
	}
	return replaceAll(ctx, p.db, p.batchSize, "工资数据", rows)
}

// ReplacePolicies 用新上传的社保标准整体替换旧数据
func (p *PostgreSQLDB) ReplacePolicies(ctx context.Context, records []model.PolicyRecord) error {
	rows := make([]*CityRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, cityRowFrom(r))
	}
	return replaceAll(ctx, p.db, p.batchSize, "社保标准", rows)
}

// ReplaceResults 用本次计算结果整体替换旧结果
func (p *PostgreSQLDB) ReplaceResults(ctx context.Context, runID string, results []model.ContributionResult) error {
	rows := make([]*ResultRow, 0, len(results))
	for _, r := range results {
		rows = append(rows, resultRowFrom(runID, r))
	}
	return replaceAll(ctx, p.db, p.batchSize, "计算结果", rows)
}

// ListSalaries 按写入顺序列出工资数据
func (p *PostgreSQLDB) ListSalaries(ctx context.Context) ([]model.SalaryRecord, error) {
	var rows []*SalaryRow
	if err := p.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询工资数据失败: %w", err)
	}
	records := make([]model.SalaryRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

// ListPolicies 列出全部社保标准
func (p *PostgreSQLDB) ListPolicies(ctx context.Context) ([]model.PolicyRecord, error) {
	var rows []*CityRow
	if err := p.db.WithContext(ctx).Order("city_name ASC, year ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询社保标准失败: %w", err)
	}
	records := make([]model.PolicyRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

// FindPolicy 查找城市和年度唯一对应的社保标准
func (p *PostgreSQLDB) FindPolicy(ctx context.Context, city, year string) (*model.PolicyRecord, error) {
	var rows []*CityRow
	err := p.db.WithContext(ctx).
		Where("city_name = ? AND year = ?", city, year).
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询社保标准失败: %w", err)
	}

	switch len(rows) {
	case 0:
		return nil, model.NewNotFoundError(fmt.Sprintf("未找到%s的社保标准数据（%s年），请先上传城市标准数据", city, year))
	case 1:
		rec := rows[0].record()
		return &rec, nil
	default:
		return nil, model.NewValidationError("city_name", city, "unique",
			fmt.Sprintf("%s %s年存在多条社保标准，请检查城市标准数据", city, year))
	}
}

// ListResults 按员工姓名升序列出计算结果
func (p *PostgreSQLDB) ListResults(ctx context.Context) ([]model.ContributionResult, error) {
	var rows []*ResultRow
	if err := p.db.WithContext(ctx).Order("employee_name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询计算结果失败: %w", err)
	}
	results := make([]model.ContributionResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, r.record())
	}
	return results, nil
}

// CreateUploadRecord 创建上传记录
func (p *PostgreSQLDB) CreateUploadRecord(ctx context.Context, record *UploadRecord) error {
	if err := p.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("创建上传记录失败: %w", err)
	}
	return nil
}

// GetUploadRecord 获取上传记录
func (p *PostgreSQLDB) GetUploadRecord(ctx context.Context, id string) (*UploadRecord, error) {
	var rec UploadRecord
	err := p.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NewNotFoundError(fmt.Sprintf("上传记录不存在: %s", id))
		}
		return nil, fmt.Errorf("获取上传记录失败: %w", err)
	}
	return &rec, nil
}

// CreateCalculationRun 创建计算记录
func (p *PostgreSQLDB) CreateCalculationRun(ctx context.Context, run *CalculationRun) error {
	if err := p.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建计算记录失败: %w", err)
	}
	return nil
}

// UpdateCalculationRun 更新计算记录
func (p *PostgreSQLDB) UpdateCalculationRun(ctx context.Context, run *CalculationRun) error {
	if err := p.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("更新计算记录失败: %w", err)
	}
	return nil
}

// GetCalculationRun 获取计算记录
func (p *PostgreSQLDB) GetCalculationRun(ctx context.Context, id string) (*CalculationRun, error) {
	var run CalculationRun
	err := p.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, model.NewNotFoundError(fmt.Sprintf("计算记录不存在: %s", id))
		}
		return nil, fmt.Errorf("获取计算记录失败: %w", err)
	}
	return &run, nil
}

// ListCalculationRuns 按创建时间倒序列出计算记录
func (p *PostgreSQLDB) ListCalculationRuns(ctx context.Context, limit, offset int) ([]*CalculationRun, error) {
	var runs []*CalculationRun
	err := p.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("列出计算记录失败: %w", err)
	}
	return runs, nil
}

// Close 关闭数据库连接
func (p *PostgreSQLDB) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 测试连接
func (p *PostgreSQLDB) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Store 数据存储接口
type Store interface {
	CreateTables(ctx context.Context) error

	ReplaceSalaries(ctx context.Context, records []model.SalaryRecord) error
	ReplacePolicies(ctx context.Context, records []model.PolicyRecord) error
	ReplaceResults(ctx context.Context, runID string, results []model.ContributionResult) error

	ListSalaries(ctx context.Context) ([]model.SalaryRecord, error)
	ListPolicies(ctx context.Context) ([]model.PolicyRecord, error)
	FindPolicy(ctx context.Context, city, year string) (*model.PolicyRecord, error)
	ListResults(ctx context.Context) ([]model.ContributionResult, error)

	CreateUploadRecord(ctx context.Context, record *UploadRecord) error
	GetUploadRecord(ctx context.Context, id string) (*UploadRecord, error)
	CreateCalculationRun(ctx context.Context, run *CalculationRun) error
	UpdateCalculationRun(ctx context.Context, run *CalculationRun) error
	GetCalculationRun(ctx context.Context, id string) (*CalculationRun, error)
	ListCalculationRuns(ctx context.Context, limit, offset int) ([]*CalculationRun, error)

	Close() error
	Ping(ctx context.Context) error
}
