// Package parser 定义解析器相关接口
package parser

import (
	"context"
	"io"

	"github.com/freedkr/shebao/internal/model"
)

// WorkbookParser 上传工作簿解析器接口
type WorkbookParser interface {
	// ParseSalaries 解析员工工资表
	ParseSalaries(ctx context.Context, input io.Reader) (*ParseResult[model.SalaryRecord], error)

	// ParsePolicies 解析城市社保标准表
	ParsePolicies(ctx context.Context, input io.Reader) (*ParseResult[model.PolicyRecord], error)

	// Validate 验证解析器配置
	Validate() error

	// GetName 获取解析器名称
	GetName() string

	// GetSupportedFormats 获取支持的文件格式
	GetSupportedFormats() []string
}

// ParserConfig 解析器配置
type ParserConfig struct {
	// SheetName 工作表名称，为空时读取第一个工作表
	SheetName string `yaml:"sheet_name" json:"sheet_name"`
	// StrictMode 严格模式，遇到错误行立即停止
	StrictMode bool `yaml:"strict_mode" json:"strict_mode"`
	// SkipEmptyRows 跳过全空行
	SkipEmptyRows bool `yaml:"skip_empty_rows" json:"skip_empty_rows"`
	// MaxRows 最大数据行数（0表示不限制）
	MaxRows int `yaml:"max_rows" json:"max_rows"`
}

// ParseResult 解析结果
type ParseResult[T any] struct {
	// Sheet 实际读取的工作表
	Sheet string `json:"sheet"`

	// Records 解析成功的记录
	Records []T `json:"records"`

	// Errors 非严格模式下被跳过的错误行
	Errors *model.ErrorList `json:"errors"`

	// Stats 统计信息
	Stats *ParseStats `json:"stats"`
}

// ParseStats 解析统计
type ParseStats struct {
	TotalRows      int   `json:"total_rows"`      // 数据行数（不含表头）
	ProcessedRows  int   `json:"processed_rows"`  // 处理的行数
	SkippedRows    int   `json:"skipped_rows"`    // 跳过的行数（空行或超出上限）
	SuccessRecords int   `json:"success_records"` // 成功解析的记录数
	ErrorRecords   int   `json:"error_records"`   // 错误记录数
	ProcessingTime int64 `json:"processing_time"` // 处理时间(毫秒)
}
