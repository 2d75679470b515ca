package database

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/freedkr/shebao/internal/model"
)

// SalaryRow 员工工资表
type SalaryRow struct {
	ID           uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	EmployeeID   string          `json:"employee_id" gorm:"type:varchar(64)"`
	EmployeeName string          `json:"employee_name" gorm:"type:varchar(255);not null;index"`
	Month        string          `json:"month" gorm:"type:varchar(32);not null"`
	SalaryAmount decimal.Decimal `json:"salary_amount" gorm:"type:numeric(18,6);not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

// CityRow 城市社保标准表
type CityRow struct {
	ID        uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	CityName  string          `json:"city_name" gorm:"type:varchar(64);not null;index:idx_city_year"`
	Year      string          `json:"year" gorm:"type:char(4);not null;index:idx_city_year"`
	BaseMin   decimal.Decimal `json:"base_min" gorm:"type:numeric(18,6);not null"`
	BaseMax   decimal.Decimal `json:"base_max" gorm:"type:numeric(18,6);not null"`
	Rate      decimal.Decimal `json:"rate" gorm:"type:numeric(12,8);not null"`
	CreatedAt time.Time       `json:"created_at"`
}

// ResultRow 计算结果表
type ResultRow struct {
	ID               uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	EmployeeName     string          `json:"employee_name" gorm:"type:varchar(255);not null;index"`
	AvgSalary        decimal.Decimal `json:"avg_salary" gorm:"type:numeric(14,2);not null"`
	ContributionBase decimal.Decimal `json:"contribution_base" gorm:"type:numeric(14,2);not null"`
	CompanyFee       decimal.Decimal `json:"company_fee" gorm:"type:numeric(14,2);not null"`
	RunID            string          `json:"run_id,omitempty" gorm:"type:varchar(36);index"`
	CreatedAt        time.Time       `json:"created_at"`
}

// UploadRecord 上传文件记录
type UploadRecord struct {
	ID           string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Kind         string    `json:"kind" gorm:"type:varchar(20);not null;index"`
	OriginalName string    `json:"original_name" gorm:"type:varchar(255);not null"`
	StoragePath  string    `json:"storage_path,omitempty" gorm:"type:text"`
	FileSize     int64     `json:"file_size" gorm:"not null"`
	MD5Hash      string    `json:"md5_hash" gorm:"type:varchar(32);not null"`
	RowCount     int       `json:"row_count" gorm:"not null;default:0"`
	SkippedRows  int       `json:"skipped_rows" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
}

// 计算运行状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// CalculationRun 一次计算的审计记录
type CalculationRun struct {
	ID              string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	JobID           string          `json:"job_id,omitempty" gorm:"type:varchar(36);index"`
	Status          string          `json:"status" gorm:"type:varchar(20);not null;index"`
	City            string          `json:"city" gorm:"type:varchar(64);not null"`
	Year            string          `json:"year,omitempty" gorm:"type:varchar(4)"`
	EmployeeCount   int             `json:"employee_count" gorm:"not null;default:0"`
	CompanyFeeTotal decimal.Decimal `json:"company_fee_total" gorm:"type:numeric(16,2);not null;default:0"`
	PolicySnapshot  datatypes.JSON  `json:"policy_snapshot,omitempty" gorm:"type:jsonb"` // 计算时使用的社保标准
	ErrorMsg        string          `json:"error_msg,omitempty" gorm:"type:text"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

// TableName 指定表名
func (SalaryRow) TableName() string {
	return "salaries"
}

// TableName 指定表名
func (CityRow) TableName() string {
	return "cities"
}

// TableName 指定表名
func (ResultRow) TableName() string {
	return "results"
}

// TableName 指定表名
func (UploadRecord) TableName() string {
	return "upload_records"
}

// TableName 指定表名
func (CalculationRun) TableName() string {
	return "calculation_runs"
}

func salaryRowFrom(r model.SalaryRecord) *SalaryRow {
	return &SalaryRow{
		EmployeeID:   r.EmployeeID,
		EmployeeName: r.EmployeeName,
		Month:        r.Month,
		SalaryAmount: r.SalaryAmount,
	}
}

func (r *SalaryRow) record() model.SalaryRecord {
	return model.SalaryRecord{
		EmployeeID:   r.EmployeeID,
		EmployeeName: r.EmployeeName,
		Month:        r.Month,
		SalaryAmount: r.SalaryAmount,
	}
}

func cityRowFrom(p model.PolicyRecord) *CityRow {
	return &CityRow{
		CityName: p.CityName,
		Year:     p.Year,
		BaseMin:  p.BaseMin,
		BaseMax:  p.BaseMax,
		Rate:     p.Rate,
	}
}

func (r *CityRow) record() model.PolicyRecord {
	return model.PolicyRecord{
		CityName: r.CityName,
		Year:     r.Year,
		BaseMin:  r.BaseMin,
		BaseMax:  r.BaseMax,
		Rate:     r.Rate,
	}
}

func resultRowFrom(runID string, r model.ContributionResult) *ResultRow {
	return &ResultRow{
		EmployeeName:     r.EmployeeName,
		AvgSalary:        r.AvgSalary,
		ContributionBase: r.ContributionBase,
		CompanyFee:       r.CompanyFee,
		RunID:            runID,
	}
}

func (r *ResultRow) record() model.ContributionResult {
	return model.ContributionResult{
		EmployeeName:     r.EmployeeName,
		AvgSalary:        r.AvgSalary,
		ContributionBase: r.ContributionBase,
		CompanyFee:       r.CompanyFee,
	}
}
