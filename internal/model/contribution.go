// Package model 定义核心数据模型
package model

import (
	"github.com/shopspring/decimal"
)

// DefaultCity 默认参与计算的城市
const DefaultCity = "佛山"

// 数据种类，对应两类上传文件
const (
	KindSalaries = "salaries"
	KindCities   = "cities"
)

// SalaryRecord 员工月度工资记录
// 同一员工每月一条，按 EmployeeName 聚合
type SalaryRecord struct {
	// EmployeeID 员工工号，不参与聚合
	EmployeeID string `json:"employee_id" yaml:"employee_id"`

	// EmployeeName 员工姓名，聚合键
	EmployeeName string `json:"employee_name" yaml:"employee_name" validate:"required"`

	// Month 月份，如 "2024-01"，前4个字符为年份
	Month string `json:"month" yaml:"month" validate:"required,min=4"`

	// SalaryAmount 工资金额
	SalaryAmount decimal.Decimal `json:"salary_amount" yaml:"salary_amount"`
}

// Year 返回月份字段前4个字符（按字符而非字节计）
func (r SalaryRecord) Year() string {
	runes := []rune(r.Month)
	if len(runes) < 4 {
		return r.Month
	}
	return string(runes[:4])
}

// PolicyRecord 城市社保标准
type PolicyRecord struct {
	CityName string          `json:"city_name" yaml:"city_name" validate:"required"`
	Year     string          `json:"year" yaml:"year" validate:"required,len=4,numeric"`
	BaseMin  decimal.Decimal `json:"base_min" yaml:"base_min"`
	BaseMax  decimal.Decimal `json:"base_max" yaml:"base_max"`
	// Rate 以小数表示的缴纳比例，如 0.15
	Rate decimal.Decimal `json:"rate" yaml:"rate"`
}

// ContributionResult 单个员工的计算结果
type ContributionResult struct {
	EmployeeName     string          `json:"employee_name"`
	AvgSalary        decimal.Decimal `json:"avg_salary"`
	ContributionBase decimal.Decimal `json:"contribution_base"`
	CompanyFee       decimal.Decimal `json:"company_fee"`
}

// ResultSummary 结果表合计行
type ResultSummary struct {
	EmployeeCount         int             `json:"employee_count"`
	AvgSalaryMean         decimal.Decimal `json:"avg_salary_mean"`
	ContributionBaseTotal decimal.Decimal `json:"contribution_base_total"`
	CompanyFeeTotal       decimal.Decimal `json:"company_fee_total"`
}
