// Package calculator 实现社保公司缴费计算
//
// 计算过程是纯函数：不做I/O，不持有状态，可并发调用。
package calculator

import (
	"sort"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/freedkr/shebao/internal/model"
)

// moneyPlaces 金额保留的小数位数
const moneyPlaces = 2

// ComputeContributions 按员工姓名分组，计算年度月平均工资、缴费基数和公司缴纳金额。
// 结果按员工姓名升序排列。
func ComputeContributions(salaries []model.SalaryRecord, policy model.PolicyRecord) ([]model.ContributionResult, error) {
	if len(salaries) == 0 {
		return nil, model.NewEmptyInputError("没有工资数据可供计算")
	}
	if err := ValidatePolicy(policy); err != nil {
		return nil, err
	}

	type group struct {
		sum   decimal.Decimal
		count int64
	}
	groups := make(map[string]*group)
	for _, s := range salaries {
		g, ok := groups[s.EmployeeName]
		if !ok {
			g = &group{}
			groups[s.EmployeeName] = g
		}
		g.sum = g.sum.Add(s.SalaryAmount)
		g.count++
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]model.ContributionResult, 0, len(names))
	for _, name := range names {
		g := groups[name]
		avg := g.sum.Div(decimal.NewFromInt(g.count))
		base := Clamp(avg, policy.BaseMin, policy.BaseMax).Round(moneyPlaces)

		results = append(results, model.ContributionResult{
			EmployeeName:     name,
			AvgSalary:        avg.Round(moneyPlaces),
			ContributionBase: base,
			CompanyFee:       base.Mul(policy.Rate).Round(moneyPlaces),
		})
	}
	return results, nil
}

// Clamp 将值限制在 [lo, hi] 区间内，边界值原样返回
func Clamp(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// ValidatePolicy 校验社保标准：0 ≤ base_min ≤ base_max，rate > 0
func ValidatePolicy(policy model.PolicyRecord) error {
	if policy.BaseMin.IsNegative() {
		return model.NewInvalidPolicyError("base_min", policy.BaseMin.String(), "gte=0", "基数下限不能为负数")
	}
	if policy.BaseMin.GreaterThan(policy.BaseMax) {
		return model.NewInvalidPolicyError("base_max", policy.BaseMax.String(), "gtefield=BaseMin",
			"基数上限不能小于基数下限 "+policy.BaseMin.String())
	}
	if !policy.Rate.IsPositive() {
		return model.NewInvalidPolicyError("rate", policy.Rate.String(), "gt=0", "缴纳比例必须大于0")
	}
	return nil
}

// ResolveYear 从工资记录的月份中取得计算年度。
// 所有记录必须属于同一年度，否则返回 MultiYearError。
func ResolveYear(salaries []model.SalaryRecord) (string, error) {
	if len(salaries) == 0 {
		return "", model.NewEmptyInputError("没有工资数据可供计算")
	}

	seen := make(map[string]struct{})
	var years []string
	for _, s := range salaries {
		if utf8.RuneCountInString(s.Month) < 4 {
			return "", model.NewValidationError("month", s.Month, "min=4",
				"员工 "+s.EmployeeName+" 的月份无法识别年度")
		}
		y := s.Year()
		if _, ok := seen[y]; !ok {
			seen[y] = struct{}{}
			years = append(years, y)
		}
	}
	if len(years) > 1 {
		return "", model.NewMultiYearError(years)
	}
	return years[0], nil
}

// Summarize 计算结果表的合计行：平均工资取均值，缴费基数与公司缴纳金额求和
func Summarize(results []model.ContributionResult) model.ResultSummary {
	summary := model.ResultSummary{EmployeeCount: len(results)}
	if len(results) == 0 {
		return summary
	}

	var avgTotal decimal.Decimal
	for _, r := range results {
		avgTotal = avgTotal.Add(r.AvgSalary)
		summary.ContributionBaseTotal = summary.ContributionBaseTotal.Add(r.ContributionBase)
		summary.CompanyFeeTotal = summary.CompanyFeeTotal.Add(r.CompanyFee)
	}
	summary.AvgSalaryMean = avgTotal.Div(decimal.NewFromInt(int64(len(results)))).Round(moneyPlaces)
	summary.ContributionBaseTotal = summary.ContributionBaseTotal.Round(moneyPlaces)
	summary.CompanyFeeTotal = summary.CompanyFeeTotal.Round(moneyPlaces)
	return summary
}
