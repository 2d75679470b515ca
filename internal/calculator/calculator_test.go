package calculator

import (
	"fmt"
	"testing"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/freedkr/shebao/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func salary(name, month, amount string) model.SalaryRecord {
	return model.SalaryRecord{EmployeeName: name, Month: month, SalaryAmount: d(amount)}
}

func foshan(min, max, rate string) model.PolicyRecord {
	return model.PolicyRecord{CityName: "佛山", Year: "2024", BaseMin: d(min), BaseMax: d(max), Rate: d(rate)}
}

// assertDecimal 比较两个金额是否数值相等
func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "期望 %s，实际 %s", want, got)
}

func TestComputeContributions_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		salaries []model.SalaryRecord
		policy   model.PolicyRecord
		avg      string
		base     string
		fee      string
	}{
		{
			name:     "平均工资恰好等于上限",
			salaries: []model.SalaryRecord{salary("A", "2024-01", "5000"), salary("A", "2024-02", "7000")},
			policy:   foshan("3000", "6000", "0.15"),
			avg:      "6000", base: "6000", fee: "900.00",
		},
		{
			name:     "低于下限取下限",
			salaries: []model.SalaryRecord{salary("B", "2024-01", "1000")},
			policy:   foshan("1900", "31851", "0.15"),
			avg:      "1000", base: "1900.00", fee: "285.00",
		},
		{
			name:     "高于上限取上限",
			salaries: []model.SalaryRecord{salary("C", "2024-01", "40000")},
			policy:   foshan("1900", "31851", "0.15"),
			avg:      "40000", base: "31851.00", fee: "4777.65",
		},
		{
			name:     "区间内取平均工资",
			salaries: []model.SalaryRecord{salary("D", "2024-01", "8000"), salary("D", "2024-02", "9000"), salary("D", "2024-03", "10001")},
			policy:   foshan("1900", "31851", "0.15"),
			avg:      "9000.33", base: "9000.33", fee: "1350.05",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := ComputeContributions(tt.salaries, tt.policy)
			require.NoError(t, err)
			require.Len(t, results, 1)

			r := results[0]
			assertDecimal(t, tt.avg, r.AvgSalary)
			assertDecimal(t, tt.base, r.ContributionBase)
			assertDecimal(t, tt.fee, r.CompanyFee)
		})
	}
}

func TestComputeContributions_EmptyInput(t *testing.T) {
	results, err := ComputeContributions(nil, foshan("1900", "31851", "0.15"))
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, model.IsErrorType(err, model.ErrCodeEmptyInput))

	_, err = ComputeContributions([]model.SalaryRecord{}, foshan("1900", "31851", "0.15"))
	assert.True(t, model.IsErrorType(err, model.ErrCodeEmptyInput))
}

func TestComputeContributions_InvalidPolicy(t *testing.T) {
	salaries := []model.SalaryRecord{salary("A", "2024-01", "5000")}

	tests := []struct {
		name   string
		policy model.PolicyRecord
		field  string
	}{
		{"下限大于上限", foshan("6000", "3000", "0.15"), "base_max"},
		{"负比例", foshan("1900", "31851", "-0.15"), "rate"},
		{"零比例", foshan("1900", "31851", "0"), "rate"},
		{"负下限", foshan("-1", "31851", "0.15"), "base_min"},
		{"未填写比例", model.PolicyRecord{BaseMin: d("1"), BaseMax: d("2")}, "rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := ComputeContributions(salaries, tt.policy)
			require.Error(t, err)
			assert.Nil(t, results)
			assert.True(t, model.IsErrorType(err, model.ErrCodeInvalidPolicy))

			var vErr *model.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestComputeContributions_EqualBoundsAccepted(t *testing.T) {
	results, err := ComputeContributions([]model.SalaryRecord{salary("A", "2024-01", "100")}, foshan("5000", "5000", "0.1"))
	require.NoError(t, err)
	assertDecimal(t, "5000", results[0].ContributionBase)
	assertDecimal(t, "500", results[0].CompanyFee)
}

func TestComputeContributions_GroupsByName(t *testing.T) {
	salaries := []model.SalaryRecord{
		salary("张三", "2024-01", "5000"),
		salary("李四", "2024-01", "20000"),
		salary("张三", "2024-02", "6000"),
		salary("王五", "2024-01", "1000"),
		// 重复月份同样计入平均值
		salary("张三", "2024-02", "7000"),
	}
	salaries[0].EmployeeID = "E001"
	salaries[2].EmployeeID = "E999"

	results, err := ComputeContributions(salaries, foshan("1900", "31851", "0.15"))
	require.NoError(t, err)
	require.Len(t, results, 3)

	byName := make(map[string]model.ContributionResult)
	for _, r := range results {
		byName[r.EmployeeName] = r
	}
	assertDecimal(t, "6000", byName["张三"].AvgSalary)
	assertDecimal(t, "900", byName["张三"].CompanyFee)
	assertDecimal(t, "20000", byName["李四"].ContributionBase)
	assertDecimal(t, "1900", byName["王五"].ContributionBase)
}

func TestComputeContributions_Properties(t *testing.T) {
	policy := foshan("1900", "31851", "0.14")
	var salaries []model.SalaryRecord
	names := []string{"甲", "乙", "丙", "丁", "戊", "己"}
	amounts := []string{"0", "1899.99", "1900", "1900.005", "12345.678", "31851", "31851.01", "99999.99", "2500.5"}
	for i, name := range names {
		for m := 1; m <= 12; m++ {
			salaries = append(salaries, salary(name, fmt.Sprintf("2024-%02d", m), amounts[(i*m)%len(amounts)]))
		}
	}

	first, err := ComputeContributions(salaries, policy)
	require.NoError(t, err)
	assert.Len(t, first, len(names), "结果数等于不同姓名数")

	for _, r := range first {
		assert.False(t, r.ContributionBase.LessThan(policy.BaseMin), "%s 基数低于下限", r.EmployeeName)
		assert.False(t, r.ContributionBase.GreaterThan(policy.BaseMax), "%s 基数高于上限", r.EmployeeName)
		assert.True(t, r.CompanyFee.Equal(r.ContributionBase.Mul(policy.Rate).Round(2)), "%s 缴纳金额不一致", r.EmployeeName)
		assert.False(t, r.CompanyFee.IsNegative())
		assert.True(t, r.AvgSalary.Equal(r.AvgSalary.Round(2)))
	}

	second, err := ComputeContributions(salaries, policy)
	require.NoError(t, err)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].EmployeeName, second[i].EmployeeName)
		assert.Equal(t, first[i].AvgSalary.String(), second[i].AvgSalary.String())
		assert.Equal(t, first[i].ContributionBase.String(), second[i].ContributionBase.String())
		assert.Equal(t, first[i].CompanyFee.String(), second[i].CompanyFee.String())
	}
}

func TestComputeContributions_SortedByName(t *testing.T) {
	salaries := []model.SalaryRecord{salary("c", "2024-01", "1"), salary("a", "2024-01", "1"), salary("b", "2024-01", "1")}
	results, err := ComputeContributions(salaries, foshan("1", "2", "0.1"))
	require.NoError(t, err)
	assert.Equal(t, "a", results[0].EmployeeName)
	assert.Equal(t, "b", results[1].EmployeeName)
	assert.Equal(t, "c", results[2].EmployeeName)
}

func TestComputeContributions_RoundHalfAwayFromZero(t *testing.T) {
	// 平均值 5000.005 四舍五入为 5000.01
	salaries := []model.SalaryRecord{salary("A", "2024-01", "5000.00"), salary("A", "2024-02", "5000.01")}
	results, err := ComputeContributions(salaries, foshan("1900", "31851", "0.1"))
	require.NoError(t, err)
	assertDecimal(t, "5000.01", results[0].AvgSalary)
	assertDecimal(t, "5000.01", results[0].ContributionBase)
	assertDecimal(t, "500.00", results[0].CompanyFee)
}

func TestClamp(t *testing.T) {
	lo, hi := d("1900"), d("31851")
	assertDecimal(t, "1900", Clamp(d("1899.999"), lo, hi))
	assertDecimal(t, "1900", Clamp(d("1900"), lo, hi))
	assertDecimal(t, "31851", Clamp(d("31851"), lo, hi))
	assertDecimal(t, "31851", Clamp(d("31851.001"), lo, hi))
	assertDecimal(t, "8000", Clamp(d("8000"), lo, hi))
}

func TestResolveYear(t *testing.T) {
	year, err := ResolveYear([]model.SalaryRecord{salary("A", "2024-01", "1"), salary("B", "2024年12月", "1")})
	require.NoError(t, err)
	assert.Equal(t, "2024", year)

	_, err = ResolveYear(nil)
	assert.True(t, model.IsErrorType(err, model.ErrCodeEmptyInput))

	_, err = ResolveYear([]model.SalaryRecord{salary("A", "2024-12", "1"), salary("A", "2025-01", "1"), salary("B", "2023-06", "1")})
	require.Error(t, err)
	var myErr *model.MultiYearError
	require.ErrorAs(t, err, &myErr)
	assert.Equal(t, []string{"2023", "2024", "2025"}, myErr.Years)

	_, err = ResolveYear([]model.SalaryRecord{salary("A", "24", "1")})
	assert.True(t, model.IsErrorType(err, model.ErrCodeValidation))
}

func TestResolveYear_NonASCIIMonth(t *testing.T) {
	cases := map[string]string{
		"二〇二四年01月": "二〇二四",
		"24年1":      "24年1",
		"2024年1月":   "2024",
	}
	for month, want := range cases {
		year, err := ResolveYear([]model.SalaryRecord{salary("A", month, "1")})
		require.NoError(t, err, month)
		assert.Equal(t, want, year, month)
		assert.True(t, utf8.ValidString(year), month)
	}

	// 三个汉字不足4个字符
	_, err := ResolveYear([]model.SalaryRecord{salary("A", "二〇二", "1")})
	assert.True(t, model.IsErrorType(err, model.ErrCodeValidation))
}

func TestSummarize(t *testing.T) {
	summary := Summarize(nil)
	assert.Equal(t, 0, summary.EmployeeCount)
	assert.True(t, summary.CompanyFeeTotal.IsZero())

	results := []model.ContributionResult{
		{EmployeeName: "A", AvgSalary: d("6000"), ContributionBase: d("6000"), CompanyFee: d("900")},
		{EmployeeName: "B", AvgSalary: d("1000"), ContributionBase: d("1900"), CompanyFee: d("285")},
		{EmployeeName: "C", AvgSalary: d("40000"), ContributionBase: d("31851"), CompanyFee: d("4777.65")},
	}
	summary = Summarize(results)
	assert.Equal(t, 3, summary.EmployeeCount)
	assertDecimal(t, "15666.67", summary.AvgSalaryMean)
	assertDecimal(t, "39751", summary.ContributionBaseTotal)
	assertDecimal(t, "5962.65", summary.CompanyFeeTotal)
}
