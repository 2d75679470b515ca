package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/freedkr/shebao/internal/model"
)

// 工资表规范字段
const (
	FieldEmployeeID   = "employee_id"
	FieldEmployeeName = "employee_name"
	FieldMonth        = "month"
	FieldSalaryAmount = "salary_amount"
)

// 城市社保标准表规范字段
const (
	FieldCityName = "city_name"
	FieldYear     = "year"
	FieldBaseMin  = "base_min"
	FieldBaseMax  = "base_max"
	FieldRate     = "rate"
	// FieldID 数据库导出的自增列，识别后忽略
	FieldID = "id"
)

// FieldSpec 描述一类工作表的表头映射
type FieldSpec struct {
	Kind     string
	Required []string
	// Aliases 表头变体 -> 规范字段；键为 normalizeHeader 之后的形式
	Aliases map[string]string
	// Ignored 可识别但不导入的规范字段
	Ignored []string
	Hint    string
}

// SalaryFields 工资表表头映射
var SalaryFields = newFieldSpec(
	model.KindSalaries,
	[]string{FieldEmployeeID, FieldEmployeeName, FieldMonth, FieldSalaryAmount},
	map[string][]string{
		FieldEmployeeID:   {"员工工号", "工号", "employee_id"},
		FieldEmployeeName: {"员工姓名", "姓名", "employee_name"},
		FieldMonth:        {"月份", "年月", "month"},
		FieldSalaryAmount: {"工资金额", "工资", "salary_amount"},
	},
	nil,
	"请确保Excel文件包含以下列名（中文或英文均可）：员工工号/employee_id、员工姓名/employee_name、月份/month、工资金额/salary_amount",
)

// PolicyFields 城市社保标准表表头映射
var PolicyFields = newFieldSpec(
	model.KindCities,
	[]string{FieldCityName, FieldYear, FieldBaseMin, FieldBaseMax, FieldRate},
	map[string][]string{
		// city_namte 是历史模板中的拼写错误
		FieldCityName: {"城市名称", "城市名", "city_name", "city_namte"},
		FieldYear:     {"年份", "year"},
		FieldBaseMin:  {"基数下限", "社保基数下限", "base_min"},
		FieldBaseMax:  {"基数上限", "社保基数上限", "base_max"},
		FieldRate:     {"缴纳比例", "综合缴纳比例", "rate"},
		FieldID:       {"id"},
	},
	[]string{FieldID},
	"请确保Excel文件包含以下列名（中文或英文均可）：城市名称/city_name、年份/year、基数下限/base_min、基数上限/base_max、缴纳比例/rate",
)

func init() {
	for _, spec := range []*FieldSpec{SalaryFields, PolicyFields} {
		if err := spec.Validate(); err != nil {
			panic(err)
		}
	}
}

func newFieldSpec(kind string, required []string, aliases map[string][]string, ignored []string, hint string) *FieldSpec {
	spec := &FieldSpec{
		Kind:     kind,
		Required: required,
		Aliases:  make(map[string]string),
		Ignored:  ignored,
		Hint:     hint,
	}
	for field, variants := range aliases {
		for _, v := range variants {
			spec.Aliases[normalizeHeader(v)] = field
		}
	}
	return spec
}

// normalizeHeader 去除首尾空白（含全角和不间断空格），ASCII字母转小写
func normalizeHeader(header string) string {
	return strings.ToLower(strings.TrimSpace(header))
}

// Canonical 返回表头对应的规范字段
func (s *FieldSpec) Canonical(header string) (string, bool) {
	field, ok := s.Aliases[normalizeHeader(header)]
	return field, ok
}

// Validate 检查映射表自身的完整性：
// 每个别名都指向必需字段或忽略字段，每个必需字段至少有一个别名。
func (s *FieldSpec) Validate() error {
	known := make(map[string]bool)
	for _, f := range s.Required {
		known[f] = true
	}
	for _, f := range s.Ignored {
		known[f] = true
	}

	covered := make(map[string]bool)
	for alias, field := range s.Aliases {
		if !known[field] {
			return fmt.Errorf("%s 表头映射错误: 别名 %q 指向未知字段 %q", s.Kind, alias, field)
		}
		covered[field] = true
	}
	for _, f := range s.Required {
		if !covered[f] {
			return fmt.Errorf("%s 表头映射错误: 必需字段 %q 没有任何别名", s.Kind, f)
		}
	}
	return nil
}

// AcceptedHeaders 返回某个规范字段接受的全部表头，按字典序
func (s *FieldSpec) AcceptedHeaders(field string) []string {
	var headers []string
	for alias, f := range s.Aliases {
		if f == field {
			headers = append(headers, alias)
		}
	}
	sort.Strings(headers)
	return headers
}

// ColumnMap 表头行映射结果
type ColumnMap struct {
	// Index 规范字段 -> 列下标（0-based），同一字段出现多次时取第一列
	Index map[string]int
	// Actual 表头行的字段名：能识别的用规范名，否则用原始表头
	Actual []string
}

// MapHeaders 映射表头行，缺少必需字段时返回 MissingFieldsError
func (s *FieldSpec) MapHeaders(headers []string) (*ColumnMap, error) {
	cm := &ColumnMap{Index: make(map[string]int)}
	for i, h := range headers {
		if strings.TrimSpace(h) == "" {
			continue
		}
		field, ok := s.Canonical(h)
		if !ok {
			cm.Actual = append(cm.Actual, strings.TrimSpace(h))
			continue
		}
		cm.Actual = append(cm.Actual, field)
		if _, dup := cm.Index[field]; !dup {
			cm.Index[field] = i
		}
	}

	var missing []string
	for _, f := range s.Required {
		if _, ok := cm.Index[f]; !ok {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return nil, model.NewMissingFieldsError(missing, s.Required, cm.Actual, s.Hint)
	}
	return cm, nil
}
