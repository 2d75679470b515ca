// Package parser 实现上传工作簿解析
package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
)

// ExcelParser 基于excelize的工作簿解析器
type ExcelParser struct {
	config   *ParserConfig
	validate *validator.Validate
}

// 编译期检查
var _ WorkbookParser = (*ExcelParser)(nil)

// NewExcelParser 创建新的Excel解析器
func NewExcelParser(config *ParserConfig) *ExcelParser {
	if config == nil {
		config = &ParserConfig{
			SheetName:     "", // 读取第一个工作表
			StrictMode:    true,
			SkipEmptyRows: true,
			MaxRows:       0, // 0表示不限制
		}
	}

	v := validator.New()
	// 校验错误中使用json字段名，与表头规范字段一致
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &ExcelParser{
		config:   config,
		validate: v,
	}
}

// row 一个数据行，按规范字段取值
type row struct {
	number  int      // Excel行号（1-based）
	cells   []string // 按单元格数字格式显示的值
	raw     []string // 单元格存储的原始值
	columns *ColumnMap
}

func (r row) get(field string) string {
	return cellAt(r.cells, r.columns, field)
}

// numeric 取数值字段的原始值，不受单元格数字格式影响
func (r row) numeric(field string) string {
	return cellAt(r.raw, r.columns, field)
}

func cellAt(cells []string, columns *ColumnMap, field string) string {
	idx, ok := columns.Index[field]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

// column 返回字段所在的Excel列号（1-based）
func (r row) column(field string) int {
	return r.columns.Index[field] + 1
}

// ParseSalaries 解析员工工资表
func (p *ExcelParser) ParseSalaries(ctx context.Context, input io.Reader) (*ParseResult[model.SalaryRecord], error) {
	return parseWorkbook(ctx, p, input, SalaryFields, p.salaryFromRow)
}

// ParsePolicies 解析城市社保标准表
func (p *ExcelParser) ParsePolicies(ctx context.Context, input io.Reader) (*ParseResult[model.PolicyRecord], error) {
	return parseWorkbook(ctx, p, input, PolicyFields, p.policyFromRow)
}

func (p *ExcelParser) salaryFromRow(r row) (model.SalaryRecord, error) {
	rec := model.SalaryRecord{
		EmployeeID:   r.get(FieldEmployeeID),
		EmployeeName: r.get(FieldEmployeeName),
		Month:        r.get(FieldMonth),
	}
	if err := p.checkStruct(r, rec); err != nil {
		return rec, err
	}

	amount, err := parseAmount(r.numeric(FieldSalaryAmount), false)
	if err != nil {
		return rec, model.NewParseError(r.number, r.column(FieldSalaryAmount), r.numeric(FieldSalaryAmount), FieldSalaryAmount, "工资金额不是有效数字")
	}
	if amount.IsNegative() {
		return rec, model.NewParseError(r.number, r.column(FieldSalaryAmount), r.numeric(FieldSalaryAmount), FieldSalaryAmount, "工资金额不能为负数")
	}
	rec.SalaryAmount = amount
	return rec, nil
}

func (p *ExcelParser) policyFromRow(r row) (model.PolicyRecord, error) {
	rec := model.PolicyRecord{
		CityName: r.get(FieldCityName),
		Year:     r.get(FieldYear),
	}
	if err := p.checkStruct(r, rec); err != nil {
		return rec, err
	}

	numbers := []struct {
		field   string
		percent bool
		dst     *decimal.Decimal
	}{
		{FieldBaseMin, false, &rec.BaseMin},
		{FieldBaseMax, false, &rec.BaseMax},
		{FieldRate, true, &rec.Rate},
	}
	for _, n := range numbers {
		v, err := parseAmount(r.numeric(n.field), n.percent)
		if err != nil {
			return rec, model.NewParseError(r.number, r.column(n.field), r.numeric(n.field), n.field, "不是有效数字")
		}
		*n.dst = v
	}
	return rec, nil
}

// checkStruct 执行结构体validate标签校验，转换为带行列信息的解析错误
func (p *ExcelParser) checkStruct(r row, rec interface{}) error {
	err := p.validate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		return model.NewParseError(r.number, r.column(field), r.get(field), field,
			fmt.Sprintf("校验失败: %s", fe.Tag()))
	}
	return fmt.Errorf("第%d行校验失败: %w", r.number, err)
}

// parseWorkbook 读取工作表、映射表头并逐行转换
func parseWorkbook[T any](ctx context.Context, p *ExcelParser, input io.Reader, spec *FieldSpec, convert func(row) (T, error)) (*ParseResult[T], error) {
	start := time.Now()

	sheet, rows, raw, err := p.readRows(input)
	if err != nil {
		return nil, err
	}

	// 表头为第一个非空行
	header := 0
	for header < len(rows) && isEmptyRow(rows[header]) {
		header++
	}
	if header == len(rows) {
		return nil, model.NewEmptyInputError("文件中没有数据")
	}

	columns, err := spec.MapHeaders(rows[header])
	if err != nil {
		return nil, err
	}

	data := rows[header+1:]
	result := &ParseResult[T]{
		Sheet:  sheet,
		Errors: model.NewErrorList(),
		Stats:  &ParseStats{TotalRows: len(data)},
	}

	for i, cells := range data {
		// 检查上下文取消
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if isEmptyRow(cells) {
			if p.config.SkipEmptyRows {
				result.Stats.SkippedRows++
				continue
			}
		}
		if p.config.MaxRows > 0 && result.Stats.ProcessedRows >= p.config.MaxRows {
			result.Stats.SkippedRows += len(data) - i
			logger.WithComponent("parser").Warnf("%s 超过最大行数 %d，其余 %d 行未导入",
				spec.Kind, p.config.MaxRows, len(data)-i)
			break
		}
		result.Stats.ProcessedRows++

		idx := header + 1 + i
		var rawCells []string
		if idx < len(raw) {
			rawCells = raw[idx]
		}
		rec, err := convert(row{number: idx + 1, cells: cells, raw: rawCells, columns: columns})
		if err != nil {
			if p.config.StrictMode {
				return nil, err
			}
			result.Errors.Add(err)
			result.Stats.ErrorRecords++
			logger.WithComponent("parser").Warnf("跳过错误行: %v", err)
			continue
		}
		result.Records = append(result.Records, rec)
		result.Stats.SuccessRecords++
	}

	result.Stats.ProcessingTime = time.Since(start).Milliseconds()

	if len(result.Records) == 0 && !result.Errors.HasError() {
		return nil, model.NewEmptyInputError("文件中没有数据")
	}
	if len(result.Records) == 0 {
		return nil, result.Errors
	}
	return result, nil
}

// readRows 打开工作簿，读取目标工作表全部行的显示值和原始值
func (p *ExcelParser) readRows(input io.Reader) (sheet string, rows, raw [][]string, err error) {
	if input == nil {
		return "", nil, nil, model.NewFileError(model.ErrCodeFileReadError, "", "open", "未找到文件", nil)
	}

	f, err := excelize.OpenReader(input)
	if err != nil {
		return "", nil, nil, model.NewFileError(model.ErrCodeInvalidFormat, "", "open", "打开Excel文件失败", err)
	}
	defer f.Close()

	sheet = p.config.SheetName
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return "", nil, nil, model.NewEmptyInputError("文件中没有工作表")
		}
		sheet = sheets[0]
	}

	rows, err = f.GetRows(sheet)
	if err != nil {
		return "", nil, nil, model.NewFileError(model.ErrCodeFileReadError, sheet, "read_sheet", "读取工作表数据失败", err)
	}
	// 金额和比例按存储值读取，避免被数字格式四舍五入
	raw, err = f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return "", nil, nil, model.NewFileError(model.ErrCodeFileReadError, sheet, "read_sheet", "读取工作表数据失败", err)
	}
	return sheet, rows, raw, nil
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// amountReplacer 去除千分位和货币符号
var amountReplacer = strings.NewReplacer(",", "", "，", "", "¥", "", "￥", "", " ", "", " ", "")

// parseAmount 解析金额或比例，percent为true时接受 "15%" 形式
func parseAmount(raw string, percent bool) (decimal.Decimal, error) {
	s := amountReplacer.Replace(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, fmt.Errorf("空值")
	}
	if percent && (strings.HasSuffix(s, "%") || strings.HasSuffix(s, "％")) {
		s = strings.TrimSuffix(strings.TrimSuffix(s, "%"), "％")
		v, err := parseStored(s)
		if err != nil {
			return decimal.Zero, err
		}
		return v.Div(decimal.NewFromInt(100)), nil
	}
	return parseStored(s)
}

// parseStored 解析数值文本。Excel以双精度保存数值，
// 如 0.145 可能存为 0.14499999999999999，超过15位有效数字时还原为最短表示。
func parseStored(s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	if len(v.Coefficient().String()) > 15 {
		f, _ := v.Float64()
		return decimal.NewFromFloat(f), nil
	}
	return v, nil
}

// Validate 验证解析器配置
func (p *ExcelParser) Validate() error {
	if p.config.MaxRows < 0 {
		return model.NewValidationError("max_rows", p.config.MaxRows, "min=0", "最大行数不能为负数")
	}
	return nil
}

// GetSupportedFormats 获取支持的格式
func (p *ExcelParser) GetSupportedFormats() []string {
	return []string{"xlsx", "xlsm"}
}

// GetName 获取解析器名称
func (p *ExcelParser) GetName() string {
	return "ExcelParser"
}
