// Package model 定义自定义错误类型
package model

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// 文件操作错误
	ErrCodeFileReadError ErrorCode = "FILE_READ_ERROR"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"

	// 解析错误
	ErrCodeParseError ErrorCode = "PARSE_ERROR"

	// 验证错误
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// 计算错误
	ErrCodeEmptyInput    ErrorCode = "EMPTY_INPUT"
	ErrCodeInvalidPolicy ErrorCode = "INVALID_POLICY"
	ErrCodeMultiYear     ErrorCode = "MULTI_YEAR"
)

// CodedError 带错误代码的错误
type CodedError interface {
	error
	GetCode() ErrorCode
	GetMessage() string
}

// BaseError 基础错误结构
type BaseError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	StackTrace string    `json:"stack_trace,omitempty"`
}

// Error 实现error接口
func (e *BaseError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// GetCode 获取错误代码
func (e *BaseError) GetCode() ErrorCode {
	return e.Code
}

// GetMessage 获取错误消息
func (e *BaseError) GetMessage() string {
	return e.Message
}

// ParseError 解析错误，定位到工作表的行列
type ParseError struct {
	BaseError
	Row     int    `json:"row"`
	Column  int    `json:"column"`
	Content string `json:"content"`
	Field   string `json:"field"`
}

// NewParseError 创建解析错误
func NewParseError(row, column int, content, field, message string) *ParseError {
	return &ParseError{
		BaseError: BaseError{
			Code:      ErrCodeParseError,
			Message:   message,
			Timestamp: time.Now(),
		},
		Row:     row,
		Column:  column,
		Content: content,
		Field:   field,
	}
}

// Error 实现error接口
func (e *ParseError) Error() string {
	return fmt.Sprintf("[%s] 行%d列%d解析失败: %s (内容: '%s', 字段: %s)",
		e.Code, e.Row, e.Column, e.Message, e.Content, e.Field)
}

// ValidationError 验证错误
type ValidationError struct {
	BaseError
	Field      string      `json:"field"`
	Value      interface{} `json:"value"`
	Constraint string      `json:"constraint"`
}

// NewValidationError 创建验证错误
func NewValidationError(field string, value interface{}, constraint, message string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Code:      ErrCodeValidation,
			Message:   message,
			Timestamp: time.Now(),
		},
		Field:      field,
		Value:      value,
		Constraint: constraint,
	}
}

// NewInvalidPolicyError 创建社保标准不合法错误
// 与ValidationError结构一致，仅错误代码不同
func NewInvalidPolicyError(field string, value interface{}, constraint, message string) *ValidationError {
	err := NewValidationError(field, value, constraint, message)
	err.Code = ErrCodeInvalidPolicy
	return err
}

// Error 实现error接口
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] 字段'%s'验证失败: %s (值: %v, 约束: %s)",
		e.Code, e.Field, e.Message, e.Value, e.Constraint)
}

// MissingFieldsError 上传文件缺少必需列
type MissingFieldsError struct {
	BaseError
	Missing  []string `json:"missing"`
	Required []string `json:"required"`
	Actual   []string `json:"actual"`
	Hint     string   `json:"hint,omitempty"`
}

// NewMissingFieldsError 创建缺少字段错误
func NewMissingFieldsError(missing, required, actual []string, hint string) *MissingFieldsError {
	return &MissingFieldsError{
		BaseError: BaseError{
			Code:      ErrCodeMissingField,
			Message:   fmt.Sprintf("数据格式错误：缺少字段 \"%s\"", strings.Join(missing, "\", \"")),
			Timestamp: time.Now(),
		},
		Missing:  missing,
		Required: required,
		Actual:   actual,
		Hint:     hint,
	}
}

// MultiYearError 工资数据跨越多个年度
type MultiYearError struct {
	BaseError
	Years []string `json:"years"`
}

// NewMultiYearError 创建跨年度错误，年份按升序排列
func NewMultiYearError(years []string) *MultiYearError {
	sorted := append([]string(nil), years...)
	sort.Strings(sorted)
	return &MultiYearError{
		BaseError: BaseError{
			Code:      ErrCodeMultiYear,
			Message:   "工资数据包含多个年度，请按年度分别上传",
			Details:   strings.Join(sorted, ", "),
			Timestamp: time.Now(),
		},
		Years: sorted,
	}
}

// SystemError 系统错误
type SystemError struct {
	BaseError
	Component string `json:"component"`
	Operation string `json:"operation"`
	Cause     error  `json:"cause,omitempty"`
}

// NewSystemError 创建系统错误
func NewSystemError(component, operation, message string, cause error) *SystemError {
	return &SystemError{
		BaseError: BaseError{
			Code:      ErrCodeInternal,
			Message:   message,
			Timestamp: time.Now(),
		},
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *SystemError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s.%s失败: %s (原因: %v)",
			e.Code, e.Component, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s.%s失败: %s",
		e.Code, e.Component, e.Operation, e.Message)
}

// Unwrap 返回原始错误
func (e *SystemError) Unwrap() error {
	return e.Cause
}

// WithStackTrace 记录创建处的调用栈，已有时不覆盖
func (e *SystemError) WithStackTrace() *SystemError {
	if e.StackTrace == "" {
		e.StackTrace = getStackTrace()
	}
	return e
}

// FileError 文件操作错误
type FileError struct {
	BaseError
	FilePath  string `json:"file_path"`
	Operation string `json:"operation"`
	Cause     error  `json:"cause,omitempty"`
}

// NewFileError 创建文件错误
func NewFileError(code ErrorCode, filepath, operation, message string, cause error) *FileError {
	return &FileError{
		BaseError: BaseError{
			Code:      code,
			Message:   message,
			Timestamp: time.Now(),
		},
		FilePath:  filepath,
		Operation: operation,
		Cause:     cause,
	}
}

// Error 实现error接口
func (e *FileError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s (原因: %v)",
			e.Code, e.Operation, e.FilePath, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] 文件操作失败 %s('%s'): %s",
		e.Code, e.Operation, e.FilePath, e.Message)
}

// Unwrap 返回原始错误
func (e *FileError) Unwrap() error {
	return e.Cause
}

// ErrorList 错误列表
type ErrorList struct {
	Errors []error `json:"errors"`
}

// NewErrorList 创建错误列表
func NewErrorList() *ErrorList {
	return &ErrorList{
		Errors: make([]error, 0),
	}
}

// Add 添加错误
func (el *ErrorList) Add(err error) {
	if err != nil {
		el.Errors = append(el.Errors, err)
	}
}

// HasError 是否有错误
func (el *ErrorList) HasError() bool {
	return len(el.Errors) > 0
}

// Count 错误数量
func (el *ErrorList) Count() int {
	return len(el.Errors)
}

// Error 实现error接口
func (el *ErrorList) Error() string {
	if len(el.Errors) == 0 {
		return ""
	}

	if len(el.Errors) == 1 {
		return el.Errors[0].Error()
	}

	var messages []string
	for _, err := range el.Errors {
		messages = append(messages, err.Error())
	}

	return fmt.Sprintf("发生了%d个错误: [%s]",
		len(el.Errors), strings.Join(messages, "; "))
}

// 辅助函数：获取堆栈跟踪
func getStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])

	var traces []string
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		traces = append(traces, fmt.Sprintf("%s:%d %s", frame.File, frame.Line, frame.Function))
		if !more {
			break
		}
	}

	return strings.Join(traces, "\n")
}

// CodeOf 返回错误链上第一个带代码错误的代码，没有则返回空串
func CodeOf(err error) ErrorCode {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.GetCode()
	}
	return ""
}

// IsErrorType 检查错误（包括被包装的错误）是否为指定类型
func IsErrorType(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

// NewEmptyInputError 创建空输入错误
func NewEmptyInputError(message string) error {
	return &BaseError{
		Code:      ErrCodeEmptyInput,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) error {
	return &BaseError{
		Code:      ErrCodeNotFound,
		Message:   message,
		Timestamp: time.Now(),
	}
}
