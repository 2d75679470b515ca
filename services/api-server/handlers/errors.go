package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
)

// statusFor 错误代码对应的HTTP状态码
func statusFor(err error) int {
	var list *model.ErrorList
	if errors.As(err, &list) {
		return http.StatusBadRequest
	}

	switch model.CodeOf(err) {
	case model.ErrCodeEmptyInput,
		model.ErrCodeMissingField,
		model.ErrCodeInvalidFormat,
		model.ErrCodeInvalidInput,
		model.ErrCodeParseError,
		model.ErrCodeValidation,
		model.ErrCodeMultiYear,
		model.ErrCodeFileReadError:
		return http.StatusBadRequest
	case model.ErrCodeInvalidPolicy:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// respondError 按错误代码返回 {error, details}
func respondError(c *gin.Context, err error) {
	respondErrorStatus(c, err, statusFor(err))
}

func respondErrorStatus(c *gin.Context, err error, status int) {
	body := gin.H{"error": errorMessage(err)}
	if details := errorDetails(err); details != nil {
		body["details"] = details
	}
	if code := model.CodeOf(err); code != "" {
		body["code"] = code
	}

	entry := logger.WithComponent("api").WithError(err).WithField("status", status)
	if id, ok := c.Get("RequestID"); ok {
		entry = entry.WithField("request_id", id)
	}
	if status >= http.StatusInternalServerError {
		var sysErr *model.SystemError
		if errors.As(err, &sysErr) && sysErr.StackTrace != "" {
			entry = entry.WithField("stack", sysErr.StackTrace)
		}
		entry.Error("请求处理失败")
	} else {
		entry.Info("请求被拒绝")
	}

	c.JSON(status, body)
}

func errorMessage(err error) string {
	var list *model.ErrorList
	if errors.As(err, &list) {
		return "文件中的数据行全部解析失败"
	}
	var coded model.CodedError
	if errors.As(err, &coded) {
		return coded.GetMessage()
	}
	return err.Error()
}

// errorDetails 提取便于用户修正的结构化信息
func errorDetails(err error) interface{} {
	var missing *model.MissingFieldsError
	if errors.As(err, &missing) {
		return gin.H{
			"missing":  missing.Missing,
			"required": missing.Required,
			"actual":   missing.Actual,
			"hint":     missing.Hint,
		}
	}

	var multi *model.MultiYearError
	if errors.As(err, &multi) {
		return gin.H{"years": multi.Years}
	}

	var parseErr *model.ParseError
	if errors.As(err, &parseErr) {
		return gin.H{
			"row":     parseErr.Row,
			"column":  parseErr.Column,
			"field":   parseErr.Field,
			"content": parseErr.Content,
		}
	}

	var vErr *model.ValidationError
	if errors.As(err, &vErr) {
		return gin.H{
			"field":      vErr.Field,
			"value":      vErr.Value,
			"constraint": vErr.Constraint,
		}
	}

	var list *model.ErrorList
	if errors.As(err, &list) {
		msgs := make([]string, 0, list.Count())
		for _, e := range list.Errors {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}

	var sysErr *model.SystemError
	if errors.As(err, &sysErr) && sysErr.Cause != nil {
		return sysErr.Cause.Error()
	}
	var fileErr *model.FileError
	if errors.As(err, &fileErr) && fileErr.Cause != nil {
		return fileErr.Cause.Error()
	}
	return nil
}
