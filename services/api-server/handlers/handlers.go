package handlers

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
	"github.com/freedkr/shebao/internal/queue"
	"github.com/freedkr/shebao/internal/service"
	"github.com/freedkr/shebao/internal/storage"
)

// Importer 上传导入
type Importer interface {
	ImportSalaries(ctx context.Context, fileName string, size int64, r io.Reader) (*service.ImportReport, error)
	ImportPolicies(ctx context.Context, fileName string, size int64, r io.Reader) (*service.ImportReport, error)
	OpenUpload(ctx context.Context, uploadID string) (*database.UploadRecord, io.ReadCloser, error)
}

// Calculator 缴费计算
type Calculator interface {
	City() string
	Calculate(ctx context.Context, jobID string) (*service.CalculationReport, error)
	Results(ctx context.Context) (*service.ResultsView, error)
	Runs(ctx context.Context, limit, offset int) ([]*database.CalculationRun, error)
	Run(ctx context.Context, id string) (*database.CalculationRun, error)
}

// Pinger 可探活的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers API处理器
type Handlers struct {
	importer Importer
	calc     Calculator
	db       Pinger
	queue    queue.Client // 为nil时不支持异步计算
}

// NewHandlers 创建处理器
func NewHandlers(importer Importer, calc Calculator, db Pinger, q queue.Client) *Handlers {
	return &Handlers{
		importer: importer,
		calc:     calc,
		db:       db,
		queue:    q,
	}
}

// Health 健康检查
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "api-server",
	})
}

// Ready 就绪检查
func (h *Handlers) Ready(c *gin.Context) {
	ctx := c.Request.Context()

	// 检查数据库
	if err := h.db.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"reason": "database not available",
		})
		return
	}

	// 检查队列
	if h.queue != nil {
		if err := h.queue.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"reason": "queue not available",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"timestamp": time.Now(),
	})
}

type importFunc func(ctx context.Context, fileName string, size int64, r io.Reader) (*service.ImportReport, error)

// UploadSalaries 上传员工工资表
func (h *Handlers) UploadSalaries(c *gin.Context) {
	h.upload(c, h.importer.ImportSalaries, "员工工资数据")
}

// UploadCities 上传城市社保标准表
func (h *Handlers) UploadCities(c *gin.Context) {
	h.upload(c, h.importer.ImportPolicies, "城市标准数据")
}

func (h *Handlers) upload(c *gin.Context, importFn importFunc, label string) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "未找到文件",
			"details": err.Error(),
		})
		return
	}
	defer func(f multipart.File) { _ = f.Close() }(file)

	report, err := importFn(c.Request.Context(), header.Filename, header.Size, file)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("成功上传 %d 条%s", report.Rows, label),
		"data":    report,
	})
}

// DownloadUpload 下载已归档的原始上传文件
func (h *Handlers) DownloadUpload(c *gin.Context) {
	rec, body, err := h.importer.OpenUpload(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, rec.FileSize, storage.XLSXContentType, body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(rec.OriginalName)),
	})
}

// Calculate 同步计算
func (h *Handlers) Calculate(c *gin.Context) {
	report, err := h.calc.Calculate(c.Request.Context(), "")
	if err != nil {
		// 缺少社保标准属于前置条件不满足
		if model.IsErrorType(err, model.ErrCodeNotFound) {
			respondErrorStatus(c, err, http.StatusBadRequest)
			return
		}
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("成功计算并存储了 %d 位员工的社保数据", len(report.Results)),
		"data":    report.Results,
		"summary": report.Summary,
		"run_id":  report.RunID,
		"year":    report.Year,
		"city":    report.City,
	})
}

// EnqueueCalculation 提交异步计算任务
func (h *Handlers) EnqueueCalculation(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "异步计算未启用"})
		return
	}

	job := queue.NewJob(uuid.New().String(), h.calc.City())
	if err := h.queue.EnqueueJob(c.Request.Context(), job); err != nil {
		logger.WithComponent("api").WithError(err).Error("计算任务入队失败")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "计算任务入队失败", "details": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job_id":  job.ID,
		"status":  job.Status,
	})
}

// GetCalculation 查询异步计算任务
func (h *Handlers) GetCalculation(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "异步计算未启用"})
		return
	}

	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// ListRuns 列出计算记录
func (h *Handlers) ListRuns(c *gin.Context) {
	// 解析分页参数
	limit := 20
	offset := 0

	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if o := c.Query("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	runs, err := h.calc.Runs(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"runs":    runs,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetRun 获取单条计算记录
func (h *Handlers) GetRun(c *gin.Context) {
	run, err := h.calc.Run(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// Results 获取按员工姓名排序的计算结果
func (h *Handlers) Results(c *gin.Context) {
	view, err := h.calc.Results(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"results": view.Results,
		"summary": view.Summary,
	})
}
