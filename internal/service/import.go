// Package service 编排上传导入和缴费计算
package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/freedkr/shebao/internal/database"
	"github.com/freedkr/shebao/internal/logger"
	"github.com/freedkr/shebao/internal/model"
	"github.com/freedkr/shebao/internal/parser"
	"github.com/freedkr/shebao/internal/storage"
)

// ImportReport 一次上传导入的结果
type ImportReport struct {
	UploadID    string `json:"upload_id"`
	Kind        string `json:"kind"`
	FileName    string `json:"file_name"`
	Rows        int    `json:"rows"`
	Skipped     int    `json:"skipped"`
	ErrorRows   int    `json:"error_rows"`
	StoragePath string `json:"storage_path,omitempty"`
}

// ImportService 上传文件导入服务
type ImportService struct {
	store   database.Store
	storage storage.StorageInterface // 为nil时不归档
	parser  parser.WorkbookParser
	maxSize int64
}

// NewImportService 创建导入服务，archive为nil时不归档原始文件
func NewImportService(store database.Store, archive storage.StorageInterface, p parser.WorkbookParser, maxSize int64) *ImportService {
	return &ImportService{
		store:   store,
		storage: archive,
		parser:  p,
		maxSize: maxSize,
	}
}

// upload 已读入内存并校验过的上传文件
type upload struct {
	id   string
	kind string
	name string
	data []byte
	md5  string
}

// ImportSalaries 导入员工工资表，整体替换已有工资数据
func (s *ImportService) ImportSalaries(ctx context.Context, fileName string, size int64, r io.Reader) (*ImportReport, error) {
	up, err := s.readUpload(model.KindSalaries, fileName, size, r)
	if err != nil {
		return nil, err
	}

	result, err := s.parser.ParseSalaries(ctx, bytes.NewReader(up.data))
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, up, len(result.Records), result.Stats, func(ctx context.Context) error {
		return s.store.ReplaceSalaries(ctx, result.Records)
	})
}

// ImportPolicies 导入城市社保标准表，整体替换已有标准
func (s *ImportService) ImportPolicies(ctx context.Context, fileName string, size int64, r io.Reader) (*ImportReport, error) {
	up, err := s.readUpload(model.KindCities, fileName, size, r)
	if err != nil {
		return nil, err
	}

	result, err := s.parser.ParsePolicies(ctx, bytes.NewReader(up.data))
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, up, len(result.Records), result.Stats, func(ctx context.Context) error {
		return s.store.ReplacePolicies(ctx, result.Records)
	})
}

// OpenUpload 打开已归档的原始上传文件
func (s *ImportService) OpenUpload(ctx context.Context, uploadID string) (*database.UploadRecord, io.ReadCloser, error) {
	rec, err := s.store.GetUploadRecord(ctx, uploadID)
	if err != nil {
		return nil, nil, err
	}
	if s.storage == nil || rec.StoragePath == "" {
		return nil, nil, model.NewNotFoundError(fmt.Sprintf("上传文件未归档: %s", uploadID))
	}

	if _, err := s.storage.GetFileInfo(ctx, rec.StoragePath); err != nil {
		return nil, nil, model.NewFileError(model.ErrCodeNotFound, rec.StoragePath, "stat", "归档文件不存在", err)
	}
	body, err := s.storage.DownloadFile(ctx, rec.StoragePath)
	if err != nil {
		return nil, nil, model.NewFileError(model.ErrCodeFileReadError, rec.StoragePath, "download", "读取归档文件失败", err)
	}
	return rec, body, nil
}

// readUpload 校验扩展名和大小并读入内存
func (s *ImportService) readUpload(kind, fileName string, size int64, r io.Reader) (*upload, error) {
	if r == nil {
		return nil, model.NewFileError(model.ErrCodeFileReadError, fileName, "upload", "未找到文件", nil)
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	supported := false
	for _, f := range s.parser.GetSupportedFormats() {
		if ext == f {
			supported = true
			break
		}
	}
	if !supported {
		return nil, model.NewFileError(model.ErrCodeInvalidFormat, fileName, "upload",
			fmt.Sprintf("不支持的文件格式，请上传 %s 文件", strings.Join(s.parser.GetSupportedFormats(), "/")), nil)
	}

	if s.maxSize > 0 && size > s.maxSize {
		return nil, model.NewFileError(model.ErrCodeInvalidInput, fileName, "upload",
			fmt.Sprintf("文件大小超过限制 %d 字节", s.maxSize), nil)
	}

	// 多读一个字节用于判断是否超限
	if s.maxSize > 0 {
		r = io.LimitReader(r, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, model.NewFileError(model.ErrCodeFileReadError, fileName, "read", "读取上传文件失败", err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, model.NewFileError(model.ErrCodeInvalidInput, fileName, "upload",
			fmt.Sprintf("文件大小超过限制 %d 字节", s.maxSize), nil)
	}

	sum := md5.Sum(data)
	return &upload{
		id:   uuid.New().String(),
		kind: kind,
		name: fileName,
		data: data,
		md5:  hex.EncodeToString(sum[:]),
	}, nil
}

// commit 归档原始文件并替换数据；替换失败时删除已归档的文件
func (s *ImportService) commit(ctx context.Context, up *upload, rows int, stats *parser.ParseStats, replace func(context.Context) error) (*ImportReport, error) {
	log := logger.WithComponent("import").WithField("upload_id", up.id).WithField("kind", up.kind)

	var objectName string
	if s.storage != nil {
		objectName = storage.ObjectName(up.kind, up.id, up.name)
		err := s.storage.UploadFile(ctx, objectName, bytes.NewReader(up.data), int64(len(up.data)), storage.XLSXContentType)
		if err != nil {
			return nil, model.NewSystemError("storage", "archive", "归档上传文件失败", err).WithStackTrace()
		}
	}

	if err := replace(ctx); err != nil {
		if objectName != "" {
			if delErr := s.storage.DeleteFile(context.WithoutCancel(ctx), objectName); delErr != nil {
				log.WithError(delErr).Warn("清理归档文件失败")
			}
		}
		return nil, model.NewSystemError("database", "replace", "保存数据失败", err).WithStackTrace()
	}

	report := &ImportReport{
		UploadID:    up.id,
		Kind:        up.kind,
		FileName:    up.name,
		Rows:        rows,
		StoragePath: objectName,
	}
	if stats != nil {
		report.Skipped = stats.SkippedRows
		report.ErrorRows = stats.ErrorRecords
	}

	rec := &database.UploadRecord{
		ID:           up.id,
		Kind:         up.kind,
		OriginalName: up.name,
		StoragePath:  objectName,
		FileSize:     int64(len(up.data)),
		MD5Hash:      up.md5,
		RowCount:     rows,
		SkippedRows:  report.Skipped + report.ErrorRows,
	}
	if err := s.store.CreateUploadRecord(ctx, rec); err != nil {
		// 数据已替换成功，上传记录只用于审计
		log.WithError(err).Warn("保存上传记录失败")
	}

	log.WithField("rows", rows).WithField("md5", up.md5).Info("导入完成")
	return report, nil
}
