// Package storage 归档上传的原始文件
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/freedkr/shebao/internal/config"
)

// XLSXContentType xlsx文件的MIME类型
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// MinIOStorage MinIO存储实现
type MinIOStorage struct {
	client *minio.Client
	config *config.StorageConfig
}

// 编译期检查
var _ StorageInterface = (*MinIOStorage)(nil)

// NewMinIOStorage 创建MinIO存储，不会立即连接服务端
func NewMinIOStorage(cfg *config.StorageConfig) (*MinIOStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	return &MinIOStorage{
		client: client,
		config: cfg,
	}, nil
}

// ObjectName 上传文件的归档路径 uploads/<kind>/<upload-id>/<file>
func ObjectName(kind, uploadID, fileName string) string {
	name := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == "/" {
		name = "upload.xlsx"
	}
	return path.Join("uploads", kind, uploadID, name)
}

// EnsureBucket 确保存储桶存在
func (m *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.config.BucketName)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}

	if !exists {
		err = m.client.MakeBucket(ctx, m.config.BucketName, minio.MakeBucketOptions{
			Region: m.config.Region,
		})
		if err != nil {
			return fmt.Errorf("创建存储桶失败: %w", err)
		}
	}

	return nil
}

// UploadFile 上传文件
func (m *MinIOStorage) UploadFile(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.config.BucketName, objectName, reader, objectSize, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("上传文件失败: %w", err)
	}

	return nil
}

// DownloadFile 下载文件
func (m *MinIOStorage) DownloadFile(ctx context.Context, objectName string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, m.config.BucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("下载文件失败: %w", err)
	}

	return object, nil
}

// DeleteFile 删除文件
func (m *MinIOStorage) DeleteFile(ctx context.Context, objectName string) error {
	err := m.client.RemoveObject(ctx, m.config.BucketName, objectName, minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除文件失败: %w", err)
	}

	return nil
}

// GetFileInfo 获取文件信息
func (m *MinIOStorage) GetFileInfo(ctx context.Context, objectName string) (*FileInfo, error) {
	stat, err := m.client.StatObject(ctx, m.config.BucketName, objectName, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取文件信息失败: %w", err)
	}

	return &FileInfo{
		Name:         stat.Key,
		Size:         stat.Size,
		LastModified: stat.LastModified,
		ContentType:  stat.ContentType,
		ETag:         stat.ETag,
	}, nil
}

// FileInfo 文件信息
type FileInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
}

// StorageInterface 存储接口
type StorageInterface interface {
	EnsureBucket(ctx context.Context) error
	UploadFile(ctx context.Context, objectName string, reader io.Reader, objectSize int64, contentType string) error
	DownloadFile(ctx context.Context, objectName string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, objectName string) error
	GetFileInfo(ctx context.Context, objectName string) (*FileInfo, error)
}
