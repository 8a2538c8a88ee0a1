package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"
)

// StorageService archives the combined output of finished executions
type StorageService interface {
	SaveOutput(ctx context.Context, key string, data []byte) error
	GetOutput(ctx context.Context, key string) ([]byte, error)
	DeleteOutput(ctx context.Context, key string) error
}

// LocalStorageService implements StorageService using local filesystem
type LocalStorageService struct {
	basePath string
}

func NewLocalStorageService(basePath string) (*LocalStorageService, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, err
	}
	return &LocalStorageService{basePath: basePath}, nil
}

func (s *LocalStorageService) SaveOutput(ctx context.Context, key string, data []byte) error {
	fullPath := filepath.Join(s.basePath, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}

	return os.WriteFile(fullPath, data, 0644)
}

func (s *LocalStorageService) GetOutput(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.basePath, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
	}
	return data, err
}

func (s *LocalStorageService) DeleteOutput(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(s.basePath, key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// S3StorageService implements StorageService using AWS S3
type S3StorageService struct {
	client *s3.Client
	bucket string
}

func NewS3StorageService(bucket string, tracing bool) (*S3StorageService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, err
	}

	if tracing {
		awsv2.AWSV2Instrumentor(&cfg.APIOptions)
	}

	client := s3.NewFromConfig(cfg)
	return &S3StorageService{client: client, bucket: bucket}, nil
}

func (s *S3StorageService) SaveOutput(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	return err
}

func (s *S3StorageService) GetOutput(ctx context.Context, key string) ([]byte, error) {
	output, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	defer output.Body.Close()

	return io.ReadAll(output.Body)
}

func (s *S3StorageService) DeleteOutput(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

// NewStorageService creates the archive for storageType; "" disables it and
// returns nil.
func NewStorageService(storageType, pathOrBucket string, tracing bool) (StorageService, error) {
	switch storageType {
	case "":
		return nil, nil
	case "s3":
		return NewS3StorageService(pathOrBucket, tracing)
	case "local":
		return NewLocalStorageService(pathOrBucket)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", storageType)
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// GenerateOutputKey generates the archive key for an execution's output
func GenerateOutputKey(sessionID, executionID string) string {
	session := unsafeKeyChars.ReplaceAllString(sessionID, "_")
	if session == "" || session == "." || session == ".." {
		session = "_"
	}
	return fmt.Sprintf("outputs/%s/%s.log", session, unsafeKeyChars.ReplaceAllString(executionID, "_"))
}
