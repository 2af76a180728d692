// Пакет storage — клиент S3-совместимого объектного хранилища
// (AWS S3, MinIO). Хранилище не принадлежит сервису: его листинг
// сопоставляется с метаданными по зашифрованным именам объектов.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore — операции объектного хранилища, используемые сервисом.
type ObjectStore interface {
	// Put сохраняет объект под ключом.
	Put(ctx context.Context, key string, data []byte) error
	// List возвращает ключи всех объектов бакета.
	List(ctx context.Context) ([]string, error)
	// URLFor возвращает временную ссылку на скачивание объекта.
	URLFor(ctx context.Context, key string) (string, error)
}

// S3Config — параметры подключения к хранилищу.
type S3Config struct {
	Bucket string
	Region string
	// Endpoint — кастомный endpoint (MinIO), пустой — AWS.
	Endpoint string
	// AccessKeyID и SecretAccessKey — статические ключи; пустые — цепочка AWS по умолчанию.
	AccessKeyID     string
	SecretAccessKey string
	// PresignTTL — время жизни presigned URL.
	PresignTTL time.Duration
}

// S3Store — реализация ObjectStore поверх aws-sdk-go-v2.
type S3Store struct {
	client     *s3.Client
	presign    *s3.PresignClient
	bucket     string
	presignTTL time.Duration
	logger     *slog.Logger
}

// NewS3Store создаёт клиент хранилища.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &S3Store{
		client:     client,
		presign:    s3.NewPresignClient(client),
		bucket:     cfg.Bucket,
		presignTTL: cfg.PresignTTL,
		logger:     logger.With(slog.String("component", "s3_store")),
	}, nil
}

// Put загружает объект целиком.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("загрузка объекта %q: %w", key, err)
	}

	s.logger.Debug("Объект загружен", slog.String("key", key), slog.Int("size", len(data)))
	return nil
}

// List обходит все страницы ListObjectsV2.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("листинг бакета %q: %w", s.bucket, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// URLFor подписывает GET-запрос к объекту.
func (s *S3Store) URLFor(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign объекта %q: %w", key, err)
	}
	return req.URL, nil
}

// CheckReady проверяет доступность бакета для readiness probe.
func (s *S3Store) CheckReady() (status, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return "fail", fmt.Sprintf("бакет %s недоступен: %v", s.bucket, err)
	}
	return "ok", "бакет доступен"
}
