package gcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

type BucketCategory string

const (
	BucketCategoryAudio  BucketCategory = "audio"
	BucketCategoryVisual BucketCategory = "visual"
)

// BucketService stores generated artifacts (explanation audio, rendered
// diagrams) and hands back the URL that goes into the turn record.
type BucketService interface {
	UploadBytes(ctx context.Context, category BucketCategory, key string, data []byte) (string, error)
	DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error)
	DeleteFile(ctx context.Context, category BucketCategory, key string) error
	GetPublicURL(category BucketCategory, key string) string
}

type bucketConfig struct {
	name      string
	cdnDomain string
}

type bucketService struct {
	log           *logger.Logger
	storageClient *storage.Client
	audioBucket   bucketConfig
	visualBucket  bucketConfig
}

func NewBucketService(log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")

	audioBucketName := os.Getenv("AUDIO_GCS_BUCKET_NAME")
	visualBucketName := os.Getenv("VISUAL_GCS_BUCKET_NAME")
	if audioBucketName == "" {
		return nil, fmt.Errorf("missing env var AUDIO_GCS_BUCKET_NAME")
	}
	if visualBucketName == "" {
		return nil, fmt.Errorf("missing env var VISUAL_GCS_BUCKET_NAME")
	}

	opts := ClientOptionsFromEnv()
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	stClient, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &bucketService{
		log:           serviceLog,
		storageClient: stClient,
		audioBucket: bucketConfig{
			name:      audioBucketName,
			cdnDomain: os.Getenv("AUDIO_CDN_DOMAIN"),
		},
		visualBucket: bucketConfig{
			name:      visualBucketName,
			cdnDomain: os.Getenv("VISUAL_CDN_DOMAIN"),
		},
	}, nil
}

func (bs *bucketService) getBucketConfig(category BucketCategory) (bucketConfig, error) {
	switch category {
	case BucketCategoryAudio:
		return bs.audioBucket, nil
	case BucketCategoryVisual:
		return bs.visualBucket, nil
	default:
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
}

func (bs *bucketService) UploadBytes(ctx context.Context, category BucketCategory, key string, data []byte) (string, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := bs.storageClient.Bucket(cfg.name).Object(key).NewWriter(ctx)
	if ct := contentTypeForKey(key); ct != "" {
		w.ContentType = ct
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return bs.GetPublicURL(category, key), nil
}

func (bs *bucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return nil, err
	}
	return bs.storageClient.Bucket(cfg.name).Object(key).NewReader(ctx)
}

func (bs *bucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := bs.storageClient.Bucket(cfg.name).Object(key).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("failed to delete GCS object: %w", err)
	}
	return nil
}

func (bs *bucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := bs.getBucketConfig(category)
	if err != nil {
		return ""
	}
	if cfg.cdnDomain != "" {
		return fmt.Sprintf("https://%s/%s", strings.TrimSuffix(cfg.cdnDomain, "/"), key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", cfg.name, key)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(key))) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg":
		return "audio/ogg"
	case ".png":
		return "image/png"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	default:
		return ""
	}
}

// LocalBucketService writes artifacts under a directory and serves them from
// a static file route. Used for dev and tests where GCS is not configured.
type LocalBucketService struct {
	log     *logger.Logger
	baseDir string
	baseURL string
}

func NewLocalBucketService(log *logger.Logger) (*LocalBucketService, error) {
	baseDir := utils.GetEnv("LOCAL_ARTIFACT_DIR", "./artifacts", log)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalBucketService{
		log:     log.With("service", "LocalBucketService"),
		baseDir: baseDir,
		baseURL: strings.TrimSuffix(utils.GetEnv("LOCAL_ARTIFACT_BASE_URL", "/static/artifacts", log), "/"),
	}, nil
}

func (bs *LocalBucketService) Dir() string { return bs.baseDir }

func (bs *LocalBucketService) UploadBytes(ctx context.Context, category BucketCategory, key string, data []byte) (string, error) {
	path := filepath.Join(bs.baseDir, string(category), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return bs.GetPublicURL(category, key), nil
}

func (bs *LocalBucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(bs.baseDir, string(category), filepath.FromSlash(key)))
}

func (bs *LocalBucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	err := os.Remove(filepath.Join(bs.baseDir, string(category), filepath.FromSlash(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (bs *LocalBucketService) GetPublicURL(category BucketCategory, key string) string {
	return fmt.Sprintf("%s/%s/%s", bs.baseURL, category, key)
}
