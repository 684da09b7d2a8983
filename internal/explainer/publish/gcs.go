// Package publish copies finished videos to Google Cloud Storage and reports
// the URL they are served from.
package publish

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/yungbote/neurobridge-explainer/internal/config"
	"github.com/yungbote/neurobridge-explainer/internal/explainer/render"
	"github.com/yungbote/neurobridge-explainer/internal/platform/logger"
)

const uploadTimeout = 2 * time.Minute

// objectWriter is the single storage call the publisher needs.
type objectWriter interface {
	Write(ctx context.Context, bucket, key, contentType string, r io.Reader) error
}

type gcsWriter struct {
	client *storage.Client
}

func (g gcsWriter) Write(ctx context.Context, bucket, key, contentType string, r io.Reader) error {
	w := g.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write data to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer: %w", err)
	}
	return nil
}

type GCS struct {
	log     *logger.Logger
	w       objectWriter
	bucket  string
	prefix  string
	baseURL string
}

// NewGCS creates a storage client for cfg.GCSBucket. STORAGE_EMULATOR_HOST
// switches the client to an unauthenticated emulator.
func NewGCS(ctx context.Context, log *logger.Logger, cfg config.PublishConfig) (*GCS, error) {
	bucket := strings.TrimSpace(cfg.GCSBucket)
	if bucket == "" {
		return nil, fmt.Errorf("publish: gcs bucket required")
	}
	client, err := storage.NewClient(ctx, clientOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return newGCS(log, gcsWriter{client: client}, cfg), nil
}

func newGCS(log *logger.Logger, w objectWriter, cfg config.PublishConfig) *GCS {
	if log == nil {
		log = logger.Nop()
	}
	p := &GCS{
		log:     log.With("service", "VideoPublisher"),
		w:       w,
		bucket:  strings.TrimSpace(cfg.GCSBucket),
		prefix:  strings.Trim(strings.TrimSpace(cfg.KeyPrefix), "/"),
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
	}
	p.log.Info("Object storage initialized", "bucket", p.bucket, "prefix", p.prefix, "public_base_url", p.baseURL)
	return p
}

func clientOptions(cfg config.PublishConfig) []option.ClientOption {
	if strings.TrimSpace(os.Getenv("STORAGE_EMULATOR_HOST")) != "" {
		return []option.ClientOption{option.WithoutAuthentication()}
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(cfg.CredentialsFile)
	}
	switch {
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	case creds != "":
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// Publish uploads the video, and the poster when there is one, under
// <prefix>/<runID>/ and returns the video's public URL.
func (p *GCS) Publish(ctx context.Context, runID string, res render.Result) (string, error) {
	videoKey := p.key(runID, filepath.Base(res.VideoPath))
	if err := p.upload(ctx, res.VideoPath, videoKey); err != nil {
		return "", err
	}
	if res.PosterPath != "" {
		if err := p.upload(ctx, res.PosterPath, p.key(runID, filepath.Base(res.PosterPath))); err != nil {
			return "", err
		}
	}
	url := p.PublicURL(videoKey)
	p.log.Info("video published", "run_id", runID, "key", videoKey, "url", url)
	return url, nil
}

func (p *GCS) key(runID, name string) string {
	return path.Join(p.prefix, runID, name)
}

func (p *GCS) upload(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("publish: open %s: %w", local, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()
	if err := p.w.Write(ctx, p.bucket, key, contentTypeForKey(key), f); err != nil {
		return fmt.Errorf("publish: upload %s: %w", key, err)
	}
	return nil
}

// PublicURL is the URL key is served from: the configured base when set,
// otherwise the public GCS endpoint.
func (p *GCS) PublicURL(key string) string {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if p.baseURL != "" {
		return fmt.Sprintf("%s/%s", p.baseURL, key)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", p.bucket, key)
}

func contentTypeForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return ""
	}
}
