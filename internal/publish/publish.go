// Package publish uploads run artifacts to S3-compatible object storage.
package publish

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/zeebo/blake3"
)

// Config holds object storage settings
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Enabled reports whether publishing is configured
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks the config is usable
func (c Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("publish endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("publish bucket is required")
	}
	return nil
}

// File is one local file to upload
type File struct {
	Path     string
	Compress bool // Upload as <name>.zst
}

// Object describes an uploaded file
type Object struct {
	Key    string
	Size   int64
	Digest string // Hex blake3 of the uploaded bytes
}

// Publisher uploads files under <prefix>/<runID>/
type Publisher struct {
	client *minio.Client
	config Config
	logger *slog.Logger
}

// New creates a Publisher with a MinIO client for config
func New(config Config, logger *slog.Logger) (*Publisher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure:    config.UseSSL,
		Region:    config.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{client: client, config: config, logger: logger.With("component", "publish")}, nil
}

// Publish uploads files for runID. It stops at the first failure.
func (p *Publisher) Publish(ctx context.Context, runID string, files []File) ([]Object, error) {
	exists, err := p.client.BucketExists(ctx, p.config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", p.config.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket missing: %s", p.config.Bucket)
	}

	objects := make([]Object, 0, len(files))
	for _, f := range files {
		obj, err := p.upload(ctx, runID, f)
		if err != nil {
			return objects, err
		}
		p.logger.Info("uploaded", "key", obj.Key, "size", obj.Size, "blake3", obj.Digest)
		objects = append(objects, obj)
	}
	return objects, nil
}

func (p *Publisher) upload(ctx context.Context, runID string, f File) (Object, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return Object{}, fmt.Errorf("reading %s: %w", f.Path, err)
	}

	name := filepath.Base(f.Path)
	contentType := ContentType(name)
	if f.Compress {
		if data, err = Compress(data); err != nil {
			return Object{}, fmt.Errorf("compressing %s: %w", f.Path, err)
		}
		name += ".zst"
		contentType = "application/zstd"
	}

	obj := Object{
		Key:    ObjectKey(p.config.Prefix, runID, name),
		Size:   int64(len(data)),
		Digest: Digest(data),
	}

	putCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	_, err = p.client.PutObject(putCtx, p.config.Bucket, obj.Key,
		bytes.NewReader(data), obj.Size,
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"blake3": obj.Digest, "run-id": runID},
		})
	if err != nil {
		return Object{}, fmt.Errorf("uploading %s: %w", obj.Key, err)
	}
	return obj, nil
}

// ObjectKey joins prefix, run ID and file name into an object key
func ObjectKey(prefix, runID, name string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(prefix, "/"), runID, name), "/")
}

// ContentType guesses a MIME type from a file name
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ipynb":
		return "application/x-ipynb+json"
	case ".html":
		return "text/html; charset=utf-8"
	}
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Digest returns the hex blake3 hash of data
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestFile returns the hex blake3 hash of the file at path
func DigestFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compress zstd-encodes data
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data)/4)), nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
