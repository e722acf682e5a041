// Package archive keeps cycle summary reports in durable object storage so
// past runs stay queryable after the process exits. The memory driver backs
// tests and development runs.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

const (
	DriverS3     = "s3"
	DriverMemory = "memory"

	contentTypeJSON = "application/json"

	defaultMaxGetSize int64 = 4 << 20
)

var (
	ErrInvalidConfig = errors.New("archive: invalid config")
	ErrInvalidRunID  = errors.New("archive: invalid run id")
	ErrNotFound      = errors.New("archive: not found")
	ErrTooLarge      = errors.New("archive: summary too large")
)

// Archiver persists one JSON summary document per cycle run.
type Archiver interface {
	SaveSummary(ctx context.Context, runID string, startedAt time.Time, summary []byte) error
	LoadSummary(ctx context.Context, runID string, startedAt time.Time) ([]byte, error)
}

type Config struct {
	Driver string
	Prefix string

	// MaxGetSize bounds bytes returned by LoadSummary. Defaults to 4 MiB
	// when <= 0.
	MaxGetSize int64

	// S3 fields.
	Bucket   string
	S3Client S3Client
}

type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func New(cfg Config) (Archiver, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverMemory:
		return newMemoryArchiver(cfg.Prefix), nil
	case DriverS3:
		return newS3Archiver(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverS3
	}
	return v
}

// summaryKey lays runs out by UTC day so bucket listings group naturally:
// <prefix>/cycles/2026/08/30/<runid>.json.
func summaryKey(prefix, runID string, startedAt time.Time) (string, error) {
	runID = strings.TrimSpace(strings.TrimPrefix(runID, "0x"))
	if runID == "" {
		return "", fmt.Errorf("%w: empty run id", ErrInvalidRunID)
	}
	for _, r := range runID {
		ok := (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
		if !ok {
			return "", fmt.Errorf("%w: run id must be hex", ErrInvalidRunID)
		}
	}
	key := startedAt.UTC().Format("cycles/2006/01/02/") + strings.ToLower(runID) + ".json"
	if prefix != "" {
		key = prefix + "/" + key
	}
	return key, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	return strings.Trim(prefix, "/")
}

type memoryArchiver struct {
	mu      sync.RWMutex
	prefix  string
	objects map[string][]byte
}

func newMemoryArchiver(prefix string) *memoryArchiver {
	return &memoryArchiver{
		prefix:  normalizePrefix(prefix),
		objects: make(map[string][]byte),
	}
}

func (m *memoryArchiver) SaveSummary(_ context.Context, runID string, startedAt time.Time, summary []byte) error {
	key, err := summaryKey(m.prefix, runID, startedAt)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), summary...)
	m.mu.Unlock()
	return nil
}

func (m *memoryArchiver) LoadSummary(_ context.Context, runID string, startedAt time.Time) ([]byte, error) {
	key, err := summaryKey(m.prefix, runID, startedAt)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

type s3Archiver struct {
	client     S3Client
	bucket     string
	prefix     string
	maxGetSize int64
}

func newS3Archiver(cfg Config) (*s3Archiver, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrInvalidConfig)
	}
	if cfg.S3Client == nil {
		return nil, fmt.Errorf("%w: s3 client is required", ErrInvalidConfig)
	}

	maxGet := cfg.MaxGetSize
	if maxGet <= 0 {
		maxGet = defaultMaxGetSize
	}

	return &s3Archiver{
		client:     cfg.S3Client,
		bucket:     bucket,
		prefix:     normalizePrefix(cfg.Prefix),
		maxGetSize: maxGet,
	}, nil
}

func (s *s3Archiver) SaveSummary(ctx context.Context, runID string, startedAt time.Time, summary []byte) error {
	key, err := summaryKey(s.prefix, runID, startedAt)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(summary),
		ContentType: aws.String(contentTypeJSON),
		Metadata:    map[string]string{"run-id": strings.ToLower(strings.TrimPrefix(runID, "0x"))},
	})
	if err != nil {
		return fmt.Errorf("archive/s3: put %q: %w", key, err)
	}
	return nil
}

func (s *s3Archiver) LoadSummary(ctx context.Context, runID string, startedAt time.Time) ([]byte, error) {
	key, err := summaryKey(s.prefix, runID, startedAt)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("archive/s3: get %q: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	limited := io.LimitReader(out.Body, s.maxGetSize+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("archive/s3: read %q: %w", key, err)
	}
	if int64(len(data)) > s.maxGetSize {
		return nil, fmt.Errorf("%w: key %q exceeds max %d bytes", ErrTooLarge, key, s.maxGetSize)
	}
	return data, nil
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "NoSuchKey", "NotFound", "404":
		return true
	default:
		return false
	}
}
