package archive

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  Config{Driver: DriverMemory},
		},
		{
			name:    "unsupported driver",
			cfg:     Config{Driver: "gcs"},
			wantErr: true,
		},
		{
			name:    "s3 missing bucket",
			cfg:     Config{Driver: DriverS3, S3Client: &fakeS3Client{}},
			wantErr: true,
		},
		{
			name:    "s3 missing client",
			cfg:     Config{Driver: DriverS3, Bucket: "bridge-reports"},
			wantErr: true,
		},
		{
			name: "default driver is s3",
			cfg:  Config{Bucket: "bridge-reports", S3Client: &fakeS3Client{}},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			a, err := New(tc.cfg)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if a == nil {
				t.Fatalf("New returned nil archiver")
			}
		})
	}
}

func TestSummaryKeyLayout(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	key, err := summaryKey("runner-a", "0xAB12", started)
	if err != nil {
		t.Fatalf("summaryKey: %v", err)
	}
	if want := "runner-a/cycles/2026/08/30/ab12.json"; key != want {
		t.Fatalf("key: got %q want %q", key, want)
	}

	if _, err := summaryKey("", "", started); !errors.Is(err, ErrInvalidRunID) {
		t.Fatalf("empty run id: got %v want ErrInvalidRunID", err)
	}
	if _, err := summaryKey("", "not-hex!", started); !errors.Is(err, ErrInvalidRunID) {
		t.Fatalf("bad run id: got %v want ErrInvalidRunID", err)
	}
}

func TestMemoryArchiverRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Driver: DriverMemory, Prefix: "runner-a/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	payload := []byte(`{"run_id":"ab12","succeeded":7}`)
	if err := a.SaveSummary(context.Background(), "ab12", started, payload); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}

	got, err := a.LoadSummary(context.Background(), "ab12", started)
	if err != nil {
		t.Fatalf("LoadSummary: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("payload: got %q want %q", got, payload)
	}

	if _, err := a.LoadSummary(context.Background(), "ffff", started); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing run: got %v want ErrNotFound", err)
	}
}

func TestS3ArchiverSave(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 8, 30, 13, 0, 0, 0, time.UTC)
	var gotKey, gotContentType string
	client := &fakeS3Client{
		putFn: func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			gotKey = aws.ToString(in.Key)
			gotContentType = aws.ToString(in.ContentType)
			return &s3.PutObjectOutput{}, nil
		},
	}

	a, err := New(Config{Driver: DriverS3, Bucket: "bridge-reports", Prefix: "runner-a", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.SaveSummary(context.Background(), "0xab12", started, []byte(`{}`)); err != nil {
		t.Fatalf("SaveSummary: %v", err)
	}
	if want := "runner-a/cycles/2026/08/30/ab12.json"; gotKey != want {
		t.Fatalf("key: got %q want %q", gotKey, want)
	}
	if gotContentType != contentTypeJSON {
		t.Fatalf("content type: got %q", gotContentType)
	}
}

func TestS3ArchiverMapsNotFound(t *testing.T) {
	t.Parallel()

	client := &fakeS3Client{
		getFn: func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
			return nil, fakeAPIError{code: "NoSuchKey", msg: "missing"}
		},
	}

	a, err := New(Config{Driver: DriverS3, Bucket: "bridge-reports", S3Client: client})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.LoadSummary(context.Background(), "ab12", time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeS3Client struct {
	putFn func(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	getFn func(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

func (f *fakeS3Client) PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putFn == nil {
		return &s3.PutObjectOutput{}, nil
	}
	return f.putFn(ctx, in, opts...)
}

func (f *fakeS3Client) GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getFn == nil {
		return nil, errors.New("unexpected GetObject call")
	}
	return f.getFn(ctx, in, opts...)
}

type fakeAPIError struct {
	code string
	msg  string
}

func (f fakeAPIError) ErrorCode() string          { return f.code }
func (f fakeAPIError) ErrorMessage() string       { return f.msg }
func (f fakeAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }
func (f fakeAPIError) Error() string              { return f.code + ": " + f.msg }
