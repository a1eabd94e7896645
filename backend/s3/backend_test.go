package s3

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/JGoutin/rfs"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty config", Config{}, false},
		{"valid part size", Config{PartSize: minPartSize}, false},
		{"part size too small", Config{PartSize: 1024}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigFromMap(t *testing.T) {
	cfg := ConfigFromMap(map[string]string{
		"region":            "eu-west-1",
		"endpoint":          "http://localhost:9000",
		"access_key_id":     "AKIA",
		"secret_access_key": "secret",
		"use_path_style":    "true",
		"part_size":         "10485760",
		"concurrency":       "8",
	})

	if cfg.Region != "eu-west-1" {
		t.Errorf("Region = %q", cfg.Region)
	}
	if cfg.Endpoint != "http://localhost:9000" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.AccessKeyID != "AKIA" || cfg.SecretAccessKey != "secret" {
		t.Errorf("credentials = %q/%q", cfg.AccessKeyID, cfg.SecretAccessKey)
	}
	if !cfg.UsePathStyle {
		t.Error("UsePathStyle = false")
	}
	if cfg.PartSize != 10485760 {
		t.Errorf("PartSize = %d", cfg.PartSize)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}

	// Defaults survive unknown or missing keys.
	cfg = ConfigFromMap(map[string]string{"part_size": "garbage"})
	if cfg.PartSize != minPartSize {
		t.Errorf("PartSize = %d, want default %d", cfg.PartSize, minPartSize)
	}
}

func TestSpecRoots(t *testing.T) {
	spec := Spec(Config{Region: "us-east-1"})
	sys, err := rfs.NewSystem(spec, func() (rfs.Client, error) { return nil, errors.New("unused") })
	if err != nil {
		t.Fatalf("NewSystem failed: %v", err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"s3://bucket/key", "bucket/key"},
		{"https://bucket.s3.amazonaws.com/key", "key"},
		{"http://bucket.s3.amazonaws.com/key", "key"},
		{"https://bucket.s3.us-east-1.amazonaws.com/key", "key"},
		{"https://bucket.s3-us-east-1.amazonaws.com/key", "key"},
		{"https://s3.amazonaws.com/bucket/key", "bucket/key"},
		{"https://s3.us-east-1.amazonaws.com/bucket/key", "bucket/key"},
		{"https://example.com/bucket/key", "https://example.com/bucket/key"},
	}
	for _, tt := range tests {
		if got := sys.RelativePath(tt.path); got != tt.want {
			t.Errorf("RelativePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

type apiError struct {
	code string
}

func (e *apiError) Error() string     { return e.code }
func (e *apiError) ErrorCode() string { return e.code }

func TestTranslateError(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{nil, nil},
		{&types.NotFound{}, rfs.ErrNotFound},
		{&types.NoSuchKey{}, rfs.ErrNotFound},
		{&types.NoSuchBucket{}, rfs.ErrNotFound},
		{&apiError{code: "NoSuchUpload"}, rfs.ErrNotFound},
		{&apiError{code: "AccessDenied"}, rfs.ErrPermissionDenied},
		{&apiError{code: "InvalidAccessKeyId"}, rfs.ErrPermissionDenied},
	}
	for _, tt := range tests {
		got := translateError(tt.err)
		if tt.want == nil {
			if got != nil {
				t.Errorf("translateError(%v) = %v, want nil", tt.err, got)
			}
			continue
		}
		if !errors.Is(got, tt.want) {
			t.Errorf("translateError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}

	// Unrecognized errors stay opaque but wrapped.
	opaque := errors.New("throttled")
	if got := translateError(opaque); !errors.Is(got, opaque) {
		t.Errorf("translateError lost the cause: %v", got)
	}
}

func TestErrorCode(t *testing.T) {
	if got := errorCode(&apiError{code: "InvalidRange"}); got != "InvalidRange" {
		t.Errorf("errorCode = %q", got)
	}
	if got := errorCode(errors.New("plain")); got != "" {
		t.Errorf("errorCode = %q, want empty", got)
	}
}
