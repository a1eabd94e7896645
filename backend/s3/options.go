package s3

import "strconv"

// Config holds configuration for the S3 backend.
type Config struct {
	// Region is the AWS region (e.g., "us-east-1").
	// If empty, uses AWS_REGION or AWS_DEFAULT_REGION environment variable.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible services.
	// Examples:
	//   - MinIO: "http://localhost:9000"
	//   - Cloudflare R2: "https://<account_id>.r2.cloudflarestorage.com"
	//   - Wasabi: "https://s3.wasabisys.com"
	// Leave empty for AWS S3.
	Endpoint string

	// AccessKeyID is the AWS access key ID.
	// If empty, uses AWS_ACCESS_KEY_ID environment variable or IAM role.
	AccessKeyID string

	// SecretAccessKey is the AWS secret access key.
	// If empty, uses AWS_SECRET_ACCESS_KEY environment variable or IAM role.
	SecretAccessKey string

	// SessionToken is an optional session token for temporary credentials.
	SessionToken string

	// UsePathStyle forces path-style addressing instead of
	// virtual-hosted-style. Required for some S3-compatible services
	// like MinIO.
	UsePathStyle bool

	// PartSize is the size in bytes for whole-object uploads through the
	// transfer manager. Default: 5MB (minimum for S3).
	PartSize int64

	// Concurrency is the number of concurrent transfer manager
	// goroutines. Default: 5.
	Concurrency int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		PartSize:    minPartSize,
		Concurrency: 5,
	}
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - region: AWS region
//   - endpoint: custom endpoint URL
//   - access_key_id: AWS access key
//   - secret_access_key: AWS secret key
//   - session_token: session token
//   - use_path_style: "true" for path-style addressing
//   - part_size: transfer manager part size in bytes
//   - concurrency: number of concurrent transfer goroutines
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	if v, ok := m["region"]; ok {
		config.Region = v
	}
	if v, ok := m["endpoint"]; ok {
		config.Endpoint = v
	}
	if v, ok := m["access_key_id"]; ok {
		config.AccessKeyID = v
	}
	if v, ok := m["secret_access_key"]; ok {
		config.SecretAccessKey = v
	}
	if v, ok := m["session_token"]; ok {
		config.SessionToken = v
	}
	if v, ok := m["use_path_style"]; ok && (v == "true" || v == "1") {
		config.UsePathStyle = true
	}
	if v, ok := m["part_size"]; ok {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			config.PartSize = size
		}
	}
	if v, ok := m["concurrency"]; ok {
		if c, err := strconv.Atoi(v); err == nil && c > 0 {
			config.Concurrency = c
		}
	}

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.PartSize != 0 && c.PartSize < minPartSize {
		return ErrPartSizeTooSmall
	}
	return nil
}
