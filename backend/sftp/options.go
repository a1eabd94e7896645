package sftp

import (
	"errors"
	"strconv"
)

// Errors specific to the SFTP backend.
var (
	ErrHostRequired = errors.New("sftp: host is required")
	ErrUserRequired = errors.New("sftp: user is required")
	ErrAuthRequired = errors.New("sftp: no authentication method provided (password or key_file required)")
)

// Config holds configuration for the SFTP backend.
type Config struct {
	// Host is the SFTP server hostname or IP address (required).
	Host string

	// Port is the SSH port. Default: 22.
	Port int

	// User is the SSH username (required).
	User string

	// Password is the SSH password.
	// Either Password or KeyFile must be provided.
	Password string

	// KeyFile is the path to an SSH private key file.
	// Either Password or KeyFile must be provided.
	KeyFile string

	// KeyPassphrase is the passphrase for encrypted private keys.
	KeyPassphrase string

	// Root is the base directory on the remote server. Its top-level
	// directories are the locators of the namespace. Default: ".".
	Root string

	// Timeout is the connection timeout in seconds. Default: 30.
	Timeout int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Port:    22,
		Timeout: 30,
	}
}

// ConfigFromMap creates a Config from a string map.
// Supported keys:
//   - host: server hostname (required)
//   - port: SSH port (default: 22)
//   - user: username (required)
//   - password: password
//   - key_file: path to private key
//   - key_passphrase: passphrase for encrypted key
//   - root: base directory
//   - timeout: connection timeout in seconds
func ConfigFromMap(m map[string]string) Config {
	config := DefaultConfig()

	if v, ok := m["host"]; ok {
		config.Host = v
	}
	if v, ok := m["port"]; ok {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			config.Port = port
		}
	}
	if v, ok := m["user"]; ok {
		config.User = v
	}
	if v, ok := m["password"]; ok {
		config.Password = v
	}
	if v, ok := m["key_file"]; ok {
		config.KeyFile = v
	}
	if v, ok := m["key_passphrase"]; ok {
		config.KeyPassphrase = v
	}
	if v, ok := m["root"]; ok {
		config.Root = v
	}
	if v, ok := m["timeout"]; ok {
		if t, err := strconv.Atoi(v); err == nil && t > 0 {
			config.Timeout = t
		}
	}

	return config
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Host == "" {
		return ErrHostRequired
	}
	if c.User == "" {
		return ErrUserRequired
	}
	if c.Password == "" && c.KeyFile == "" {
		return ErrAuthRequired
	}
	return nil
}
