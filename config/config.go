// Package config loads process-level mount configuration from a YAML
// file and applies it to the rfs mount table.
//
// Example configuration:
//
//	cache_dir: /var/cache/rfs
//	mounts:
//	  - scheme: s3
//	    settings:
//	      region: us-east-1
//	  - scheme: sftp
//	    settings:
//	      host: example.com
//	      user: backup
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JGoutin/rfs"
	"github.com/JGoutin/rfs/cache"
)

// Mount declares one storage system to mount.
type Mount struct {
	// Scheme is the registered backend scheme name ("s3", "sftp", ...).
	Scheme string `yaml:"scheme"`

	// Settings are backend-specific, passed to the scheme's factory.
	Settings map[string]string `yaml:"settings"`
}

// Config is the top-level configuration file structure.
type Config struct {
	// CacheDir enables the metadata disk cache when set.
	CacheDir string `yaml:"cache_dir"`

	Mounts []Mount `yaml:"mounts"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	for i, mount := range c.Mounts {
		if mount.Scheme == "" {
			return fmt.Errorf("config: mount %d: scheme is required", i)
		}
	}
	return nil
}

// Apply builds every declared system and adds it to the rfs mount table.
// When CacheDir is set, a shared metadata cache is created and attached
// to each system through its settings-independent option.
func (c *Config) Apply() error {
	var opts []rfs.Option
	if c.CacheDir != "" {
		diskCache, err := cache.New(c.CacheDir)
		if err != nil {
			return err
		}
		opts = append(opts, rfs.WithCache(diskCache))
	}

	for _, mount := range c.Mounts {
		sys, err := rfs.OpenSystem(mount.Scheme, mount.Settings)
		if err != nil {
			return fmt.Errorf("config: mounting %s: %w", mount.Scheme, err)
		}
		for _, opt := range opts {
			opt(sys)
		}
		rfs.Mount(sys)
	}
	return nil
}
