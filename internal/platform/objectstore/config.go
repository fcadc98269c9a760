package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/animus-labs/thyroid/internal/platform/env"
)

// Config locates the bucket promoted models are exported to. An empty
// endpoint disables the upload.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("THYROID_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("THYROID_MINIO_ENDPOINT", ""),
		AccessKey: env.String("THYROID_MINIO_ACCESS_KEY", ""),
		SecretKey: env.String("THYROID_MINIO_SECRET_KEY", ""),
		Region:    env.String("THYROID_MINIO_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("THYROID_MINIO_BUCKET_MODELS", "models"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

func (c Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("models bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
