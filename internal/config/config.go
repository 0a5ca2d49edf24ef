package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port         string
	UploadRoot   string
	S3Bucket     string
	S3Region     string
	S3Endpoint   string
	AWSAccessKey string
	AWSSecretKey string
	UploadsTable string
	JobQueueURL  string
	JobQueueDir  string
}

func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		UploadRoot:   getEnv("UPLOAD_ROOT", "uploads"),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Region:     getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:   getEnv("S3_ENDPOINT", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		UploadsTable: getEnv("UPLOADS_TABLE", ""),
		JobQueueURL:  getEnv("JOB_QUEUE_URL", ""),
		JobQueueDir:  getEnv("JOB_QUEUE_DIR", ""),
	}
}

// UploadConfig tunes the chunked upload protocol. All values have working
// defaults; the YAML file is an optional override.
type UploadConfig struct {
	ChunkSizeMB       int64    `yaml:"chunk_size_mb"`
	DirectMaxMB       int64    `yaml:"direct_max_mb"`
	AllowedMimes      []string `yaml:"allowed_mimes"`
	MaxFormMemoryMB   int64    `yaml:"max_form_memory_mb"`
	MultipartThreshMB int64    `yaml:"multipart_threshold_mb"`
}

func (uc *UploadConfig) ChunkSizeBytes() int64 {
	return uc.ChunkSizeMB * 1024 * 1024
}

func (uc *UploadConfig) DirectMaxBytes() int64 {
	return uc.DirectMaxMB * 1024 * 1024
}

func (uc *UploadConfig) MimeAllowed(mime string) bool {
	for _, m := range uc.AllowedMimes {
		if m == mime {
			return true
		}
	}
	return false
}

func LoadUploadConfig() (*UploadConfig, error) {
	configPath := getEnv("UPLOAD_CONFIG_PATH", "upload-config.yaml")

	config := DefaultUploadConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read upload config: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse upload config: %w", err)
	}

	if config.ChunkSizeMB <= 0 || config.DirectMaxMB <= 0 {
		return nil, fmt.Errorf("upload config: chunk_size_mb and direct_max_mb must be positive")
	}

	return config, nil
}

func DefaultUploadConfig() *UploadConfig {
	return &UploadConfig{
		ChunkSizeMB:       5,
		DirectMaxMB:       50,
		AllowedMimes:      []string{"application/pdf"},
		MaxFormMemoryMB:   8,
		MultipartThreshMB: 16,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
