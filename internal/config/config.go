package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location, relative to the working directory.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	DatabaseMode   string `yaml:"databaseMode"`
	DatabaseURL    string `yaml:"databaseURL"`
	EmbeddedDBPort int    `yaml:"embeddedDbPort"`
	EmbeddedDBDir  string `yaml:"embeddedDbDir"`

	StagingDir        string `yaml:"stagingDir"`
	StagingMaxAgeDays int    `yaml:"stagingMaxAgeDays"`

	DriveEndpoint        string `yaml:"driveEndpoint"`
	DownloadBatchSize    int    `yaml:"downloadBatchSize"`
	DownloadPauseSeconds int    `yaml:"downloadPauseSeconds"`

	ProcessorProvider       string `yaml:"processorProvider"`
	ProcessorURL            string `yaml:"processorURL"`
	ProcessorAPIKey         string `yaml:"processorApiKey"`
	ProcessorTimeoutSeconds int    `yaml:"processorTimeoutSeconds"`

	WorkerPageLimit    int `yaml:"workerPageLimit"`
	WorkerDelaySeconds int `yaml:"workerDelaySeconds"`

	SchedulerIntervalSeconds int  `yaml:"schedulerIntervalSeconds"`
	SchedulerAutoStart       bool `yaml:"schedulerAutoStart"`

	RedisAddr             string   `yaml:"redisAddr"`
	RedisPassword         string   `yaml:"redisPassword"`
	SyncRequestsPerMinute int      `yaml:"syncRequestsPerMinute"`
	TrustedProxyCIDRs     []string `yaml:"trustedProxyCidrs"`

	ArchiveEnabled bool   `yaml:"archiveEnabled"`
	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	AMQPURL string `yaml:"amqpURL"`

	AdminJWTPublicKeyPath string `yaml:"adminJwtPublicKeyPath"`
	AdminJWTAudience      string `yaml:"adminJwtAudience"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("DOCSYNC_DATABASE_MODE"); v != "" {
		cfg.DatabaseMode = v
	}
	if v := os.Getenv("DOCSYNC_STAGING_DIR"); v != "" {
		cfg.StagingDir = v
	}
	if v := os.Getenv("DOCSYNC_STAGING_MAX_AGE_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.StagingMaxAgeDays = n
		}
	}
	if v := os.Getenv("DOCSYNC_DRIVE_ENDPOINT"); v != "" {
		cfg.DriveEndpoint = v
	}
	if v := os.Getenv("DOCSYNC_DOWNLOAD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DownloadBatchSize = n
		}
	}
	if v := os.Getenv("DOCSYNC_DOWNLOAD_PAUSE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DownloadPauseSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_PROCESSOR_PROVIDER"); v != "" {
		cfg.ProcessorProvider = v
	}
	if v := os.Getenv("DOCSYNC_PROCESSOR_URL"); v != "" {
		cfg.ProcessorURL = v
	}
	if v := os.Getenv("DOCSYNC_PROCESSOR_API_KEY"); v != "" {
		cfg.ProcessorAPIKey = v
	}
	if v := os.Getenv("DOCSYNC_PROCESSOR_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ProcessorTimeoutSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_WORKER_PAGE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerPageLimit = n
		}
	}
	if v := os.Getenv("DOCSYNC_WORKER_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WorkerDelaySeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_SCHEDULER_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SchedulerIntervalSeconds = n
		}
	}
	if v := os.Getenv("DOCSYNC_SCHEDULER_AUTO_START"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.SchedulerAutoStart = enabled
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("DOCSYNC_SYNC_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SyncRequestsPerMinute = n
		}
	}
	if v := os.Getenv("DOCSYNC_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("DOCSYNC_ARCHIVE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.ArchiveEnabled = enabled
		}
	}
	if v := os.Getenv("DOCSYNC_MINIO_ENDPOINT"); v != "" {
		cfg.MinioEndpoint = v
	}
	if v := os.Getenv("DOCSYNC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinioAccessKey = v
	}
	if v := os.Getenv("DOCSYNC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinioSecretKey = v
	}
	if v := os.Getenv("DOCSYNC_MINIO_BUCKET"); v != "" {
		cfg.MinioBucket = v
	}
	if v := os.Getenv("DOCSYNC_AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("DOCSYNC_ADMIN_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.AdminJWTPublicKeyPath = v
	}
	if v := os.Getenv("DOCSYNC_ADMIN_JWT_AUDIENCE"); v != "" {
		cfg.AdminJWTAudience = v
	}
	if cfg.DatabaseMode == "" {
		cfg.DatabaseMode = "external"
	}
	if cfg.AdminJWTAudience == "" {
		cfg.AdminJWTAudience = "docsync-admin"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseMode {
	case "external":
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case "embedded":
		if cfg.EmbeddedDBPort < 0 || cfg.EmbeddedDBPort > 65535 {
			return errors.New("config: embeddedDbPort must be a valid port")
		}
	default:
		return fmt.Errorf("config: databaseMode must be external or embedded, got %q", cfg.DatabaseMode)
	}
	if cfg.StagingDir == "" {
		return errors.New("config: stagingDir is required (set in config.yaml or DOCSYNC_STAGING_DIR)")
	}
	if cfg.StagingMaxAgeDays < 0 {
		return errors.New("config: stagingMaxAgeDays must be >= 0")
	}
	if cfg.DownloadBatchSize < 0 {
		return errors.New("config: downloadBatchSize must be >= 0")
	}
	if cfg.DownloadPauseSeconds < 0 {
		return errors.New("config: downloadPauseSeconds must be >= 0")
	}
	switch cfg.ProcessorProvider {
	case "", "extract", "tika":
	default:
		return fmt.Errorf("config: processorProvider must be extract or tika, got %q", cfg.ProcessorProvider)
	}
	if cfg.ProcessorURL == "" {
		return errors.New("config: processorURL is required (set in config.yaml or DOCSYNC_PROCESSOR_URL)")
	}
	if cfg.ProcessorTimeoutSeconds < 0 {
		return errors.New("config: processorTimeoutSeconds must be >= 0")
	}
	if cfg.WorkerPageLimit < 0 {
		return errors.New("config: workerPageLimit must be >= 0")
	}
	if cfg.WorkerDelaySeconds < 0 {
		return errors.New("config: workerDelaySeconds must be >= 0")
	}
	if cfg.SchedulerIntervalSeconds < 0 {
		return errors.New("config: schedulerIntervalSeconds must be >= 0")
	}
	if cfg.SyncRequestsPerMinute < 0 {
		return errors.New("config: syncRequestsPerMinute must be >= 0")
	}
	if cfg.SyncRequestsPerMinute > 0 && cfg.RedisAddr == "" {
		return errors.New("config: syncRequestsPerMinute requires redisAddr (set in config.yaml or REDIS_ADDR)")
	}
	if cfg.ArchiveEnabled {
		if strings.TrimSpace(cfg.MinioEndpoint) == "" || strings.TrimSpace(cfg.MinioBucket) == "" {
			return errors.New("config: archiveEnabled=true requires minioEndpoint and minioBucket")
		}
		if cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" {
			return errors.New("config: archiveEnabled=true requires minioAccessKey and minioSecretKey")
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
