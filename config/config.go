package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"snaptosize/logger"
)

const (
	defaultEdgeAddr       = ":8080"
	defaultRunnerAddr     = ":8081"
	defaultPublicURL      = "http://localhost:8080"
	defaultDownloadTTL    = time.Hour
	defaultRunRetention   = 24 * time.Hour
	defaultRunnerWorkers  = 2
	defaultRunnerPoll     = 2 * time.Second
	defaultPackWorkers    = 1
	defaultWatermarkText  = "SnapToSize"
	defaultBlobBackend    = "local"
	defaultOracleProvider = "static"
)

// Role names the process being started; it selects which settings are mandatory.
type Role string

const (
	RoleEdge   Role = "edge"
	RoleRunner Role = "runner"
	RoleServe  Role = "serve"
	RoleCLI    Role = "cli"
)

// ErrMissingRunnerToken is returned by Validate when a networked role has no shared secret.
var ErrMissingRunnerToken = errors.New("RUNNER_TOKEN must be set")

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

type GCSConfig struct {
	Bucket          string
	CredentialsJSON string // base64 encoded service account JSON
}

type SFTPConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	Root       string
}

type Config struct {
	DataDir      string
	RunDir       string
	RunRetention time.Duration

	EdgeAddr   string
	RunnerAddr string
	PublicURL  string // base for locally signed download links
	EdgeURL    string // runner's view of the edge
	RunnerURL  string // edge dispatch target, empty disables dispatch

	RunnerToken   string
	SigningSecret string
	DownloadTTL   time.Duration

	RunnerWorkers int
	RunnerPoll    time.Duration
	PackWorkers   int

	BlobBackend string
	BlobDir     string
	S3          S3Config
	GCS         GCSConfig
	SFTP        SFTPConfig

	OracleProvider string
	OracleURL      string
	OracleKey      string
	ProHandles     []string

	WatermarkText string
	WatermarkFont string

	CORSOrigins []string
	TrustProxy  bool // honour X-Forwarded-For / X-Real-IP

	LogLevel string
	LogFile  string
}

func getEnvOrDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil || val <= 0 {
		logger.Warnf("Invalid %s '%s'. Using default %d. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := time.ParseDuration(valStr)
	if err != nil || val <= 0 {
		logger.Warnf("Invalid %s '%s'. Using default %s. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		logger.Warnf("Invalid %s '%s'. Using default %t. Error: %v", key, valStr, defaultVal, err)
		return defaultVal
	}
	return val
}

func getEnvList(key string, defaultVal []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Infof("No .env file loaded: %v", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (Config, error) {
	runnerToken := os.Getenv("RUNNER_TOKEN")

	cfg := Config{
		DataDir:      GetDataDir(),
		RunDir:       GetRunDir(),
		RunRetention: getEnvDurationOrDefault("SNAPTOSIZE_RUN_RETENTION", defaultRunRetention),

		EdgeAddr:   getEnvOrDefault("SNAPTOSIZE_EDGE_ADDR", defaultEdgeAddr),
		RunnerAddr: getEnvOrDefault("SNAPTOSIZE_RUNNER_ADDR", defaultRunnerAddr),
		PublicURL:  strings.TrimRight(getEnvOrDefault("SNAPTOSIZE_PUBLIC_URL", defaultPublicURL), "/"),
		EdgeURL:    strings.TrimRight(getEnvOrDefault("SNAPTOSIZE_EDGE_URL", defaultPublicURL), "/"),
		RunnerURL:  strings.TrimRight(os.Getenv("SNAPTOSIZE_RUNNER_URL"), "/"),

		RunnerToken:   runnerToken,
		SigningSecret: getEnvOrDefault("SNAPTOSIZE_SIGNING_SECRET", runnerToken),
		DownloadTTL:   getEnvDurationOrDefault("SNAPTOSIZE_DOWNLOAD_TTL", defaultDownloadTTL),

		RunnerWorkers: getEnvIntOrDefault("SNAPTOSIZE_RUNNER_WORKERS", defaultRunnerWorkers),
		RunnerPoll:    getEnvDurationOrDefault("SNAPTOSIZE_RUNNER_POLL", defaultRunnerPoll),
		PackWorkers:   getEnvIntOrDefault("SNAPTOSIZE_PACK_WORKERS", defaultPackWorkers),

		BlobBackend: strings.ToLower(getEnvOrDefault("SNAPTOSIZE_BLOB_BACKEND", defaultBlobBackend)),
		BlobDir:     GetBlobDir(),
		S3: S3Config{
			Bucket:    os.Getenv("S3_BUCKET"),
			Region:    getEnvOrDefault("S3_REGION", "us-east-1"),
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
		},
		GCS: GCSConfig{
			Bucket:          os.Getenv("GCS_BUCKET"),
			CredentialsJSON: os.Getenv("GCS_CREDENTIALS_JSON"),
		},
		SFTP: SFTPConfig{
			Host:       os.Getenv("SFTP_HOST"),
			Port:       getEnvIntOrDefault("SFTP_PORT", 22),
			User:       os.Getenv("SFTP_USER"),
			Password:   os.Getenv("SFTP_PASSWORD"),
			PrivateKey: os.Getenv("SFTP_PRIVATE_KEY"),
			Root:       getEnvOrDefault("SFTP_ROOT", "."),
		},

		OracleProvider: strings.ToLower(getEnvOrDefault("SNAPTOSIZE_ORACLE", defaultOracleProvider)),
		OracleURL:      strings.TrimRight(os.Getenv("SNAPTOSIZE_ORACLE_URL"), "/"),
		OracleKey:      os.Getenv("SNAPTOSIZE_ORACLE_KEY"),
		ProHandles:     getEnvList("SNAPTOSIZE_PRO_HANDLES", nil),

		WatermarkText: getEnvOrDefault("SNAPTOSIZE_WATERMARK_TEXT", defaultWatermarkText),
		WatermarkFont: os.Getenv("SNAPTOSIZE_WATERMARK_FONT"),

		CORSOrigins: getEnvList("SNAPTOSIZE_CORS_ORIGINS", []string{"*"}),
		TrustProxy:  getEnvBoolOrDefault("SNAPTOSIZE_TRUST_PROXY", false),

		LogLevel: getEnvOrDefault("SNAPTOSIZE_LOG_LEVEL", "info"),
		LogFile:  os.Getenv("SNAPTOSIZE_LOG_FILE"),
	}

	switch cfg.BlobBackend {
	case "local", "s3", "gcs", "sftp":
	default:
		return Config{}, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}
	switch cfg.OracleProvider {
	case "static", "http":
	default:
		return Config{}, fmt.Errorf("unsupported oracle provider %q", cfg.OracleProvider)
	}

	return cfg, nil
}

// Validate checks the settings a role cannot start without.
func (c Config) Validate(role Role) error {
	switch role {
	case RoleEdge, RoleRunner, RoleServe:
		if c.RunnerToken == "" {
			return ErrMissingRunnerToken
		}
	}
	if role == RoleEdge || role == RoleServe {
		if c.OracleProvider == "http" && c.OracleURL == "" {
			return errors.New("SNAPTOSIZE_ORACLE_URL must be set for the http oracle")
		}
	}
	if role == RoleRunner || role == RoleServe || role == RoleEdge {
		if err := c.validateBlob(); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validateBlob() error {
	switch c.BlobBackend {
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET must be set for the s3 blob backend")
		}
	case "gcs":
		if c.GCS.Bucket == "" || c.GCS.CredentialsJSON == "" {
			return errors.New("GCS_BUCKET and GCS_CREDENTIALS_JSON must be set for the gcs blob backend")
		}
	case "sftp":
		if c.SFTP.Host == "" || c.SFTP.User == "" {
			return errors.New("SFTP_HOST and SFTP_USER must be set for the sftp blob backend")
		}
		if c.SFTP.Password == "" && c.SFTP.PrivateKey == "" {
			return errors.New("SFTP_PASSWORD or SFTP_PRIVATE_KEY must be set for the sftp blob backend")
		}
	}
	return nil
}
