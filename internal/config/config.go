package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"attendance.bridge/internal/core/mapper"
	"github.com/spf13/viper"
)

// The bridge runs next to the time clock (usually on the same LAN), so every
// setting comes from the environment. BRIDGE_CONFIG_FILE may point at a
// json/yaml/toml file using the same keys; env vars win over the file.

const (
	ScopeUserTime       = "user_time"
	ScopeDeviceUserTime = "device_user_time"

	DriverNone    = "none"
	DriverBioTime = "biotime"
)

type Config struct {
	ServiceName string `mapstructure:"SERVICE_NAME"`
	IsLocalDev  bool   `mapstructure:"IS_LOCAL_DEV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	AutoStart   bool   `mapstructure:"AUTO_START"`
	AdminPort   string `mapstructure:"ADMIN_PORT"`

	Device DeviceConfig `mapstructure:",squash"`
	Sync   SyncConfig   `mapstructure:",squash"`
	Push   PushConfig   `mapstructure:",squash"`
	HR     HRConfig     `mapstructure:",squash"`
	DB     DBConfig     `mapstructure:",squash"`

	AWSRegion              string `mapstructure:"AWS_REGION"`
	AWSEndpoint            string `mapstructure:"AWS_ENDPOINT"`
	DeadLetterQueueURL     string `mapstructure:"DEAD_LETTER_QUEUE_URL"`
	AlertEmailFrom         string `mapstructure:"ALERT_EMAIL_FROM"`
	AlertEmailTo           string `mapstructure:"ALERT_EMAIL_TO"`
	AlertAfterFailedCycles int    `mapstructure:"ALERT_AFTER_FAILED_CYCLES"`
	OTelEndpoint           string `mapstructure:"OTEL_ENDPOINT"`
}

// DeviceConfig describes the pull-side device session.
type DeviceConfig struct {
	Driver  string        `mapstructure:"DEVICE_DRIVER"`
	Address string        `mapstructure:"DEVICE_ADDRESS"`
	Port    int           `mapstructure:"DEVICE_PORT"`
	Timeout time.Duration `mapstructure:"DEVICE_TIMEOUT"`
	Serial  string        `mapstructure:"DEVICE_SERIAL"`
}

type SyncConfig struct {
	Interval         time.Duration `mapstructure:"SYNC_INTERVAL"`
	BatchSize        int           `mapstructure:"BATCH_SIZE"`
	FieldMapping     string        `mapstructure:"FIELD_MAPPING"`
	RecordTimeLayout string        `mapstructure:"RECORD_TIME_LAYOUT"`
	IdentityScope    string        `mapstructure:"IDENTITY_SCOPE"`
	IndexRetention   time.Duration `mapstructure:"INDEX_RETENTION"`
}

type PushConfig struct {
	Enabled     bool          `mapstructure:"PUSH_ENABLED"`
	Port        string        `mapstructure:"PUSH_PORT"`
	IdleTimeout time.Duration `mapstructure:"PUSH_IDLE_TIMEOUT"`
}

// HRConfig is everything the forwarder needs to reach the HR endpoint.
type HRConfig struct {
	BaseURL        string        `mapstructure:"HR_BASE_URL"`
	AttendancePath string        `mapstructure:"HR_ATTENDANCE_PATH"`
	PushPath       string        `mapstructure:"HR_PUSH_PATH"`
	APIKey         string        `mapstructure:"HR_API_KEY"`
	AuthHeader     string        `mapstructure:"HR_AUTH_HEADER"`
	AuthScheme     string        `mapstructure:"HR_AUTH_SCHEME"`
	Timeout        time.Duration `mapstructure:"HR_TIMEOUT"`
	RetryAttempts  int           `mapstructure:"HR_RETRY_ATTEMPTS"`
	RetryDelay     time.Duration `mapstructure:"HR_RETRY_DELAY"`
}

// DBConfig points at the BioTime database used by the biotime device driver.
type DBConfig struct {
	Host     string `mapstructure:"DB_HOST"`
	Port     string `mapstructure:"DB_PORT"`
	User     string `mapstructure:"DB_USER"`
	Password string `mapstructure:"DB_PASSWORD"`
	Name     string `mapstructure:"DB_NAME"`
}

// LoadConfig reads configuration from an optional file and environment variables.
func LoadConfig() (config Config, err error) {
	v := viper.New()

	v.SetDefault("SERVICE_NAME", "attendance-bridge")
	v.SetDefault("IS_LOCAL_DEV", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("AUTO_START", true)
	v.SetDefault("ADMIN_PORT", "8080")

	v.SetDefault("DEVICE_DRIVER", DriverNone)
	v.SetDefault("DEVICE_ADDRESS", "192.168.1.201")
	v.SetDefault("DEVICE_PORT", 4370)
	v.SetDefault("DEVICE_TIMEOUT", "5s")
	v.SetDefault("DEVICE_SERIAL", "")

	v.SetDefault("SYNC_INTERVAL", "5m")
	v.SetDefault("BATCH_SIZE", 50)
	v.SetDefault("FIELD_MAPPING", "employee_code=deviceUserId,scan_time=recordTime,status=attendanceType,verify=verificationMethod,SN=serialNumber,ip=deviceId")
	v.SetDefault("RECORD_TIME_LAYOUT", "2006-01-02 15:04:05")
	v.SetDefault("IDENTITY_SCOPE", ScopeUserTime)
	v.SetDefault("INDEX_RETENTION", "0s")

	v.SetDefault("PUSH_ENABLED", true)
	v.SetDefault("PUSH_PORT", "4370") // ZKTeco ADMS default
	v.SetDefault("PUSH_IDLE_TIMEOUT", "2m")

	v.SetDefault("HR_BASE_URL", "http://localhost:8081")
	v.SetDefault("HR_ATTENDANCE_PATH", "/v1/attendance")
	v.SetDefault("HR_PUSH_PATH", "/v1/checkin/machine-checkin")
	v.SetDefault("HR_API_KEY", "")
	v.SetDefault("HR_AUTH_HEADER", "Authorization")
	v.SetDefault("HR_AUTH_SCHEME", "Bearer")
	v.SetDefault("HR_TIMEOUT", "10s")
	v.SetDefault("HR_RETRY_ATTEMPTS", 3)
	v.SetDefault("HR_RETRY_DELAY", "5s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "7496") // BioTime bundled postgres
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "")
	v.SetDefault("DB_NAME", "biotime")

	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ENDPOINT", "")
	v.SetDefault("DEAD_LETTER_QUEUE_URL", "")
	v.SetDefault("ALERT_EMAIL_FROM", "")
	v.SetDefault("ALERT_EMAIL_TO", "")
	v.SetDefault("ALERT_AFTER_FAILED_CYCLES", 3)
	v.SetDefault("OTEL_ENDPOINT", "")

	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err = v.ReadInConfig(); err != nil {
			return config, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	// Read in environment variables that match the keys.
	v.AutomaticEnv()

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("decoding config: %w", err)
	}
	return config, config.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL must be positive"))
	}
	if c.Sync.BatchSize < 1 {
		errs = append(errs, errors.New("BATCH_SIZE must be at least 1"))
	}
	if c.HR.RetryAttempts < 1 {
		errs = append(errs, errors.New("HR_RETRY_ATTEMPTS must be at least 1"))
	}
	if c.HR.RetryDelay < 0 {
		errs = append(errs, errors.New("HR_RETRY_DELAY must not be negative"))
	}
	if c.HR.BaseURL == "" {
		errs = append(errs, errors.New("HR_BASE_URL is required"))
	}
	switch c.Sync.IdentityScope {
	case ScopeUserTime, ScopeDeviceUserTime:
	default:
		errs = append(errs, fmt.Errorf("IDENTITY_SCOPE %q is not one of %s, %s", c.Sync.IdentityScope, ScopeUserTime, ScopeDeviceUserTime))
	}
	switch c.Device.Driver {
	case DriverNone, DriverBioTime:
	default:
		errs = append(errs, fmt.Errorf("DEVICE_DRIVER %q is not supported", c.Device.Driver))
	}
	if _, err := mapper.ParseFieldMapping(c.Sync.FieldMapping); err != nil {
		errs = append(errs, fmt.Errorf("FIELD_MAPPING: %w", err))
	}

	return errors.Join(errs...)
}

// AlertsEnabled reports whether SES alerting has somewhere to send to.
func (c Config) AlertsEnabled() bool {
	return c.AlertEmailFrom != "" && c.AlertEmailTo != "" && c.AlertAfterFailedCycles > 0
}
