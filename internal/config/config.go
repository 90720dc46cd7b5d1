// Package config is the viper-based layered configuration loader:
// defaults, then an optional config file, then PYROSCAN_-prefixed
// environment variables, adapted from the teacher's internal/config
// package and widened from a single embedded-database config to the
// full sinks/storage surface this system wires (spec §6.4 plus the
// supplemental sinks).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Polling    PollingConfig    `mapstructure:"polling"`
	Logger     LoggerConfig     `mapstructure:"logger"`
	Security   SecurityConfig   `mapstructure:"security"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MQTT       MQTTConfig       `mapstructure:"mqtt"`
	Influx     InfluxConfig     `mapstructure:"influx"`
	FTP        FTPConfig        `mapstructure:"ftp"`
	S3         S3Config         `mapstructure:"s3"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	DeviceDrop DeviceDropConfig `mapstructure:"device_drop"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DatabaseConfig is the primary SQL backend DSN (sqlite/postgres/mysql,
// sniffed by internal/sqlstore).
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// PollingConfig tunes the Polling Scheduler's cadence.
type PollingConfig struct {
	CycleIntervalMS int `mapstructure:"cycle_interval_ms"`
	PollTimeoutMS   int `mapstructure:"poll_timeout_ms"`
	MaxPauseWaitMS  int `mapstructure:"max_pause_wait_ms"`
}

func (p PollingConfig) CycleInterval() time.Duration {
	return time.Duration(p.CycleIntervalMS) * time.Millisecond
}
func (p PollingConfig) PollTimeout() time.Duration {
	return time.Duration(p.PollTimeoutMS) * time.Millisecond
}
func (p PollingConfig) MaxPauseWait() time.Duration {
	return time.Duration(p.MaxPauseWaitMS) * time.Millisecond
}

// LoggerConfig contains logging settings.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	LogDir string `mapstructure:"log_dir"`
}

// SecurityConfig holds the operator PIN used by /config/verify-pin.
type SecurityConfig struct {
	PIN string `mapstructure:"pin"`
}

// RedisConfig enables the optional Reading Store latest-value cache.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	TTLSecs int    `mapstructure:"ttl_secs"`
}

func (r RedisConfig) Enabled() bool      { return r.Addr != "" }
func (r RedisConfig) TTL() time.Duration { return time.Duration(r.TTLSecs) * time.Second }

// MQTTConfig enables the optional MQTT publish sink.
type MQTTConfig struct {
	BrokerURL string `mapstructure:"broker_url"`
	ClientID  string `mapstructure:"client_id"`
	Prefix    string `mapstructure:"topic_prefix"`
}

func (m MQTTConfig) Enabled() bool { return m.BrokerURL != "" }

// InfluxConfig enables the optional InfluxDB secondary time-series sink.
type InfluxConfig struct {
	URL    string `mapstructure:"url"`
	Token  string `mapstructure:"token"`
	Org    string `mapstructure:"org"`
	Bucket string `mapstructure:"bucket"`
}

func (i InfluxConfig) Enabled() bool { return i.URL != "" }

// FTPConfig enables the optional FTP CSV archival sink.
type FTPConfig struct {
	Addr      string `mapstructure:"addr"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	RemoteDir string `mapstructure:"remote_dir"`
}

func (f FTPConfig) Enabled() bool { return f.Addr != "" }

// S3Config enables the optional Device Registry backup store.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

func (s S3Config) Enabled() bool { return s.Bucket != "" }

// MongoConfig enables the optional parameter-write audit trail.
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

func (m MongoConfig) Enabled() bool { return m.URI != "" }

// RetentionConfig tunes the scheduled reading-history pruning job.
type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

// DeviceDropConfig enables the optional fsnotify device-config drop
// directory watched by the Device Registry.
type DeviceDropConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	v.SetEnvPrefix("PYROSCAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.url", "sqlite://./data/pyroscan.db")

	v.SetDefault("polling.cycle_interval_ms", 2000)
	v.SetDefault("polling.poll_timeout_ms", 500)
	v.SetDefault("polling.max_pause_wait_ms", 2000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.log_dir", "./logs")

	v.SetDefault("security.pin", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.ttl_secs", 30)

	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.client_id", "pyroscan")
	v.SetDefault("mqtt.topic_prefix", "pyroscan/readings")

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "pyroscan")

	v.SetDefault("ftp.addr", "")
	v.SetDefault("ftp.remote_dir", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "pyroscan")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "pyroscan")

	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.schedule", "0 3 * * *")

	v.SetDefault("device_drop.dir", "")
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".pyroscan")
}
