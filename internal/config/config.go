package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Telegram TelegramConfig `yaml:"telegram"`
	YouTube  YouTubeConfig  `yaml:"youtube"`
	Poll     PollConfig     `yaml:"poll"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	LogLevel string         `yaml:"log_level"`
}

type RabbitMQConfig struct {
	// Publishing is disabled when URL is empty.
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// URL is the connection string in the form the migration driver expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     d.Host + ":" + strconv.Itoa(d.Port),
		Path:     "/" + d.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type TelegramConfig struct {
	Token   string        `yaml:"token"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
	// Sends per second across all chats.
	RateLimit int `yaml:"rate_limit"`
	// Sends per minute to a single chat.
	ChatRateLimit int `yaml:"chat_rate_limit"`
	// Attempts per send while Telegram answers with retry_after.
	FloodAttempts int           `yaml:"flood_attempts"`
	MaxFloodWait  time.Duration `yaml:"max_flood_wait"`
	// Chat that receives uploads so their file id can be reused. Optional.
	CacheChatID string      `yaml:"cache_chat_id"`
	Image       ImageConfig `yaml:"image"`
}

type ImageConfig struct {
	ProbeAttempts  int           `yaml:"probe_attempts"`
	ProbeDelay     time.Duration `yaml:"probe_delay"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	UploadAttempts int           `yaml:"upload_attempts"`
	UploadDelay    time.Duration `yaml:"upload_delay"`
}

type YouTubeConfig struct {
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   int           `yaml:"rate_limit"`
	Concurrency int           `yaml:"concurrency"`
	PageSize    int           `yaml:"page_size"`
	PageLimit   int           `yaml:"page_limit"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type PollConfig struct {
	Schedule   string        `yaml:"schedule"`
	BatchSize  int           `yaml:"batch_size"`
	SyncLease  time.Duration `yaml:"sync_lease"`
	Lookback   time.Duration `yaml:"lookback"`
	CheckOnRun bool          `yaml:"check_on_run"`
	Timeout    time.Duration `yaml:"timeout"`
}

type DispatchConfig struct {
	BatchSize       int           `yaml:"batch_size"`
	MaxInFlight     int           `yaml:"max_in_flight"`
	SendConcurrency int           `yaml:"send_concurrency"`
	Lease           time.Duration `yaml:"lease"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	EscalatedDelay  time.Duration `yaml:"escalated_delay"`
	IdleInterval    time.Duration `yaml:"idle_interval"`
}

type CleanupConfig struct {
	Schedule      string        `yaml:"schedule"`
	ItemRetention time.Duration `yaml:"item_retention"`
	Timeout       time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	// Metrics are not served when Addr is empty.
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.YouTube.APIKey == "" {
		return fmt.Errorf("youtube.api_key is required")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "video_notifier"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "events"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "notifier_events"
	}
	c.Telegram.setDefaults()
	c.YouTube.setDefaults()
	if c.Poll.Schedule == "" {
		c.Poll.Schedule = "*/5 * * * *"
	}
	if c.Poll.BatchSize == 0 {
		c.Poll.BatchSize = 50
	}
	if c.Poll.SyncLease == 0 {
		c.Poll.SyncLease = 5 * time.Minute
	}
	if c.Poll.Lookback == 0 {
		c.Poll.Lookback = 7 * 24 * time.Hour
	}
	if c.Poll.Timeout == 0 {
		c.Poll.Timeout = 30 * time.Minute
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 30
	}
	if c.Dispatch.MaxInFlight == 0 {
		c.Dispatch.MaxInFlight = 10
	}
	if c.Dispatch.SendConcurrency == 0 {
		c.Dispatch.SendConcurrency = c.Dispatch.MaxInFlight
	}
	if c.Dispatch.Lease == 0 {
		c.Dispatch.Lease = 5 * time.Minute
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = 5 * time.Minute
	}
	if c.Dispatch.EscalatedDelay == 0 {
		c.Dispatch.EscalatedDelay = 6 * time.Hour
	}
	if c.Dispatch.IdleInterval == 0 {
		c.Dispatch.IdleInterval = time.Minute
	}
	if c.Cleanup.Schedule == "" {
		c.Cleanup.Schedule = "@hourly"
	}
	if c.Cleanup.ItemRetention == 0 {
		c.Cleanup.ItemRetention = 30 * 24 * time.Hour
	}
	if c.Cleanup.Timeout == 0 {
		c.Cleanup.Timeout = 10 * time.Minute
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (t *TelegramConfig) setDefaults() {
	if t.APIURL == "" {
		t.APIURL = "https://api.telegram.org"
	}
	if t.Timeout == 0 {
		t.Timeout = 30 * time.Second
	}
	if t.RateLimit == 0 {
		t.RateLimit = 30
	}
	if t.ChatRateLimit == 0 {
		t.ChatRateLimit = 20
	}
	if t.FloodAttempts == 0 {
		t.FloodAttempts = 3
	}
	if t.MaxFloodWait == 0 {
		t.MaxFloodWait = time.Minute
	}
	if t.Image.ProbeAttempts == 0 {
		t.Image.ProbeAttempts = 10
	}
	if t.Image.ProbeDelay == 0 {
		t.Image.ProbeDelay = 30 * time.Second
	}
	if t.Image.ProbeTimeout == 0 {
		t.Image.ProbeTimeout = 10 * time.Second
	}
	if t.Image.UploadAttempts == 0 {
		t.Image.UploadAttempts = 3
	}
	if t.Image.UploadDelay == 0 {
		t.Image.UploadDelay = 5 * time.Second
	}
}

func (y *YouTubeConfig) setDefaults() {
	if y.BaseURL == "" {
		y.BaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if y.Timeout == 0 {
		y.Timeout = 30 * time.Second
	}
	if y.RateLimit == 0 {
		y.RateLimit = 1000
	}
	if y.Concurrency == 0 {
		y.Concurrency = 50
	}
	if y.PageSize == 0 {
		y.PageSize = 50
	}
	if y.PageLimit == 0 {
		y.PageLimit = 100
	}
	if y.Retry.MaxAttempts == 0 {
		y.Retry.MaxAttempts = 5
	}
	if y.Retry.Delay == 0 {
		y.Retry.Delay = 250 * time.Millisecond
	}
}
