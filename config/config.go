package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultPath = "config/config.json"

type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Auth     AuthConfig     `json:"auth"`
	Chat     ChatConfig     `json:"chat"`
	Kafka    KafkaConfig    `json:"kafka"`
	Log      LogConfig      `json:"log"`
}

type ServerConfig struct {
	Addr            string   `json:"addr"`
	Env             string   `json:"env"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	RateLimit       int      `json:"rate_limit"`
	RateWindow      Duration `json:"rate_window"`
}

type DatabaseConfig struct {
	Driver      string `json:"driver"`
	DSN         string `json:"dsn"`
	AutoMigrate bool   `json:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type AuthConfig struct {
	JWTSecret   string `json:"jwt_secret"`
	TokenExpiry int    `json:"token_expiry"` // in hours
}

type ChatConfig struct {
	HandshakeTimeout  Duration `json:"handshake_timeout"`
	EventTimeout      Duration `json:"event_timeout"`
	SendQueueSize     int      `json:"send_queue_size"`
	HistoryLimit      int      `json:"history_limit"`
	RoomListLimit     int      `json:"room_list_limit"`
	MessageTTL        Duration `json:"message_ttl"`
	RoomTTL           Duration `json:"room_ttl"`
	SweepInterval     Duration `json:"sweep_interval"`
	SendRateLimit     int      `json:"send_rate_limit"`
	SendRateWindow    Duration `json:"send_rate_window"`
	RateLimitStrategy string   `json:"rate_limit_strategy"`
	PresenceTTL       Duration `json:"presence_ttl"`
}

type KafkaConfig struct {
	Enabled       bool     `json:"enabled"`
	Brokers       []string `json:"brokers"`
	Username      string   `json:"username"`
	Password      string   `json:"password"`
	Mechanism     string   `json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	UseTLS        bool     `json:"use_tls"`
	CertFile      string   `json:"cert_file"`
	KeyFile       string   `json:"key_file"`
	CAFile        string   `json:"ca_file"`
	EventsTopic   string   `json:"events_topic"`
	NoticesTopic  string   `json:"notices_topic"`
	ConsumerGroup string   `json:"consumer_group"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Duration reads "10s"-style strings from JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("duration must be a string like \"10s\": %w", err)
		}
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Env:             "development",
			AllowedOrigins:  []string{"http://localhost:5173"},
			ShutdownTimeout: Duration{15 * time.Second},
			RateLimit:       120,
			RateWindow:      Duration{time.Minute},
		},
		Database: DatabaseConfig{
			Driver:      "postgres",
			AutoMigrate: false,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Auth: AuthConfig{
			TokenExpiry: 24,
		},
		Chat: ChatConfig{
			HandshakeTimeout:  Duration{10 * time.Second},
			EventTimeout:      Duration{5 * time.Second},
			SendQueueSize:     256,
			HistoryLimit:      100,
			RoomListLimit:     50,
			MessageTTL:        Duration{30 * 24 * time.Hour},
			RoomTTL:           Duration{90 * 24 * time.Hour},
			SweepInterval:     Duration{10 * time.Minute},
			SendRateLimit:     20,
			SendRateWindow:    Duration{10 * time.Second},
			RateLimitStrategy: "fixed_window",
			PresenceTTL:       Duration{24 * time.Hour},
		},
		Kafka: KafkaConfig{
			Mechanism:     "PLAIN",
			EventsTopic:   "chat.events",
			NoticesTopic:  "order.notices",
			ConsumerGroup: "vipstore-chat",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, the JSON file at path and
// then the environment (a .env file is loaded first when present). A missing
// file is only an error when path was given explicitly.
func LoadConfig(path string) (Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	file, err := os.Open(path)
	switch {
	case err == nil:
		decodeErr := json.NewDecoder(file).Decode(&config)
		file.Close()
		if decodeErr != nil {
			return config, fmt.Errorf("decode %s: %w", path, decodeErr)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return config, err
	}

	_ = godotenv.Load()
	if err := config.applyEnv(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	setString(&c.Server.Addr, "HTTP_ADDR")
	setString(&c.Server.Env, "APP_ENV")
	setList(&c.Server.AllowedOrigins, "ALLOWED_ORIGINS")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.DSN, "DATABASE_URL")
	errs = append(errs, setBool(&c.Database.AutoMigrate, "DB_AUTO_MIGRATE"))
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	errs = append(errs, setInt(&c.Redis.DB, "REDIS_DB"))
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
	errs = append(errs,
		setDuration(&c.Chat.HandshakeTimeout, "CHAT_HANDSHAKE_TIMEOUT"),
		setDuration(&c.Chat.MessageTTL, "CHAT_MESSAGE_TTL"),
		setDuration(&c.Chat.RoomTTL, "CHAT_ROOM_TTL"),
		setDuration(&c.Chat.SweepInterval, "CHAT_SWEEP_INTERVAL"),
		setInt(&c.Chat.SendRateLimit, "CHAT_SEND_RATE_LIMIT"),
		setBool(&c.Kafka.Enabled, "KAFKA_ENABLED"),
	)
	setList(&c.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Kafka.Username, "KAFKA_USERNAME")
	setString(&c.Kafka.Password, "KAFKA_PASSWORD")
	setString(&c.Kafka.Mechanism, "KAFKA_MECHANISM")
	setString(&c.Log.Level, "LOG_LEVEL")
	return errors.Join(errs...)
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn (DATABASE_URL) is required"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes in production"))
	}
	if c.Chat.MessageTTL.Duration <= 0 || c.Chat.RoomTTL.Duration <= 0 {
		errs = append(errs, errors.New("chat.message_ttl and chat.room_ttl must be positive"))
	} else if c.Chat.MessageTTL.Duration > c.Chat.RoomTTL.Duration {
		errs = append(errs, errors.New("chat.message_ttl must not exceed chat.room_ttl"))
	}
	if c.Chat.SweepInterval.Duration <= 0 {
		errs = append(errs, errors.New("chat.sweep_interval must be positive"))
	}
	if c.Chat.SendRateLimit <= 0 || c.Chat.SendRateWindow.Duration <= 0 {
		errs = append(errs, errors.New("chat.send_rate_limit and chat.send_rate_window must be positive"))
	}
	if c.Server.RateLimit <= 0 || c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_window must be positive"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.Auth.TokenExpiry) * time.Hour
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, entry := range strings.Split(v, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setDuration(dst *Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	dst.Duration = d
	return nil
}
