package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	BucketMedia  string
	BucketThumbs string
	UseSSL       bool
	Region       string
}

type SecurityConfig struct {
	JWTSecret       string
	JWTAccessTTL    time.Duration
	SignatureSecret string
}

type ProviderConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ImageModel     string
	VideoModel     string
	TextModel      string
}

// JobsConfig drives the scheduler: how often polling jobs are swept, how
// long a job may run before it is force-failed, and how long records are
// retained before garbage collection.
type JobsConfig struct {
	SubmitStream   string
	ConsumerGroup  string
	ConsumerName   string
	ClaimInterval  time.Duration
	PollInterval   time.Duration
	TimeoutCeiling time.Duration
	Retention      time.Duration
}

type QuotaDefaults struct {
	ImageLimit int64
	VideoLimit int64
	TextLimit  int64
}

type RateLimitConfig struct {
	Enabled  bool
	Window   time.Duration
	MaxCalls int
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Provider         ProviderConfig
	Jobs             JobsConfig
	Quotas           QuotaDefaults
	RateLimit        RateLimitConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("MEDIAFORGE")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "30s")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.bucketmedia", "mediaforge-media")
	v.SetDefault("storage.bucketthumbs", "mediaforge-thumbs")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("security.jwtaccessttl", "12h")

	v.SetDefault("provider.baseurl", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("provider.requesttimeout", "60s")
	v.SetDefault("provider.imagemodel", "imagen-3.0-generate-002")
	v.SetDefault("provider.videomodel", "veo-3.1-fast-generate-preview")
	v.SetDefault("provider.textmodel", "gemini-2.5-flash")

	v.SetDefault("jobs.submitstream", "jobs:submit")
	v.SetDefault("jobs.consumergroup", "mediaforge")
	v.SetDefault("jobs.consumername", "api-1")
	v.SetDefault("jobs.claiminterval", "30s")
	v.SetDefault("jobs.pollinterval", "10s")
	v.SetDefault("jobs.timeoutceiling", "10m")
	v.SetDefault("jobs.retention", "48h")

	v.SetDefault("quotas.imagelimit", 100)
	v.SetDefault("quotas.videolimit", 50)
	v.SetDefault("quotas.textlimit", 500)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.maxcalls", 10)
}
