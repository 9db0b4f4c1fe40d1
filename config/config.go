package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

var Cfg Config

type Config struct {
	// 服务配置
	ServerPort  string `env:"SERVER_PORT" envDefault:"8888"`
	ServerHost  string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // development, staging, production
	ServiceName string `env:"SERVICE_NAME" envDefault:"bulksms"`

	// PostgreSQL 配置
	PostgreSQLHost       string `env:"POSTGRESQL_HOST" envDefault:"localhost"`
	PostgreSQLPort       string `env:"POSTGRESQL_PORT" envDefault:"5432"`
	PostgreSQLUser       string `env:"POSTGRESQL_USER" envDefault:"postgres"`
	PostgreSQLPassword   string `env:"POSTGRESQL_PASSWORD" envDefault:"postgres"`
	PostgreSQLDatabase   string `env:"POSTGRESQL_DATABASE" envDefault:"bulksms"`
	PostgreSQLSchema     string `env:"POSTGRESQL_SCHEMA" envDefault:"public"`
	PostgreSQLSSLMode    string `env:"POSTGRESQL_SSLMODE" envDefault:"disable"`
	PostgreSQLMaxIdle    int    `env:"POSTGRESQL_MAX_IDLE" envDefault:"30"`
	PostgreSQLMaxOpen    int    `env:"POSTGRESQL_MAX_OPEN" envDefault:"200"`
	PostgreSQLReplicaDSN string `env:"POSTGRESQL_REPLICA_DSN"` // 只读副本，受众解析走副本

	// Redis 配置
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"bsms"`

	// RabbitMQ 配置
	RabbitMQAddr     string `env:"RABBITMQ_ADDR" envDefault:"localhost"`
	RabbitMQPort     string `env:"RABBITMQ_PORT" envDefault:"5672"`
	RabbitMQUsername string `env:"RABBITMQ_USERNAME" envDefault:"guest"`
	RabbitMQPassword string `env:"RABBITMQ_PASSWORD" envDefault:"guest"`
	RabbitMQVhost    string `env:"RABBITMQ_VHOST" envDefault:"/"`

	// 短信服务配置
	// twilio 兼容接口 / aliyun / mock
	SMSProvider        string        `env:"SMS_PROVIDER" envDefault:"mock"`
	SMSSenderID        string        `env:"SMS_SENDER_ID"`                    // 默认发送号码或签名
	SMSMaxLength       int           `env:"SMS_MAX_LENGTH" envDefault:"1600"` // 供应商单条长度上限（含退订尾注）
	SMSProviderTimeout time.Duration `env:"SMS_PROVIDER_TIMEOUT" envDefault:"30s"`
	SMSDefaultRegion   string        `env:"SMS_DEFAULT_REGION" envDefault:"US"`                            // 非 E.164 号码按此地区解析
	UnsubscribeFooter  string        `env:"SMS_UNSUBSCRIBE_FOOTER" envDefault:"Reply STOP to unsubscribe"` // 以换行追加在正文后

	TwilioBaseURL    string `env:"TWILIO_BASE_URL" envDefault:"https://api.twilio.com"`
	TwilioAccountSID string `env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `env:"TWILIO_AUTH_TOKEN"`

	// 注意：阿里云 AccessKey 通过 SDK 的环境变量自动获取
	// ALIBABA_CLOUD_ACCESS_KEY_ID 和 ALIBABA_CLOUD_ACCESS_KEY_SECRET
	SMSSignName     string `env:"SMS_SIGN_NAME"`
	SMSTemplateCode string `env:"SMS_TEMPLATE_CODE"` // 模板需包含 ${content} 变量

	// 回执回调共享令牌，为空时不校验
	WebhookToken string `env:"SMS_WEBHOOK_TOKEN"`

	// 投递管线配置
	DispatchStreamThreshold int64         `env:"DISPATCH_STREAM_THRESHOLD" envDefault:"10000"`
	DispatchBatchSize       int           `env:"DISPATCH_BATCH_SIZE" envDefault:"1000"`
	DispatchLockTTL         time.Duration `env:"DISPATCH_LOCK_TTL" envDefault:"10m"`
	WorkerConcurrency       int           `env:"WORKER_CONCURRENCY" envDefault:"200"`
	WorkerRatePerSecond     int           `env:"WORKER_RATE_PER_SECOND" envDefault:"500"`
	ReconcileConcurrency    int           `env:"RECONCILE_CONCURRENCY" envDefault:"16"`

	// 去重缓存
	DedupeCacheSize int           `env:"DEDUPE_CACHE_SIZE" envDefault:"100000"`
	DedupeTTL       time.Duration `env:"DEDUPE_TTL" envDefault:"24h"`
	DedupeUseRedis  bool          `env:"DEDUPE_USE_REDIS" envDefault:"true"`

	// 调度器
	SchedulerDueSpec      string        `env:"SCHEDULER_DUE_SPEC" envDefault:"@every 1m"`
	SchedulerFinalizeSpec string        `env:"SCHEDULER_FINALIZE_SPEC" envDefault:"@every 2m"`
	SchedulerPollSpec     string        `env:"SCHEDULER_POLL_SPEC" envDefault:"@every 5m"`
	StatusPollAge         time.Duration `env:"STATUS_POLL_AGE" envDefault:"10m"`

	// Snowflake ID 生成器配置
	SnowflakeMachineID  int64 `env:"SNOWFLAKE_MACHINE_ID" envDefault:"1"`
	SnowflakeDataCenter int64 `env:"SNOWFLAKE_DATACENTER_ID" envDefault:"1"`

	// 日志配置
	LoggerLevel      string `env:"LOGGER_LEVEL" envDefault:"INFO"`
	LoggerFormat     string `env:"LOGGER_FORMAT" envDefault:"text"` // json, text
	LoggerOutputPath string `env:"LOGGER_OUTPUT_PATH" envDefault:"stdout"`

	// 链路追踪配置
	OTelEnabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelSampleRatio float64 `env:"OTEL_SAMPLE_RATIO" envDefault:"0.1"`
	ServiceVersion  string  `env:"SERVICE_VERSION" envDefault:"dev"`

	// 速率限制配置, 配置在中间件内
	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitWindow  int  `env:"RATE_LIMIT_WINDOW" envDefault:"60"`
	RateLimitMax     int  `env:"RATE_LIMIT_MAX" envDefault:"20"` // 每个店铺窗口内的发送/重试请求数
}

func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("WARN: Cannot load .env file: %v, using environment variables", err)
	}

	Cfg = Config{}
	if err := env.Parse(&Cfg); err != nil {
		log.Fatalf("Failed to parse environment variables: %v", err)
	}

	validateConfig()
}

func validateConfig() {
	if Cfg.DispatchBatchSize <= 0 {
		log.Fatal("DISPATCH_BATCH_SIZE must be positive")
	}
	if Cfg.WorkerConcurrency <= 0 || Cfg.WorkerRatePerSecond <= 0 {
		log.Fatal("WORKER_CONCURRENCY and WORKER_RATE_PER_SECOND must be positive")
	}
	if Cfg.SMSMaxLength <= len([]rune(Cfg.UnsubscribeFooter))+1 {
		log.Fatal("SMS_MAX_LENGTH must leave room for the unsubscribe footer")
	}

	switch Cfg.SMSProvider {
	case "twilio":
		if Cfg.TwilioAccountSID == "" || Cfg.TwilioAuthToken == "" {
			log.Printf("WARN: TWILIO_ACCOUNT_SID/TWILIO_AUTH_TOKEN not set, SMS service will not work")
		}
	case "aliyun":
		if Cfg.SMSSignName == "" || Cfg.SMSTemplateCode == "" {
			log.Printf("WARN: SMS_SIGN_NAME/SMS_TEMPLATE_CODE not set, SMS service may not work properly")
		}
	}

	if Cfg.SMSSenderID == "" {
		log.Printf("WARN: SMS_SENDER_ID is not set, campaigns must carry their own sender id")
	}
}

func (c *Config) GetDSN() string {
	return "host=" + c.PostgreSQLHost +
		" port=" + c.PostgreSQLPort +
		" user=" + c.PostgreSQLUser +
		" password=" + c.PostgreSQLPassword +
		" dbname=" + c.PostgreSQLDatabase +
		" sslmode=" + c.PostgreSQLSSLMode +
		" search_path=" + c.PostgreSQLSchema
}

func (c *Config) GetRabbitMQURL() string {
	return "amqp://" + c.RabbitMQUsername + ":" + c.RabbitMQPassword + "@" + c.RabbitMQAddr + ":" + c.RabbitMQPort + c.RabbitMQVhost
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}
