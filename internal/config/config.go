package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	Timezone    string
	PublicURL   string
	AdminToken  string

	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Payment    PaymentConfig
	Membership MembershipConfig
	Redis      RedisConfig
	Warranty   WarrantyConfig
	Reconcile  ReconcileConfig
}

// ObservabilityConfig carries log and OTLP exporter settings.
type ObservabilityConfig struct {
	LogLevel     string
	LogFormat    string
	OtelEnabled  bool
	OtelEndpoint string
	OtelProtocol string
	OtelSampling float64
}

// PaymentConfig configures the EPay compatible payment provider.
type PaymentConfig struct {
	MerchantID   string
	Key          string
	GatewayURL   string
	NotifyURL    string
	ReturnURL    string
	Sitename     string
	PayType      string
	OrderTimeout time.Duration
}

// Configured reports whether outbound signing and callback verification are possible.
func (c PaymentConfig) Configured() bool {
	return c.MerchantID != "" && c.Key != "" && c.GatewayURL != ""
}

type MembershipConfig struct {
	BaseURL          string
	Timeout          time.Duration
	CredentialSecret string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// PublicRate and PublicBurst size the per-client token bucket on public
	// endpoints. A zero rate disables it.
	PublicRate  float64
	PublicBurst int
}

func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type WarrantyConfig struct {
	QueryInterval time.Duration
	WindowDays    int
}

type ReconcileConfig struct {
	SyncEnabled    bool
	SyncMinMinutes int
	SyncMaxMinutes int
	ErrorThreshold int
	CleanupEnabled bool
	CleanupDays    int
	ShutdownGrace  time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	publicURL := strings.TrimRight(strings.TrimSpace(getenv("PUBLIC_DOMAIN", "")), "/")
	notifyURL := strings.TrimSpace(getenv("EPAY_NOTIFY_URL", ""))
	if notifyURL == "" && publicURL != "" {
		notifyURL = publicURL + "/api/payment/notify"
	}
	returnURL := strings.TrimSpace(getenv("EPAY_RETURN_URL", ""))
	if returnURL == "" && publicURL != "" {
		returnURL = publicURL + "/"
	}

	syncMin := getenvInt("RESOURCE_SYNC_MIN_MINUTES", 5)
	if syncMin < 1 {
		syncMin = 1
	}
	syncMax := getenvInt("RESOURCE_SYNC_MAX_MINUTES", 10)
	if syncMax < syncMin {
		syncMax = syncMin
	}
	cleanupDays := getenvInt("EXPIRED_CLEANUP_DAYS", 30)
	if cleanupDays < 1 {
		cleanupDays = 1
	}
	otelProtocol := getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		otelProtocol = traces
	}
	orderTimeout := getenvInt("ORDER_TIMEOUT_MINUTES", 30)
	if orderTimeout < 1 {
		orderTimeout = 30
	}

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "seatbroker"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8008"),
		Timezone:     getenv("TIMEZONE", "Asia/Shanghai"),
		PublicURL:    publicURL,
		AdminToken:   strings.TrimSpace(getenv("ADMIN_TOKEN", "")),

		Observability: ObservabilityConfig{
			LogLevel:     strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:    strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:  getenvBool("OTEL_ENABLED", false),
			OtelEndpoint: strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")),
			OtelProtocol: strings.ToLower(strings.TrimSpace(otelProtocol)),
			OtelSampling: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "sqlite"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "seatbroker"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "data/seatbroker.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Payment: PaymentConfig{
			MerchantID:   strings.TrimSpace(getenv("EPAY_PID", "")),
			Key:          strings.TrimSpace(getenv("EPAY_KEY", "")),
			GatewayURL:   strings.TrimRight(strings.TrimSpace(getenv("EPAY_URL", "https://api.mapay.top")), "/"),
			NotifyURL:    notifyURL,
			ReturnURL:    returnURL,
			Sitename:     strings.TrimSpace(getenv("EPAY_SITENAME", "")),
			PayType:      strings.TrimSpace(getenv("EPAY_PAY_TYPE", "alipay")),
			OrderTimeout: time.Duration(orderTimeout) * time.Minute,
		},
		Membership: MembershipConfig{
			BaseURL:          strings.TrimRight(strings.TrimSpace(getenv("MEMBERSHIP_API_URL", "")), "/"),
			Timeout:          time.Duration(getenvInt("MEMBERSHIP_TIMEOUT_SECONDS", 30)) * time.Second,
			CredentialSecret: strings.TrimSpace(getenv("CREDENTIAL_SECRET", "")),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),

			PublicRate:  getenvFloat("PUBLIC_RATE_LIMIT_RPS", 2),
			PublicBurst: getenvInt("PUBLIC_RATE_LIMIT_BURST", 10),
		},
		Warranty: WarrantyConfig{
			QueryInterval: time.Duration(getenvInt("WARRANTY_QUERY_INTERVAL_SECONDS", 30)) * time.Second,
			WindowDays:    getenvInt("WARRANTY_WINDOW_DAYS", 30),
		},
		Reconcile: ReconcileConfig{
			SyncEnabled:    getenvBool("RESOURCE_SYNC_ENABLED", true),
			SyncMinMinutes: syncMin,
			SyncMaxMinutes: syncMax,
			ErrorThreshold: getenvInt("RESOURCE_ERROR_THRESHOLD", 3),
			CleanupEnabled: getenvBool("EXPIRED_CLEANUP_ENABLED", true),
			CleanupDays:    cleanupDays,
			ShutdownGrace:  time.Duration(getenvInt("SHUTDOWN_GRACE_SECONDS", 30)) * time.Second,
		},
	}

	return cfg
}

// Location resolves the configured timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// IsDevelopment reports local style environments where debug logging is on.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
