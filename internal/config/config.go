package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"hazard-alert-service/internal/models"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Logging struct {
		Dir   string
		Level string
	}
	Kafka struct {
		Brokers []string
		Topic   string
		GroupID string
	}
	DB struct {
		DSN string
	}
	Store struct {
		// Backend is "postgres" or "memory".
		Backend string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
		FromAddr   string
		RateLimit  float64
	}
	SMS struct {
		AccountSID string
		AuthToken  string
		FromNumber string
		RateLimit  float64
	}
	Telegram struct {
		BotToken  string
		RateLimit float64
	}
	API struct {
		Port     string
		BasePath string
	}
	Notification struct {
		QueueSize       int
		MaxWorkers      int
		DeliveryWorkers int
	}
	Engine struct {
		ConfigFile             string
		ConfigRefresh          time.Duration
		Location               *time.Location
		DefaultEscalationDelay time.Duration
		MaxEscalationDepth     int
		SignalMaxSkew          time.Duration
		HeldRecheck            time.Duration
		ParameterKinds         []string
		CriticalOnlyTiers      models.SeveritySet
	}
	Delivery struct {
		MaxAttempts  int
		BaseDelay    time.Duration
		MaxDelay     time.Duration
		EmailTimeout time.Duration
		PushTimeout  time.Duration
		SMSTimeout   time.Duration
		VoiceTimeout time.Duration
	}
	Breaker struct {
		MaxFailures uint32
		OpenTimeout time.Duration
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	var bad []string
	p := parser{bad: &bad}

	cfg.Logging.Dir = envOr("LOG_DIR", "logs")
	cfg.Logging.Level = envOr("LOG_LEVEL", "info")

	// Kafka settings
	if brokers := os.Getenv("KAFKA_BROKER"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}
	cfg.Kafka.Topic = envOr("KAFKA_TOPIC", "hazard-signals")
	cfg.Kafka.GroupID = envOr("KAFKA_GROUP_ID", "hazard-alert-service")

	// Storage
	cfg.DB.DSN = os.Getenv("DB_DSN")
	cfg.Store.Backend = envOr("STORE_BACKEND", "postgres")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = p.intEnv("EMAIL_SMTP_PORT", 587)
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = envOr("EMAIL_FROM_NAME", "Hazard Alerts")
	cfg.Email.FromAddr = envOr("EMAIL_FROM_ADDRESS", cfg.Email.Username)
	cfg.Email.RateLimit = p.floatEnv("EMAIL_RATE_LIMIT", 5)

	// SMS / voice settings
	cfg.SMS.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.SMS.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.SMS.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	cfg.SMS.RateLimit = p.floatEnv("SMS_RATE_LIMIT", 1)

	// Push settings
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.RateLimit = p.floatEnv("TELEGRAM_RATE_LIMIT", 25)

	// API settings
	cfg.API.Port = envOr("API_PORT", ":8080")
	cfg.API.BasePath = envOr("API_BASE_PATH", "/api/v0")

	// Worker settings
	cfg.Notification.QueueSize = p.intEnv("QUEUE_SIZE", 500)
	cfg.Notification.MaxWorkers = p.intEnv("MAX_WORKERS", 10)
	cfg.Notification.DeliveryWorkers = p.intEnv("DELIVERY_WORKERS", 20)

	// Engine settings
	cfg.Engine.ConfigFile = envOr("CONFIG_FILE", "config/engine.yaml")
	cfg.Engine.ConfigRefresh = p.durationEnv("CONFIG_REFRESH", 30*time.Second)
	cfg.Engine.DefaultEscalationDelay = p.durationEnv("DEFAULT_ESCALATION_DELAY", 5*time.Minute)
	cfg.Engine.MaxEscalationDepth = p.intEnv("MAX_ESCALATION_DEPTH", 2)
	cfg.Engine.SignalMaxSkew = p.durationEnv("SIGNAL_MAX_SKEW", 5*time.Minute)
	cfg.Engine.HeldRecheck = p.durationEnv("ENGINE_HELD_RECHECK", time.Minute)
	cfg.Engine.ParameterKinds = splitList(os.Getenv("PARAMETER_KINDS"))
	loc, err := time.LoadLocation(envOr("ENGINE_TIMEZONE", "UTC"))
	if err != nil {
		bad = append(bad, "ENGINE_TIMEZONE")
		loc = time.UTC
	}
	cfg.Engine.Location = loc
	if tiers := os.Getenv("ROUTING_CRITICAL_ONLY_TIERS"); tiers != "" {
		set, err := models.ParseSeveritySet(splitList(tiers))
		if err != nil {
			bad = append(bad, "ROUTING_CRITICAL_ONLY_TIERS")
		}
		cfg.Engine.CriticalOnlyTiers = set
	}

	// Delivery policy
	cfg.Delivery.MaxAttempts = p.intEnv("DELIVERY_MAX_ATTEMPTS", 3)
	cfg.Delivery.BaseDelay = p.durationEnv("DELIVERY_BASE_DELAY", 2*time.Second)
	cfg.Delivery.MaxDelay = p.durationEnv("DELIVERY_MAX_DELAY", 30*time.Second)
	cfg.Delivery.EmailTimeout = p.durationEnv("DELIVERY_EMAIL_TIMEOUT", 10*time.Second)
	cfg.Delivery.PushTimeout = p.durationEnv("DELIVERY_PUSH_TIMEOUT", 10*time.Second)
	cfg.Delivery.SMSTimeout = p.durationEnv("DELIVERY_SMS_TIMEOUT", 5*time.Second)
	cfg.Delivery.VoiceTimeout = p.durationEnv("DELIVERY_VOICE_TIMEOUT", 5*time.Second)

	cfg.Breaker.MaxFailures = uint32(p.intEnv("BREAKER_MAX_FAILURES", 5))
	cfg.Breaker.OpenTimeout = p.durationEnv("BREAKER_OPEN_TIMEOUT", time.Minute)

	if len(bad) > 0 {
		return Config{}, fmt.Errorf("invalid configurations: %v", bad)
	}

	// Validate required settings
	missing := []string{}
	if cfg.Store.Backend == "postgres" && cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Store.Backend != "postgres" && cfg.Store.Backend != "memory" {
		return Config{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}
	if cfg.Delivery.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("DELIVERY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Engine.MaxEscalationDepth < 0 {
		return Config{}, fmt.Errorf("MAX_ESCALATION_DEPTH must not be negative")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser records the names of settings that are present but malformed.
type parser struct {
	bad *[]string
}

func (p parser) intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*p.bad = append(*p.bad, key)
		return fallback
	}
	return n
}

func (p parser) floatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*p.bad = append(*p.bad, key)
		return fallback
	}
	return f
}

func (p parser) durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*p.bad = append(*p.bad, key)
		return fallback
	}
	return d
}
