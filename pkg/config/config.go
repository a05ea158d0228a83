package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	RateLimit RateLimitConfig
	Workflow  WorkflowConfig
	Matching  MatchingConfig
	Realtime  RealtimeConfig
	Roster    RosterConfig
	Exports   ExportsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// RateLimitConfig throttles mutating workflow endpoints per caller.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// WorkflowConfig tunes the change-request reactor.
type WorkflowConfig struct {
	QueueBuffer   int
	MaxRetries    int
	RetryDelay    time.Duration
	SweepInterval time.Duration
	SweepBatch    int
}

// MatchingConfig holds the business constants used by the replacement finder.
type MatchingConfig struct {
	Tiers             map[string][]string
	MorningShiftTypes []string
	EveningShiftTypes []string
	Timezone          string
}

// RealtimeConfig controls live update fan-out.
type RealtimeConfig struct {
	RedisEnabled    bool
	ChannelPrefix   string
	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicRoot   string
	MQTTQoS         byte
	StreamKeepAlive time.Duration
}

// RosterConfig controls caching of the active roster snapshot.
type RosterConfig struct {
	CacheEnabled bool
	CacheTTL     time.Duration
}

// ExportsConfig toggles change-request history exports.
type ExportsConfig struct {
	Enabled bool
	MaxRows int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
		AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled:           v.GetBool("RATE_LIMIT_ENABLED"),
		RequestsPerSecond: v.GetFloat64("RATE_LIMIT_RPS"),
		Burst:             v.GetInt("RATE_LIMIT_BURST"),
	}

	cfg.Workflow = WorkflowConfig{
		QueueBuffer:   v.GetInt("WORKFLOW_QUEUE_BUFFER"),
		MaxRetries:    v.GetInt("WORKFLOW_MAX_RETRIES"),
		RetryDelay:    parseDuration(v.GetString("WORKFLOW_RETRY_DELAY"), 2*time.Second),
		SweepInterval: parseDuration(v.GetString("WORKFLOW_SWEEP_INTERVAL"), 30*time.Second),
		SweepBatch:    v.GetInt("WORKFLOW_SWEEP_BATCH"),
	}

	tiers, err := ParseTiers(v.GetString("MATCHING_TIERS"))
	if err != nil {
		return nil, err
	}
	cfg.Matching = MatchingConfig{
		Tiers:             tiers,
		MorningShiftTypes: splitAndTrim(v.GetString("MATCHING_MORNING_SHIFT_TYPES")),
		EveningShiftTypes: splitAndTrim(v.GetString("MATCHING_EVENING_SHIFT_TYPES")),
		Timezone:          v.GetString("MATCHING_TIMEZONE"),
	}

	qos := v.GetInt("MQTT_QOS")
	if qos < 0 || qos > 2 {
		qos = 1
	}
	cfg.Realtime = RealtimeConfig{
		RedisEnabled:    v.GetBool("REALTIME_REDIS_ENABLED"),
		ChannelPrefix:   v.GetString("REALTIME_CHANNEL_PREFIX"),
		MQTTBroker:      v.GetString("MQTT_BROKER"),
		MQTTClientID:    v.GetString("MQTT_CLIENT_ID"),
		MQTTUsername:    v.GetString("MQTT_USERNAME"),
		MQTTPassword:    v.GetString("MQTT_PASSWORD"),
		MQTTTopicRoot:   v.GetString("MQTT_TOPIC_ROOT"),
		MQTTQoS:         byte(qos),
		StreamKeepAlive: parseDuration(v.GetString("REALTIME_STREAM_KEEPALIVE"), 25*time.Second),
	}

	cfg.Roster = RosterConfig{
		CacheEnabled: v.GetBool("ROSTER_CACHE_ENABLED"),
		CacheTTL:     parseDuration(v.GetString("ROSTER_CACHE_TTL"), time.Minute),
	}

	cfg.Exports = ExportsConfig{
		Enabled: v.GetBool("ENABLE_EXPORTS"),
		MaxRows: v.GetInt("EXPORTS_MAX_ROWS"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "turnos")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("JWT_ISSUER", "turnos-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_RPS", 5)
	v.SetDefault("RATE_LIMIT_BURST", 10)

	v.SetDefault("WORKFLOW_QUEUE_BUFFER", 256)
	v.SetDefault("WORKFLOW_MAX_RETRIES", 3)
	v.SetDefault("WORKFLOW_RETRY_DELAY", "2s")
	v.SetDefault("WORKFLOW_SWEEP_INTERVAL", "30s")
	v.SetDefault("WORKFLOW_SWEEP_BATCH", 100)

	v.SetDefault("MATCHING_TIERS", "cocina:cocinero|ayudante_cocina|lavaplatos;salon:mesero|bartender|hostess|cajero;gerencia:gerente")
	v.SetDefault("MATCHING_MORNING_SHIFT_TYPES", "manana")
	v.SetDefault("MATCHING_EVENING_SHIFT_TYPES", "noche,cierre")
	v.SetDefault("MATCHING_TIMEZONE", "UTC")

	v.SetDefault("REALTIME_REDIS_ENABLED", true)
	v.SetDefault("REALTIME_CHANNEL_PREFIX", "turnos")
	v.SetDefault("MQTT_BROKER", "")
	v.SetDefault("MQTT_CLIENT_ID", "turnos-api")
	v.SetDefault("MQTT_USERNAME", "")
	v.SetDefault("MQTT_PASSWORD", "")
	v.SetDefault("MQTT_TOPIC_ROOT", "turnos")
	v.SetDefault("MQTT_QOS", 1)
	v.SetDefault("REALTIME_STREAM_KEEPALIVE", "25s")

	v.SetDefault("ROSTER_CACHE_ENABLED", true)
	v.SetDefault("ROSTER_CACHE_TTL", "1m")

	v.SetDefault("ENABLE_EXPORTS", true)
	v.SetDefault("EXPORTS_MAX_ROWS", 5000)
}

// ParseTiers reads "tier:roleA|roleB;tier2:roleC" into a tier → roles map.
func ParseTiers(raw string) (map[string][]string, error) {
	tiers := make(map[string][]string)
	for _, group := range strings.Split(raw, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		name, roles, ok := strings.Cut(group, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid tier definition %q", group)
		}
		seen := make(map[string]struct{})
		for _, role := range strings.Split(roles, "|") {
			role = strings.TrimSpace(role)
			if role == "" {
				continue
			}
			if _, dup := seen[role]; dup {
				continue
			}
			seen[role] = struct{}{}
			tiers[name] = append(tiers[name], role)
		}
		if len(tiers[name]) == 0 {
			return nil, fmt.Errorf("tier %q has no roles", name)
		}
	}
	return tiers, nil
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
