package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	TransportWebsocket = "ws"
	TransportSDK       = "sdk"
)

type Config struct {
	ServerAddr string
	GRPCAddr   string

	GeminiAPIKey   string
	GeminiModel    string
	GeminiEndpoint string
	GeminiUseADC   bool

	LiveTransport     string
	LiveVoice         string
	LivePendingFrames int
	ProfilesFile      string

	RateLimitRPS   float64
	RateLimitBurst int

	HealthProbeInterval time.Duration

	AdminHMACKey []byte

	DatabaseDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LogLevel  string
	LogFormat string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),
		GRPCAddr:   getEnv("GRPC_ADDR", ":50051"),

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", ""),
		GeminiEndpoint: getEnv("GEMINI_ENDPOINT", ""),
		GeminiUseADC:   getEnvBool("GEMINI_USE_ADC", false),

		LiveTransport:     strings.ToLower(getEnv("LIVE_TRANSPORT", TransportWebsocket)),
		LiveVoice:         getEnv("LIVE_VOICE", ""),
		LivePendingFrames: getEnvInt("LIVE_PENDING_FRAMES", 0),
		ProfilesFile:      getEnv("PROFILES_FILE", ""),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 1),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 5),

		HealthProbeInterval: time.Duration(getEnvInt("HEALTH_PROBE_SECONDS", 15)) * time.Second,

		AdminHMACKey: []byte(getEnv("ADMIN_HMAC_KEY", "")),

		DatabaseDSN: getEnv("DATABASE_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
