package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Persist   PersistConfig
	Session   SessionConfig
}

// ServerConfig covers the HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig covers websocket transport buffers and timeouts.
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// CORSConfig covers cross-origin settings.
type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// AuthConfig covers access-token verification. Token issuance is external;
// this server only validates.
type AuthConfig struct {
	JWTSecret    string
	SecureCookie bool
}

// RedisConfig covers the snapshot cache and presence pub/sub.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

// PersistConfig bounds the persistence bridge: a periodic flush plus a
// debounce window after the last mutation, whichever fires first.
type PersistConfig struct {
	FlushInterval  time.Duration
	DebounceWindow time.Duration
}

// SessionConfig bounds session joins and reconnects.
type SessionConfig struct {
	JoinTimeout       time.Duration
	ReconnectAttempts int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
}

// Load reads configuration from the environment.
func Load() *Config {
	// .env is optional
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		CORS: CORSConfig{
			AllowOrigins: getEnv("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: getEnv("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept"),
		},
		Auth: AuthConfig{
			JWTSecret:    jwtSecret,
			SecureCookie: getBool("SECURE_COOKIE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			Enabled:  getBool("REDIS_ENABLED", true),
		},
		Persist: PersistConfig{
			FlushInterval:  getDuration("PERSIST_FLUSH_INTERVAL", 30*time.Second),
			DebounceWindow: getDuration("PERSIST_DEBOUNCE_WINDOW", 2*time.Second),
		},
		Session: SessionConfig{
			JoinTimeout:       getDuration("SESSION_JOIN_TIMEOUT", 10*time.Second),
			ReconnectAttempts: getInt("SESSION_RECONNECT_ATTEMPTS", 4),
			BackoffBase:       getDuration("SESSION_BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:        getDuration("SESSION_BACKOFF_CAP", 8*time.Second),
		},
	}
}

// getRequiredEnv fetches a mandatory variable or exits.
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// bare numbers are seconds
		if !strings.ContainsAny(value, "smh") {
			if secs, err := strconv.Atoi(value); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
