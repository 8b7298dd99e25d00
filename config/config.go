package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	AWS    AWSConfig
	Bot    BotConfig
	Debug  DebugConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// SnapshotTTL is how long terminal session snapshots are retained.
	SnapshotTTL time.Duration
}

// AWSConfig holds AWS credentials and the debug artifact bucket.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	DebugBucket          string
	PresignExpireMinutes int
}

// BotConfig holds the lifecycle policy timings shared by every session.
// All values are process-wide and read-only after load.
type BotConfig struct {
	// WaitingRoomTimeout bounds how long a bot waits to be admitted.
	WaitingRoomTimeout time.Duration
	// JoinTimeout bounds a single join attempt with no resolving event from
	// the adapter; expiry counts as a transient connect failure.
	JoinTimeout time.Duration
	// PermissionTimeout bounds the recording permission negotiation.
	PermissionTimeout time.Duration
	// SilenceThreshold is how long without any utterance before auto-leave.
	SilenceThreshold time.Duration
	// SoloGrace is how long the bot tolerates being the only participant.
	SoloGrace time.Duration
	// MaxUptime is the ceiling on time spent in the meeting after joining.
	MaxUptime time.Duration
	// MaxJoinAttempts is the retry ceiling for transient join failures
	// within RetryWindow; exceeding it transitions the session to BLOCKED.
	MaxJoinAttempts int
	// RetryBackoff is the base delay between join retries, doubled per
	// attempt up to RetryBackoffCap.
	RetryBackoff    time.Duration
	RetryBackoffCap time.Duration
	// RetryWindow is the sliding window over which consecutive transient
	// failures are counted.
	RetryWindow time.Duration
	// AnomalyThreshold is how many recoverable anomalies a session absorbs
	// before escalating to FATAL_ERROR.
	AnomalyThreshold int
	// LeaveGrace bounds how long LEAVING waits for the adapter to confirm
	// departure before the session is forced to ENDED.
	LeaveGrace time.Duration
	// TickInterval is the period of the leave policy evaluation tick.
	TickInterval time.Duration
	// DedupWindow is the timestamp bucket used to drop duplicate adapter
	// events at the state machine boundary.
	DedupWindow time.Duration
	// LeaveOnDenied makes a recording permission denial terminal instead of
	// continuing without recording.
	LeaveOnDenied bool
}

// DebugConfig holds debug screen recording settings.
type DebugConfig struct {
	// RecordingPath is the fixed filesystem location adapters write the
	// optional debug screen recording to, suffixed with the session id.
	RecordingPath string
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", "localhost:6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			SnapshotTTL: getEnvDuration("SNAPSHOT_TTL", 24*time.Hour),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			DebugBucket:          getEnv("AWS_S3_DEBUG_BUCKET", "meetbot-debug-artifacts"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Bot: BotConfig{
			WaitingRoomTimeout: getEnvDuration("BOT_WAITING_ROOM_TIMEOUT", 15*time.Minute),
			JoinTimeout:        getEnvDuration("BOT_JOIN_TIMEOUT", 2*time.Minute),
			PermissionTimeout:  getEnvDuration("BOT_PERMISSION_TIMEOUT", 60*time.Second),
			SilenceThreshold:   getEnvDuration("BOT_SILENCE_THRESHOLD", 10*time.Minute),
			SoloGrace:          getEnvDuration("BOT_SOLO_GRACE", 60*time.Second),
			MaxUptime:          getEnvDuration("BOT_MAX_UPTIME", 4*time.Hour),
			MaxJoinAttempts:    getEnvInt("BOT_MAX_JOIN_ATTEMPTS", 5),
			RetryBackoff:       getEnvDuration("BOT_RETRY_BACKOFF", 2*time.Second),
			RetryBackoffCap:    getEnvDuration("BOT_RETRY_BACKOFF_CAP", 30*time.Second),
			RetryWindow:        getEnvDuration("BOT_RETRY_WINDOW", 2*time.Minute),
			AnomalyThreshold:   getEnvInt("BOT_ANOMALY_THRESHOLD", 10),
			LeaveGrace:         getEnvDuration("BOT_LEAVE_GRACE", 30*time.Second),
			TickInterval:       getEnvDuration("BOT_TICK_INTERVAL", 5*time.Second),
			DedupWindow:        getEnvDuration("BOT_DEDUP_WINDOW", 2*time.Second),
			LeaveOnDenied:      getEnvBool("BOT_LEAVE_ON_PERMISSION_DENIED", false),
		},
		Debug: DebugConfig{
			RecordingPath: getEnv("DEBUG_RECORDING_PATH", "/tmp/debug_screen_recording.mp4"),
		},
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
