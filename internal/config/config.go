package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// Application
	Version     string
	Environment string
	WorkerID    string
	Port        int
	LogLevel    string

	// Logdy (lightweight web log viewer)
	LogdyEnabled bool
	LogdyHost    string
	LogdyPort    int

	// Runtime layout
	RuntimeDir  string
	UploadsDir  string
	OutputsDir  string
	DBPath      string
	MaxUploadMB int

	// Job execution
	Workers         int
	EventsCacheTTL  time.Duration
	DefaultMaxFrame int

	// API keys in "key:role,key:role" form. Empty disables the gate.
	APIKeys map[string]string

	// Real inference over gRPC (used when a job runs with mock_mode=false)
	AIGRPCURL string
	AITimeout time.Duration

	// Notifications: "nats", "mqtt" or "none"
	NotifyBackend string
	NotifyPrefix  string

	// NATS
	// Default: nats://localhost:4222 (works with Docker Compose setup)
	// Docker: Use nats://nats:4222 if running worker in Docker
	NatsURL            string
	NatsConnectTimeout time.Duration
	NatsReconnectWait  time.Duration
	NatsMaxReconnects  int
	NatsDrainTimeout   time.Duration // For graceful shutdown

	// MQTT
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	MQTTQoS      int

	// Tracker
	TrackerIoUThreshold float64
	TrackerMaxMissing   int

	// Event analyzer
	DwellSeconds          float64
	StationaryDistancePx  float64
	EventCooldownFrames   int
	ZoneEntryThreshold    int
	HistoryLimit          int
	FrameTimeWindow       int
	MaxClusters           int
	DetectionMinScore     float32
	SyntheticFrameWidth   int
	SyntheticFrameHeight  int
	OutputVideoCodec      string
	HomographySource      [4][2]float64
	HomographyDestination [4][2]float64

	// Swagger Configuration
	SwaggerHost string

	// Metadata Overlay
	OverlayTitle string

	// Graceful Shutdown
	ShutdownTimeout time.Duration
}

func Load() *Config {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file found or error loading .env file, using environment variables and defaults")
	} else {
		log.Info().Msg("Loaded configuration from .env file")
	}

	runtimeDir := getEnv("PIPELINE_RUNTIME_DIR", "runtime")

	return &Config{
		// Application
		Version:     getEnv("VERSION", "1.0.0"),
		Environment: getEnv("ENVIRONMENT", "development"),
		WorkerID:    getEnv("WORKER_ID", "worker-1"),
		Port:        getEnvInt("PORT", 8000),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Logdy (lightweight web log viewer)
		LogdyEnabled: getEnvBool("LOGDY_ENABLED", false),
		LogdyHost:    getEnv("LOGDY_HOST", "localhost"),
		LogdyPort:    getEnvInt("LOGDY_PORT", 8080),

		// Runtime layout
		RuntimeDir:  runtimeDir,
		UploadsDir:  filepath.Join(runtimeDir, "uploads"),
		OutputsDir:  filepath.Join(runtimeDir, "outputs"),
		DBPath:      filepath.Join(runtimeDir, "api_jobs.sqlite3"),
		MaxUploadMB: max(1, getEnvInt("PIPELINE_MAX_UPLOAD_MB", 200)),

		// Job execution
		Workers:         max(1, getEnvInt("PIPELINE_API_WORKERS", 2)),
		EventsCacheTTL:  getEnvDuration("EVENTS_CACHE_TTL", 5*time.Minute),
		DefaultMaxFrame: getEnvInt("DEFAULT_MAX_FRAMES", 240),

		APIKeys: parseAPIKeys(os.Getenv("PIPELINE_API_KEYS")),

		AIGRPCURL: getEnv("AI_GRPC_URL", "localhost:50052"),
		AITimeout: getEnvDuration("AI_TIMEOUT", 5*time.Second),

		NotifyBackend: strings.ToLower(getEnv("NOTIFY_BACKEND", "none")),
		NotifyPrefix:  getEnv("NOTIFY_PREFIX", "vision"),

		// NATS (configured for Docker Compose setup)
		NatsURL:            getNatsURL(),
		NatsConnectTimeout: getEnvDuration("NATS_CONNECT_TIMEOUT", 10*time.Second),
		NatsReconnectWait:  getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		NatsMaxReconnects:  getEnvInt("NATS_MAX_RECONNECTS", -1), // -1 = unlimited
		NatsDrainTimeout:   getEnvDuration("NATS_DRAIN_TIMEOUT", 5*time.Second),

		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "kepler-vision"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTQoS:      getEnvInt("MQTT_QOS", 1),

		TrackerIoUThreshold: getEnvFloat("TRACKER_IOU_THRESHOLD", 0.35),
		TrackerMaxMissing:   getEnvInt("TRACKER_MAX_MISSING", 10),

		DwellSeconds:         getEnvFloat("EVENT_DWELL_SECONDS", 3.0),
		StationaryDistancePx: getEnvFloat("EVENT_STATIONARY_DISTANCE_PX", 40.0),
		EventCooldownFrames:  getEnvInt("EVENT_COOLDOWN_FRAMES", 60),
		ZoneEntryThreshold:   getEnvInt("EVENT_ZONE_ENTRY_THRESHOLD", 5),
		HistoryLimit:         getEnvInt("EVENT_HISTORY_LIMIT", 600),
		FrameTimeWindow:      getEnvInt("FRAME_TIME_WINDOW", 120),
		MaxClusters:          getEnvInt("MAX_CLUSTERS", 3),
		DetectionMinScore:    float32(getEnvFloat("DETECTION_MIN_SCORE", 0.5)),
		SyntheticFrameWidth:  getEnvInt("SYNTHETIC_FRAME_WIDTH", 1280),
		SyntheticFrameHeight: getEnvInt("SYNTHETIC_FRAME_HEIGHT", 720),
		OutputVideoCodec:     getEnv("OUTPUT_VIDEO_CODEC", "mp4v"),
		HomographySource: getEnvQuad("HOMOGRAPHY_SRC",
			[4][2]float64{{0, 0}, {1280, 0}, {1280, 720}, {0, 720}}),
		HomographyDestination: getEnvQuad("HOMOGRAPHY_DST",
			[4][2]float64{{0, 0}, {100, 0}, {100, 200}, {0, 200}}),

		SwaggerHost: getEnv("SWAGGER_HOST", "localhost:8000"),

		OverlayTitle: getEnv("OVERLAY_TITLE", "Modular Vision Pipeline"),

		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvQuad parses "x,y;x,y;x,y;x,y".
func getEnvQuad(key string, defaultValue [4][2]float64) [4][2]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ";")
	if len(parts) != 4 {
		log.Warn().Str("key", key).Str("value", value).Msg("Expected four x,y points, using default")
		return defaultValue
	}
	var quad [4][2]float64
	for i, part := range parts {
		xy := strings.Split(strings.TrimSpace(part), ",")
		if len(xy) != 2 {
			log.Warn().Str("key", key).Str("value", value).Msg("Malformed point, using default")
			return defaultValue
		}
		for j := range xy {
			f, err := strconv.ParseFloat(strings.TrimSpace(xy[j]), 64)
			if err != nil {
				log.Warn().Str("key", key).Str("value", value).Msg("Malformed coordinate, using default")
				return defaultValue
			}
			quad[i][j] = f
		}
	}
	return quad
}

// parseAPIKeys parses "key:role" pairs. Entries without a role default to viewer.
func parseAPIKeys(raw string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, role, found := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		role = strings.ToLower(strings.TrimSpace(role))
		if !found || role == "" {
			role = "viewer"
		}
		keys[key] = role
	}
	return keys
}

// Helper functions for Docker environment detection
func isRunningInDocker() bool {
	// Check for Docker-specific environment indicators
	if os.Getenv("DOCKER_CONTAINER") == "true" {
		return true
	}

	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}

	return false
}

// getNatsURL returns the appropriate NATS URL based on environment
func getNatsURL() string {
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		return envURL
	}

	// If running in Docker, use service name; otherwise use localhost
	if isRunningInDocker() {
		return "nats://nats:4222"
	}

	return "nats://localhost:4222"
}
