package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"wabot-gateway/internal/helper"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBasePort  = 8000
	DefaultAdminPort = 2121

	// non-numeric session ids hash into [base+1000, base+2000)
	hashedPortOffset = 1000
	hashedPortRange  = 1000
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Config is the process-wide configuration, read once at startup.
type Config struct {
	StorageRoot    string
	BasePort       int
	AdminPort      int
	AppDatabaseURL string
	SessionsFile   string

	RedisAddr         string
	RedisStreamPrefix string

	JWTSecret        string
	CORSAllowOrigins []string

	RateLimitPerSecond     int
	RateLimitBurst         int
	RateLimitWindowMinutes int

	WebhookTimeout time.Duration
	WebhookSecret  string
	StopTimeout    time.Duration
	MediaMaxBytes  int64

	LogLevel     string
	LogFormat    string
	DeviceOSName string
}

// Load reads .env (when present) and the environment.
func Load() *Config {
	// a missing .env is fine, production sets real env vars
	_ = godotenv.Load()

	return &Config{
		StorageRoot:    helper.GetEnv("WABOT_STORAGE_ROOT", "./sessions"),
		BasePort:       helper.GetEnvAsInt("WABOT_BASE_PORT", DefaultBasePort),
		AdminPort:      helper.GetEnvAsInt("WABOT_ADMIN_PORT", DefaultAdminPort),
		AppDatabaseURL: helper.GetEnv("APP_DATABASE_URL", ""),
		SessionsFile:   helper.GetEnv("WABOT_SESSIONS_FILE", ""),

		RedisAddr:         helper.GetEnv("REDIS_ADDR", ""),
		RedisStreamPrefix: helper.GetEnv("REDIS_STREAM_PREFIX", "wabot"),

		JWTSecret:        helper.GetEnv("JWT_SECRET", ""),
		CORSAllowOrigins: helper.GetEnvAsList("CORS_ALLOW_ORIGINS"),

		RateLimitPerSecond:     helper.GetEnvAsInt("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:         helper.GetEnvAsInt("RATE_LIMIT_BURST", 10),
		RateLimitWindowMinutes: helper.GetEnvAsInt("RATE_LIMIT_WINDOW_MINUTES", 3),

		WebhookTimeout: helper.GetEnvAsDuration("WEBHOOK_TIMEOUT_SECONDS", 5*time.Second),
		WebhookSecret:  helper.GetEnv("WEBHOOK_SECRET", ""),
		StopTimeout:    helper.GetEnvAsDuration("STOP_TIMEOUT_SECONDS", 10*time.Second),
		MediaMaxBytes:  int64(helper.GetEnvAsInt("MEDIA_MAX_MB", 16)) * 1024 * 1024,

		LogLevel:     helper.GetEnv("LOG_LEVEL", "info"),
		LogFormat:    helper.GetEnv("LOG_FORMAT", "console"),
		DeviceOSName: helper.GetEnv("DEVICE_OS_NAME", "WaBot Gateway"),
	}
}

// SessionConfig is the immutable configuration of one session.
type SessionConfig struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Port          int    `yaml:"port"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`

	StorageDir string `yaml:"-"`
}

func ValidateSessionID(id string) error {
	if !sessionIDPattern.MatchString(id) {
		return errors.Errorf("invalid session id %q: use 1-64 letters, digits, '-' or '_'", id)
	}
	return nil
}

// DerivePort maps a session id to its control port: numeric ids keep the
// historical base+id layout, anything else hashes into a separate range.
func DerivePort(id string, base int) int {
	if n, err := strconv.Atoi(id); err == nil && n >= 0 && n < hashedPortOffset {
		return base + n
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return base + hashedPortOffset + int(h.Sum32()%hashedPortRange)
}

// Session completes a session config with the derived port, storage directory
// and the process-wide webhook secret.
func (c *Config) Session(sc SessionConfig) (SessionConfig, error) {
	if err := ValidateSessionID(sc.ID); err != nil {
		return sc, err
	}
	if sc.Port == 0 {
		sc.Port = DerivePort(sc.ID, c.BasePort)
	}
	if sc.Port < 0 || sc.Port > 65535 {
		return sc, errors.Errorf("invalid port %d for session %s", sc.Port, sc.ID)
	}
	if sc.WebhookSecret == "" {
		sc.WebhookSecret = c.WebhookSecret
	}
	if sc.Name == "" {
		sc.Name = fmt.Sprintf("bot_%s", sc.ID)
	}
	sc.StorageDir = filepath.Join(c.StorageRoot, sc.ID)
	return sc, nil
}

type sessionsFile struct {
	Sessions []SessionConfig `yaml:"sessions"`
}

// LoadSessionsFile reads a YAML list of sessions:
//
//	sessions:
//	  - id: "1"
//	    webhook_url: http://localhost:5000/api/whatsapp/webhook/1
func LoadSessionsFile(path string) ([]SessionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read sessions file %s", path)
	}
	var f sessionsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Wrapf(err, "parse sessions file %s", path)
	}

	seen := make(map[string]bool, len(f.Sessions))
	for _, s := range f.Sessions {
		if err := ValidateSessionID(s.ID); err != nil {
			return nil, err
		}
		if seen[s.ID] {
			return nil, errors.Errorf("duplicate session id %q in %s", s.ID, path)
		}
		seen[s.ID] = true
	}
	return f.Sessions, nil
}
