package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile      = ".env"
	defaultPort         = "8080"
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultEventTopic   = "scheduling-events"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firestore FirestoreConfig
	Events    EventsConfig
	Build     BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// EventsConfig controls domain event delivery over Pub/Sub.
type EventsConfig struct {
	Enabled   bool
	ProjectID string
	TopicID   string
}

// BuildConfig carries deploy metadata surfaced through health endpoints.
type BuildConfig struct {
	Version     string
	CommitSHA   string
	Environment string
}

// Load reads configuration from the environment, merging values from an
// optional .env file without overriding variables already set.
func Load() (Config, error) {
	values, err := EnvironmentValues()
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) string {
		return strings.TrimSpace(values[key])
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         withDefault(lookup("API_PORT"), defaultPort),
			ReadTimeout:  defaultReadTimeout,
			WriteTimeout: defaultWriteTimeout,
			IdleTimeout:  defaultIdleTimeout,
		},
		Firestore: FirestoreConfig{
			ProjectID:    lookup("API_FIRESTORE_PROJECT_ID"),
			EmulatorHost: lookup("API_FIRESTORE_EMULATOR_HOST"),
		},
		Events: EventsConfig{
			ProjectID: withDefault(lookup("API_EVENTS_PROJECT_ID"), lookup("API_FIRESTORE_PROJECT_ID")),
			TopicID:   withDefault(lookup("API_EVENTS_TOPIC"), defaultEventTopic),
		},
		Build: BuildConfig{
			Version:     withDefault(lookup("API_BUILD_VERSION"), "dev"),
			CommitSHA:   withDefault(lookup("API_BUILD_COMMIT_SHA"), "unknown"),
			Environment: withDefault(lookup("API_ENVIRONMENT"), "local"),
		},
	}

	if raw := lookup("API_EVENTS_ENABLED"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: API_EVENTS_ENABLED must be a boolean, got %q", raw)
		}
		cfg.Events.Enabled = enabled
	}

	for key, target := range map[string]*time.Duration{
		"API_SERVER_READ_TIMEOUT":  &cfg.Server.ReadTimeout,
		"API_SERVER_WRITE_TIMEOUT": &cfg.Server.WriteTimeout,
		"API_SERVER_IDLE_TIMEOUT":  &cfg.Server.IdleTimeout,
	} {
		raw := lookup(key)
		if raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("config: %s must be a duration, got %q", key, raw)
		}
		*target = parsed
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.Server.Port) == "" {
		return errors.New("config: server port is required")
	}
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("config: server port must be numeric, got %q", c.Server.Port)
	}
	if strings.TrimSpace(c.Firestore.ProjectID) == "" && strings.TrimSpace(c.Firestore.EmulatorHost) == "" {
		return errors.New("config: firestore project id or emulator host is required")
	}
	if c.Events.Enabled {
		if strings.TrimSpace(c.Events.ProjectID) == "" {
			return errors.New("config: events project id is required when event delivery is enabled")
		}
		if strings.TrimSpace(c.Events.TopicID) == "" {
			return errors.New("config: events topic is required when event delivery is enabled")
		}
	}
	return nil
}

// EnvironmentValues merges process environment variables over the optional
// .env file. Process values always win.
func EnvironmentValues() (map[string]string, error) {
	values, err := readEnvFile(envFilePath())
	if err != nil {
		return nil, err
	}
	for _, entry := range os.Environ() {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		values[parts[0]] = parts[1]
	}
	return values, nil
}

func envFilePath() string {
	if path := strings.TrimSpace(os.Getenv("API_ENV_FILE")); path != "" {
		return path
	}
	return defaultEnvFile
}

func readEnvFile(path string) (map[string]string, error) {
	values := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file %s: %w", path, err)
	}
	defer func() {
		_ = file.Close()
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		if key == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file %s: %w", path, err)
	}
	return values, nil
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
