package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Ghost Dispatch environment variables.
const EnvPrefix = "GHOST_DISPATCH_"

const (
	RelayAssemblyAI = "assemblyai"
	RelayDeepgram   = "deepgram"
)

const defaultGreeting = "Thank you for calling 911. All operators are currently busy. " +
	"Your call will be answered by an AI assistant trained to help in emergency situations. " +
	"Please remain on the line and provide your name, location and the nature of your emergency so that we can assist you."

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	PublicHost string `yaml:"public_host"`
	DBPath     string `yaml:"db_path"`
	ArchiveDir string `yaml:"archive_dir"`
	LogLevel   string `yaml:"log_level"`

	RelayProvider  string `yaml:"relay_provider"`
	AssemblyAIURL  string `yaml:"assemblyai_url"`
	DeepgramModel  string `yaml:"deepgram_model"`
	FramesPerBlock int    `yaml:"frames_per_block"`
	CloseTimeout   string `yaml:"close_timeout"`
	IdleTimeout    string `yaml:"idle_timeout"`

	AnalysisModel          string `yaml:"analysis_model"`
	AnalysisExpensiveModel string `yaml:"analysis_expensive_model"`
	AnalysisTimeout        string `yaml:"analysis_timeout"`
	GeocodeSuffix          string `yaml:"geocode_suffix"`

	NotificationTitle string `yaml:"notification_title"`
	Greeting          string `yaml:"greeting"`
	HoldSeconds       int    `yaml:"hold_seconds"`

	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`

	// Secrets come from env vars only and are never serialized to YAML.
	AssemblyAIAPIKey string `yaml:"-"`
	DeepgramAPIKey   string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
	MapsAPIKey       string `yaml:"-"`
}

func defaults() Config {
	return Config{
		ListenAddr:             ":8080",
		DBPath:                 "data/ghost-dispatch.db",
		ArchiveDir:             "data/transcripts",
		LogLevel:               "info",
		RelayProvider:          RelayAssemblyAI,
		AssemblyAIURL:          "wss://api.assemblyai.com/v2/realtime/ws?sample_rate=8000",
		DeepgramModel:          "nova-2",
		FramesPerBlock:         5,
		CloseTimeout:           "100ms",
		IdleTimeout:            "2m",
		AnalysisModel:          "openai/gpt-4o-mini",
		AnalysisExpensiveModel: "anthropic/claude-3-5-sonnet-20240620",
		AnalysisTimeout:        "2m",
		GeocodeSuffix:          ", San Francisco, California",
		NotificationTitle:      "Emergency",
		Greeting:               defaultGreeting,
		HoldSeconds:            60,
		GoogleCredentialsFile:  "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// ParsedCloseTimeout bounds the wait for the transcription backend to confirm closure.
func (c *Config) ParsedCloseTimeout() time.Duration {
	return parseDuration(c.CloseTimeout, 100*time.Millisecond)
}

func (c *Config) ParsedIdleTimeout() time.Duration {
	return parseDuration(c.IdleTimeout, 2*time.Minute)
}

func (c *Config) ParsedAnalysisTimeout() time.Duration {
	return parseDuration(c.AnalysisTimeout, 2*time.Minute)
}

// SlogLevel maps LogLevel onto slog, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// APIKeyFor returns the secret configured for an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	fields := map[string]*string{
		"LISTEN_ADDR":              &cfg.ListenAddr,
		"PUBLIC_HOST":              &cfg.PublicHost,
		"DB_PATH":                  &cfg.DBPath,
		"ARCHIVE_DIR":              &cfg.ArchiveDir,
		"LOG_LEVEL":                &cfg.LogLevel,
		"RELAY_PROVIDER":           &cfg.RelayProvider,
		"ASSEMBLYAI_URL":           &cfg.AssemblyAIURL,
		"DEEPGRAM_MODEL":           &cfg.DeepgramModel,
		"CLOSE_TIMEOUT":            &cfg.CloseTimeout,
		"IDLE_TIMEOUT":             &cfg.IdleTimeout,
		"ANALYSIS_MODEL":           &cfg.AnalysisModel,
		"ANALYSIS_EXPENSIVE_MODEL": &cfg.AnalysisExpensiveModel,
		"ANALYSIS_TIMEOUT":         &cfg.AnalysisTimeout,
		"GEOCODE_SUFFIX":           &cfg.GeocodeSuffix,
		"NOTIFICATION_TITLE":       &cfg.NotificationTitle,
		"GREETING":                 &cfg.Greeting,
		"GDRIVE_FOLDER_ID":         &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE":  &cfg.GoogleCredentialsFile,
	}
	for key, dst := range fields {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	if n, ok := envInt("FRAMES_PER_BLOCK"); ok {
		cfg.FramesPerBlock = n
	}
	if n, ok := envInt("HOLD_SECONDS"); ok {
		cfg.HoldSeconds = n
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(EnvPrefix + key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func loadSecrets(cfg *Config) {
	cfg.AssemblyAIAPIKey = os.Getenv(EnvPrefix + "ASSEMBLYAI_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.MapsAPIKey = os.Getenv(EnvPrefix + "MAPS_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.RelayProvider {
	case RelayAssemblyAI:
		if cfg.AssemblyAIAPIKey == "" {
			warnings = append(warnings, "AssemblyAI API key not configured, calls cannot be transcribed. Set "+EnvPrefix+"ASSEMBLYAI_API_KEY.")
		}
	case RelayDeepgram:
		if cfg.DeepgramAPIKey == "" {
			warnings = append(warnings, "Deepgram API key not configured, calls cannot be transcribed. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown relay_provider %q, using %s.", cfg.RelayProvider, RelayAssemblyAI))
		cfg.RelayProvider = RelayAssemblyAI
	}

	if cfg.FramesPerBlock <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid frames_per_block %d, using 5.", cfg.FramesPerBlock))
		cfg.FramesPerBlock = 5
	}

	for name, raw := range map[string]string{
		"close_timeout":    cfg.CloseTimeout,
		"idle_timeout":     cfg.IdleTimeout,
		"analysis_timeout": cfg.AnalysisTimeout,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using default.", name, raw))
		}
	}

	for _, model := range []string{cfg.AnalysisModel, cfg.AnalysisExpensiveModel} {
		provider, _, ok := strings.Cut(model, "/")
		if !ok {
			continue
		}
		if cfg.APIKeyFor(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for analysis model %q, end-of-call extraction for it is disabled.", model))
		}
	}

	if cfg.MapsAPIKey == "" {
		warnings = append(warnings, "Maps API key not configured, locations will not be geocoded. Set "+EnvPrefix+"MAPS_API_KEY.")
	}

	return warnings
}
