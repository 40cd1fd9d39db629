package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	ServiceName string            `yaml:"service_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Capture     CaptureConfig     `yaml:"capture"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Actions     ActionsConfig     `yaml:"actions"`
	Speech      SpeechConfig      `yaml:"speech"`
	Grammar     GrammarConfig     `yaml:"grammar"`
	Identity    IdentityConfig    `yaml:"identity"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type CaptureConfig struct {
	SampleRate      int  `yaml:"sample_rate"`
	Channels        int  `yaml:"channels"`
	InterimEveryMS  int  `yaml:"interim_every_ms"`
	PublishInterim  bool `yaml:"publish_interim"`
	FinalQueueDepth int  `yaml:"final_queue_depth"`
}

type TranscriberConfig struct {
	Mode      string `yaml:"mode"` // mock, exec, remote
	Command   string `yaml:"command"`
	ModelPath string `yaml:"model_path"`
	Language  string `yaml:"language"`
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ActionsConfig struct {
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type SpeechConfig struct {
	SynthMode     string `yaml:"synth_mode"`  // mock, exec, http
	PlayerMode    string `yaml:"player_mode"` // mock, exec, bus
	Command       string `yaml:"command"`
	PlayerCommand string `yaml:"player_command"`
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Voice         string `yaml:"voice"`
	SampleRate    int    `yaml:"sample_rate"`
	Channels      int    `yaml:"channels"`
	QueueDepth    int    `yaml:"queue_depth"`
	Target        string `yaml:"target"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

type GrammarConfig struct {
	DefaultRole   string `yaml:"default_role"`
	FallbackRoute string `yaml:"fallback_route"`
}

type IdentityConfig struct {
	Mode   string `yaml:"mode"` // static, jwt
	Token  string `yaml:"token"`
	UserID string `yaml:"user_id"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

func Default() Config {
	return Config{
		ServiceName: "medvoice-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Capture: CaptureConfig{
			SampleRate:      16000,
			Channels:        1,
			InterimEveryMS:  800,
			PublishInterim:  true,
			FinalQueueDepth: 16,
		},
		Transcriber: TranscriberConfig{
			Mode:      "mock",
			TimeoutMS: 15000,
		},
		Actions: ActionsConfig{
			Endpoint:  "http://localhost:8090/api/voice/actions",
			TimeoutMS: 10000,
		},
		Speech: SpeechConfig{
			SynthMode:  "mock",
			PlayerMode: "mock",
			Voice:      "en-US-standard",
			SampleRate: 22050,
			Channels:   1,
			QueueDepth: 32,
			Target:     "default",
			TimeoutMS:  20000,
		},
		Grammar: GrammarConfig{
			DefaultRole:   "patient",
			FallbackRoute: "/dashboard",
		},
		Identity: IdentityConfig{
			Mode: "static",
		},
		EventStore: EventStoreConfig{
			Path:          "./data/medvoice-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "MEDVOICE_SERVICE_NAME")
	overrideString(&cfg.Environment, "MEDVOICE_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "MEDVOICE_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "MEDVOICE_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "MEDVOICE_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "MEDVOICE_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "MEDVOICE_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "MEDVOICE_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Embedded, "MEDVOICE_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "MEDVOICE_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "MEDVOICE_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "MEDVOICE_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "MEDVOICE_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "MEDVOICE_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "MEDVOICE_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "MEDVOICE_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Capture.SampleRate, "MEDVOICE_CAPTURE_SAMPLE_RATE")
	overrideInt(&cfg.Capture.Channels, "MEDVOICE_CAPTURE_CHANNELS")
	overrideInt(&cfg.Capture.InterimEveryMS, "MEDVOICE_CAPTURE_INTERIM_EVERY_MS")
	overrideBool(&cfg.Capture.PublishInterim, "MEDVOICE_CAPTURE_PUBLISH_INTERIM")
	overrideInt(&cfg.Capture.FinalQueueDepth, "MEDVOICE_CAPTURE_FINAL_QUEUE_DEPTH")
	overrideString(&cfg.Transcriber.Mode, "MEDVOICE_TRANSCRIBER_MODE")
	overrideString(&cfg.Transcriber.Command, "MEDVOICE_TRANSCRIBER_COMMAND")
	overrideString(&cfg.Transcriber.ModelPath, "MEDVOICE_TRANSCRIBER_MODEL_PATH")
	overrideString(&cfg.Transcriber.Language, "MEDVOICE_TRANSCRIBER_LANGUAGE")
	overrideString(&cfg.Transcriber.Endpoint, "MEDVOICE_TRANSCRIBER_ENDPOINT")
	overrideInt(&cfg.Transcriber.TimeoutMS, "MEDVOICE_TRANSCRIBER_TIMEOUT_MS")
	overrideString(&cfg.Actions.Endpoint, "MEDVOICE_ACTIONS_ENDPOINT")
	overrideInt(&cfg.Actions.TimeoutMS, "MEDVOICE_ACTIONS_TIMEOUT_MS")
	overrideString(&cfg.Speech.SynthMode, "MEDVOICE_SPEECH_SYNTH_MODE")
	overrideString(&cfg.Speech.PlayerMode, "MEDVOICE_SPEECH_PLAYER_MODE")
	overrideString(&cfg.Speech.Command, "MEDVOICE_SPEECH_COMMAND")
	overrideString(&cfg.Speech.PlayerCommand, "MEDVOICE_SPEECH_PLAYER_COMMAND")
	overrideString(&cfg.Speech.Endpoint, "MEDVOICE_SPEECH_ENDPOINT")
	overrideString(&cfg.Speech.APIKey, "MEDVOICE_SPEECH_API_KEY")
	overrideString(&cfg.Speech.Voice, "MEDVOICE_SPEECH_VOICE")
	overrideInt(&cfg.Speech.SampleRate, "MEDVOICE_SPEECH_SAMPLE_RATE")
	overrideInt(&cfg.Speech.Channels, "MEDVOICE_SPEECH_CHANNELS")
	overrideInt(&cfg.Speech.QueueDepth, "MEDVOICE_SPEECH_QUEUE_DEPTH")
	overrideString(&cfg.Speech.Target, "MEDVOICE_SPEECH_TARGET")
	overrideInt(&cfg.Speech.TimeoutMS, "MEDVOICE_SPEECH_TIMEOUT_MS")
	overrideString(&cfg.Grammar.DefaultRole, "MEDVOICE_GRAMMAR_DEFAULT_ROLE")
	overrideString(&cfg.Grammar.FallbackRoute, "MEDVOICE_GRAMMAR_FALLBACK_ROUTE")
	overrideString(&cfg.Identity.Mode, "MEDVOICE_IDENTITY_MODE")
	overrideString(&cfg.Identity.Token, "MEDVOICE_IDENTITY_TOKEN")
	overrideString(&cfg.Identity.UserID, "MEDVOICE_IDENTITY_USER_ID")
	overrideString(&cfg.EventStore.Path, "MEDVOICE_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "MEDVOICE_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "MEDVOICE_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "MEDVOICE_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "MEDVOICE_EVENT_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.Capture.SampleRate <= 0 {
		return errors.New("capture.sample_rate must be positive")
	}
	if cfg.Capture.Channels <= 0 {
		return errors.New("capture.channels must be positive")
	}
	if cfg.Capture.FinalQueueDepth <= 0 {
		return errors.New("capture.final_queue_depth must be >= 1")
	}
	switch cfg.Transcriber.Mode {
	case "mock", "exec", "remote":
	default:
		return errors.New("transcriber.mode must be one of mock|exec|remote")
	}
	if cfg.Transcriber.Mode == "exec" && cfg.Transcriber.Command == "" {
		return errors.New("transcriber.command must be set when mode=exec")
	}
	if cfg.Transcriber.Mode == "remote" {
		if cfg.Transcriber.Endpoint == "" {
			return errors.New("transcriber.endpoint must be set when mode=remote")
		}
		if cfg.Transcriber.TimeoutMS <= 0 {
			return errors.New("transcriber.timeout_ms must be positive when mode=remote")
		}
	}
	if cfg.Actions.Endpoint == "" {
		return errors.New("actions.endpoint must not be empty")
	}
	if cfg.Actions.TimeoutMS <= 0 {
		return errors.New("actions.timeout_ms must be positive")
	}
	switch cfg.Speech.SynthMode {
	case "mock", "exec", "http":
	default:
		return errors.New("speech.synth_mode must be one of mock|exec|http")
	}
	if cfg.Speech.SynthMode == "exec" && cfg.Speech.Command == "" {
		return errors.New("speech.command must be set when synth_mode=exec")
	}
	if cfg.Speech.SynthMode == "http" && cfg.Speech.Endpoint == "" {
		return errors.New("speech.endpoint must be set when synth_mode=http")
	}
	switch cfg.Speech.PlayerMode {
	case "mock", "exec", "bus":
	default:
		return errors.New("speech.player_mode must be one of mock|exec|bus")
	}
	if cfg.Speech.PlayerMode == "exec" && cfg.Speech.PlayerCommand == "" {
		return errors.New("speech.player_command must be set when player_mode=exec")
	}
	if cfg.Speech.SampleRate <= 0 {
		return errors.New("speech.sample_rate must be positive")
	}
	if cfg.Speech.Channels <= 0 {
		return errors.New("speech.channels must be positive")
	}
	if cfg.Speech.QueueDepth <= 0 {
		return errors.New("speech.queue_depth must be >= 1")
	}
	switch cfg.Grammar.DefaultRole {
	case "patient", "provider", "employer", "owner", "admin":
	default:
		return errors.New("grammar.default_role must be one of patient|provider|employer|owner|admin")
	}
	if cfg.Grammar.FallbackRoute == "" {
		return errors.New("grammar.fallback_route must not be empty")
	}
	switch cfg.Identity.Mode {
	case "static", "jwt":
	default:
		return errors.New("identity.mode must be one of static|jwt")
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
