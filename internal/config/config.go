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
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
	Prometheus   bool   `yaml:"prometheus"`
}

type HTTPConfig struct {
	Bind        string `yaml:"bind"`
	Port        int    `yaml:"port"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Storage     StorageConfig    `yaml:"storage"`
	Media       MediaConfig      `yaml:"media"`
	STT         STTConfig        `yaml:"stt"`
	Translate   TranslateConfig  `yaml:"translate"`
	TTS         TTSConfig        `yaml:"tts"`
	Pipeline    PipelineConfig   `yaml:"pipeline"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Bus         BusConfig        `yaml:"bus"`
}

// StorageConfig places the temporary and durable artifact areas.
type StorageConfig struct {
	TempDir   string `yaml:"temp_dir"`
	OutputDir string `yaml:"output_dir"`
	TTSDir    string `yaml:"tts_dir"`
}

type MediaConfig struct {
	Transcoder    string `yaml:"transcoder"` // ffmpeg, wav
	FFmpegCommand string `yaml:"ffmpeg_command"`
}

type STTConfig struct {
	Mode             string  `yaml:"mode"` // mock, exec
	Command          string  `yaml:"command"`
	ModelPath        string  `yaml:"model_path"`
	MockText         string  `yaml:"mock_text"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
}

type TranslateConfig struct {
	Mode          string `yaml:"mode"` // mock, exec, ollama
	Command       string `yaml:"command"`
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	Strict        bool   `yaml:"strict"`
	DefaultTarget string `yaml:"default_target"`
}

type TTSConfig struct {
	Preload        bool             `yaml:"preload"`
	ReferenceVoice string           `yaml:"reference_voice"`
	Indic          TTSBackendConfig `yaml:"indic"`
	XTTS           TTSBackendConfig `yaml:"xtts"`
}

type TTSBackendConfig struct {
	Mode        string `yaml:"mode"` // mock, exec
	Command     string `yaml:"command"`
	Model       string `yaml:"model"`
	Description string `yaml:"description"`
	SampleRate  int    `yaml:"sample_rate"`
}

type PipelineConfig struct {
	DefaultLanguage     string `yaml:"default_language"`
	DefaultEngine       string `yaml:"default_engine"`
	ConvertTimeoutMS    int    `yaml:"convert_timeout_ms"`
	TranscribeTimeoutMS int    `yaml:"transcribe_timeout_ms"`
	TranslateTimeoutMS  int    `yaml:"translate_timeout_ms"`
	SynthesizeTimeoutMS int    `yaml:"synthesize_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRuns       int    `yaml:"max_runs"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-translate",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "0.0.0.0",
			Port:        5000,
			MaxUploadMB: 32,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
			Prometheus:   true,
		},
		Storage: StorageConfig{
			TempDir:   "temp",
			OutputDir: "output",
			TTSDir:    "output/tts",
		},
		Media: MediaConfig{
			Transcoder:    "ffmpeg",
			FFmpegCommand: "ffmpeg",
		},
		STT: STTConfig{
			Mode:             "mock",
			MockText:         "hello, how are you?",
			SilenceThreshold: 0.01,
		},
		Translate: TranslateConfig{
			Mode:          "mock",
			Endpoint:      "http://localhost:11434",
			Model:         "llama3.2:latest",
			Strict:        true,
			DefaultTarget: "mr",
		},
		TTS: TTSConfig{
			Preload: true,
			Indic: TTSBackendConfig{
				Mode:        "mock",
				Model:       "ai4bharat/indic-parler-tts",
				Description: "A clear, natural human voice with very high quality audio.",
				SampleRate:  44100,
			},
			XTTS: TTSBackendConfig{
				Mode:       "mock",
				Model:      "tts_models/multilingual/multi-dataset/xtts_v2",
				SampleRate: 24000,
			},
		},
		Pipeline: PipelineConfig{
			DefaultLanguage:     "mr",
			DefaultEngine:       "auto",
			ConvertTimeoutMS:    30000,
			TranscribeTimeoutMS: 120000,
			TranslateTimeoutMS:  60000,
			SynthesizeTimeoutMS: 180000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-runs.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRuns:       10000,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
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
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideInt(&cfg.HTTP.MaxUploadMB, "LOQA_HTTP_MAX_UPLOAD_MB")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.Prometheus, "LOQA_TELEMETRY_PROMETHEUS")
	overrideString(&cfg.Storage.TempDir, "LOQA_STORAGE_TEMP_DIR")
	overrideString(&cfg.Storage.OutputDir, "LOQA_STORAGE_OUTPUT_DIR")
	overrideString(&cfg.Storage.TTSDir, "LOQA_STORAGE_TTS_DIR")
	overrideString(&cfg.Media.Transcoder, "LOQA_MEDIA_TRANSCODER")
	overrideString(&cfg.Media.FFmpegCommand, "LOQA_MEDIA_FFMPEG_COMMAND")
	overrideString(&cfg.STT.Mode, "LOQA_STT_MODE")
	overrideString(&cfg.STT.Command, "LOQA_STT_COMMAND")
	overrideString(&cfg.STT.ModelPath, "LOQA_STT_MODEL_PATH")
	overrideString(&cfg.STT.MockText, "LOQA_STT_MOCK_TEXT")
	overrideFloat(&cfg.STT.SilenceThreshold, "LOQA_STT_SILENCE_THRESHOLD")
	overrideString(&cfg.Translate.Mode, "LOQA_TRANSLATE_MODE")
	overrideString(&cfg.Translate.Command, "LOQA_TRANSLATE_COMMAND")
	overrideString(&cfg.Translate.Endpoint, "LOQA_TRANSLATE_ENDPOINT")
	overrideString(&cfg.Translate.Model, "LOQA_TRANSLATE_MODEL")
	overrideBool(&cfg.Translate.Strict, "LOQA_TRANSLATE_STRICT")
	overrideString(&cfg.Translate.DefaultTarget, "LOQA_TRANSLATE_DEFAULT_TARGET")
	overrideBool(&cfg.TTS.Preload, "LOQA_TTS_PRELOAD")
	overrideString(&cfg.TTS.ReferenceVoice, "LOQA_TTS_REFERENCE_VOICE")
	overrideString(&cfg.TTS.Indic.Mode, "LOQA_TTS_INDIC_MODE")
	overrideString(&cfg.TTS.Indic.Command, "LOQA_TTS_INDIC_COMMAND")
	overrideString(&cfg.TTS.Indic.Model, "LOQA_TTS_INDIC_MODEL")
	overrideString(&cfg.TTS.Indic.Description, "LOQA_TTS_INDIC_DESCRIPTION")
	overrideInt(&cfg.TTS.Indic.SampleRate, "LOQA_TTS_INDIC_SAMPLE_RATE")
	overrideString(&cfg.TTS.XTTS.Mode, "LOQA_TTS_XTTS_MODE")
	overrideString(&cfg.TTS.XTTS.Command, "LOQA_TTS_XTTS_COMMAND")
	overrideString(&cfg.TTS.XTTS.Model, "LOQA_TTS_XTTS_MODEL")
	overrideInt(&cfg.TTS.XTTS.SampleRate, "LOQA_TTS_XTTS_SAMPLE_RATE")
	overrideString(&cfg.Pipeline.DefaultLanguage, "LOQA_PIPELINE_DEFAULT_LANGUAGE")
	overrideString(&cfg.Pipeline.DefaultEngine, "LOQA_PIPELINE_DEFAULT_ENGINE")
	overrideInt(&cfg.Pipeline.ConvertTimeoutMS, "LOQA_PIPELINE_CONVERT_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.TranscribeTimeoutMS, "LOQA_PIPELINE_TRANSCRIBE_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.TranslateTimeoutMS, "LOQA_PIPELINE_TRANSLATE_TIMEOUT_MS")
	overrideInt(&cfg.Pipeline.SynthesizeTimeoutMS, "LOQA_PIPELINE_SYNTHESIZE_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxRuns, "LOQA_EVENT_STORE_MAX_RUNS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxUploadMB <= 0 {
		return errors.New("http.max_upload_mb must be positive")
	}
	if cfg.Storage.TempDir == "" || cfg.Storage.OutputDir == "" || cfg.Storage.TTSDir == "" {
		return errors.New("storage.temp_dir, storage.output_dir and storage.tts_dir must not be empty")
	}
	if cfg.Storage.TempDir == cfg.Storage.OutputDir || cfg.Storage.TempDir == cfg.Storage.TTSDir || cfg.Storage.OutputDir == cfg.Storage.TTSDir {
		return errors.New("storage directories must be distinct")
	}
	switch cfg.Media.Transcoder {
	case "ffmpeg":
		if cfg.Media.FFmpegCommand == "" {
			return errors.New("media.ffmpeg_command must be set when transcoder=ffmpeg")
		}
	case "wav":
	default:
		return errors.New("media.transcoder must be one of ffmpeg|wav")
	}
	switch cfg.STT.Mode {
	case "mock", "exec":
	default:
		return errors.New("stt.mode must be one of mock|exec")
	}
	if cfg.STT.Mode == "exec" && cfg.STT.Command == "" {
		return errors.New("stt.command must be set when mode=exec")
	}
	if cfg.STT.SilenceThreshold < 0 {
		return errors.New("stt.silence_threshold must be >= 0")
	}
	switch cfg.Translate.Mode {
	case "mock", "exec", "ollama":
	default:
		return errors.New("translate.mode must be one of mock|exec|ollama")
	}
	if cfg.Translate.Mode == "exec" && cfg.Translate.Command == "" {
		return errors.New("translate.command must be set when mode=exec")
	}
	if cfg.Translate.Mode == "ollama" && cfg.Translate.Endpoint == "" {
		return errors.New("translate.endpoint must be set when mode=ollama")
	}
	if cfg.Translate.DefaultTarget == "" {
		return errors.New("translate.default_target must not be empty")
	}
	if err := validateBackend("tts.indic", cfg.TTS.Indic); err != nil {
		return err
	}
	if err := validateBackend("tts.xtts", cfg.TTS.XTTS); err != nil {
		return err
	}
	if cfg.Pipeline.DefaultLanguage == "" {
		return errors.New("pipeline.default_language must not be empty")
	}
	if cfg.Pipeline.ConvertTimeoutMS < 0 || cfg.Pipeline.TranscribeTimeoutMS < 0 ||
		cfg.Pipeline.TranslateTimeoutMS < 0 || cfg.Pipeline.SynthesizeTimeoutMS < 0 {
		return errors.New("pipeline timeouts must be >= 0")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
		if cfg.EventStore.RetentionMode == "persistent" && cfg.EventStore.Path == "" {
			return errors.New("event_store.path must not be empty when retention_mode=persistent")
		}
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	return nil
}

func validateBackend(prefix string, cfg TTSBackendConfig) error {
	switch cfg.Mode {
	case "mock", "exec":
	default:
		return fmt.Errorf("%s.mode must be one of mock|exec", prefix)
	}
	if cfg.Mode == "exec" && cfg.Command == "" {
		return fmt.Errorf("%s.command must be set when mode=exec", prefix)
	}
	if cfg.SampleRate <= 0 {
		return fmt.Errorf("%s.sample_rate must be positive", prefix)
	}
	return nil
}
