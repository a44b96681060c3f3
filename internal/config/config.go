// Package config loads daemon settings: defaults, then an optional YAML
// file, then VOX_* environment variables. Flags are applied on top by main.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	PlatformAuto   = "auto"
	PlatformTermux = "termux"
	PlatformLinux  = "linux"
)

type Config struct {
	Language  string          `yaml:"language"`
	Platform  string          `yaml:"platform"`
	Assistant AssistantConfig `yaml:"assistant"`
	Speech    SpeechConfig    `yaml:"speech"`
	Actions   ActionsConfig   `yaml:"actions"`
	Control   ControlConfig   `yaml:"control"`

	// APIKey only ever comes from the environment.
	APIKey string `yaml:"-"`
}

type AssistantConfig struct {
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	WebSearch   bool    `yaml:"web_search"`
	Proxy       string  `yaml:"proxy"` // SOCKS5 host:port
}

type SpeechConfig struct {
	WhisperModel string `yaml:"whisper_model"`
	AudioFile    string `yaml:"audio_file"` // transcribe this file instead of the microphone
	Sequential   bool   `yaml:"sequential"` // let every action result finish before the next
	Earcon       string `yaml:"earcon"`
	Duck         bool   `yaml:"duck"`
}

type ActionsConfig struct {
	BatteryTimeout  time.Duration     `yaml:"battery_timeout"`
	LocationTimeout time.Duration     `yaml:"location_timeout"`
	Apps            map[string]string `yaml:"apps"`
}

type ControlConfig struct {
	Socket  string `yaml:"socket"`
	Hub     string `yaml:"hub"`
	HubName string `yaml:"hub_name"`
	Metrics string `yaml:"metrics"` // listen address, "" disables
}

func Default() *Config {
	return &Config{
		Language: "bn-BD",
		Platform: PlatformAuto,
		Assistant: AssistantConfig{
			Model:       "gpt-4.1-mini",
			Temperature: 0.7,
			WebSearch:   true,
		},
		Speech: SpeechConfig{
			WhisperModel: "third_party/whisper.cpp/models/ggml-medium.bin",
			Duck:         true,
		},
		Actions: ActionsConfig{
			BatteryTimeout:  5 * time.Second,
			LocationTimeout: 30 * time.Second,
		},
		Control: ControlConfig{
			HubName: "voxphone",
		},
	}
}

// Load builds the configuration. path may be empty; lookup is os.LookupEnv
// outside tests.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"OPENAI_API_KEY":    &c.APIKey,
		"VOX_LANGUAGE":      &c.Language,
		"VOX_PLATFORM":      &c.Platform,
		"VOX_MODEL":         &c.Assistant.Model,
		"VOX_BASE_URL":      &c.Assistant.BaseURL,
		"VOX_PROXY":         &c.Assistant.Proxy,
		"VOX_WHISPER_MODEL": &c.Speech.WhisperModel,
		"VOX_AUDIO_FILE":    &c.Speech.AudioFile,
		"VOX_EARCON":        &c.Speech.Earcon,
		"VOX_SOCKET":        &c.Control.Socket,
		"VOX_HUB":           &c.Control.Hub,
		"VOX_METRICS":       &c.Control.Metrics,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	bools := map[string]*bool{
		"VOX_WEB_SEARCH": &c.Assistant.WebSearch,
		"VOX_SEQUENTIAL": &c.Speech.Sequential,
		"VOX_DUCK":       &c.Speech.Duck,
	}
	for key, dst := range bools {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}

	if v, ok := lookup("VOX_TEMPERATURE"); ok {
		t, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("VOX_TEMPERATURE: %w", err)
		}
		c.Assistant.Temperature = t
	}

	return nil
}

// Validate checks the final configuration, after flags.
func (c *Config) Validate() error {
	var errs []error

	if c.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY not set"))
	}
	if _, err := language.Parse(c.Language); err != nil {
		errs = append(errs, fmt.Errorf("language %q: %w", c.Language, err))
	}
	switch c.Platform {
	case PlatformAuto, PlatformTermux, PlatformLinux:
	default:
		errs = append(errs, fmt.Errorf("unknown platform %q", c.Platform))
	}
	if c.Assistant.Model == "" {
		errs = append(errs, errors.New("assistant model is empty"))
	}
	if t := c.Assistant.Temperature; t < 0 || t > 2 {
		errs = append(errs, fmt.Errorf("temperature %v out of [0, 2]", t))
	}
	if c.Actions.BatteryTimeout <= 0 || c.Actions.LocationTimeout <= 0 {
		errs = append(errs, errors.New("action timeouts must be positive"))
	}
	if c.ResolvePlatform() == PlatformLinux && c.Speech.WhisperModel == "" {
		errs = append(errs, errors.New("linux needs a whisper model"))
	}

	return errors.Join(errs...)
}

// ResolvePlatform turns "auto" into the platform we are running on.
func (c *Config) ResolvePlatform() string {
	if c.Platform != PlatformAuto {
		return c.Platform
	}
	if os.Getenv("TERMUX_VERSION") != "" || strings.Contains(os.Getenv("PREFIX"), "com.termux") {
		return PlatformTermux
	}
	return PlatformLinux
}
