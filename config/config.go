// Package config loads the translation service configuration.
//
// The file is JSON by default (qt_translation_config.json) or YAML when its
// extension is .yaml or .yml:
//
//	{
//	  "api_url": "https://api.example.com/v1/chat/completions",
//	  "api_key": "sk-...",
//	  "model": "qwen3-coder-flash",
//	  "temperature": 0.3
//	}
//
// QTLOKIT_API_KEY, QTLOKIT_API_URL and QTLOKIT_MODEL override the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"gopkg.in/yaml.v3"

	"github.com/minios-linux/qtlokit/translate"
)

// DefaultFileName is used when no --config path is given.
const DefaultFileName = "qt_translation_config.json"

// Environment overrides.
const (
	EnvAPIKey = "QTLOKIT_API_KEY"
	EnvAPIURL = "QTLOKIT_API_URL"
	EnvModel  = "QTLOKIT_MODEL"
)

var (
	// ErrNotFound is returned by Load when the configuration file does not
	// exist.
	ErrNotFound = errors.New("configuration file not found")
	// ErrInvalid is returned when the configuration fails validation.
	ErrInvalid = errors.New("invalid configuration")
)

// Config describes the translation service.
type Config struct {
	// APIURL is the full chat completions endpoint.
	APIURL string `json:"api_url" yaml:"api_url" validate:"required,url"`
	// APIKey is sent as a bearer token. Local services may not need one.
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model" validate:"required"`
	// Temperature is the sampling temperature (default 0.3).
	Temperature float64 `json:"temperature" yaml:"temperature" validate:"gte=0,lte=2"`
	// MaxTokens is the completion budget per request (default 4000).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
	// TimeoutSeconds bounds one request (default 60).
	TimeoutSeconds int `json:"timeout" yaml:"timeout" validate:"gte=0"`
	// RequestsPerSecond paces requests; 0 means unlimited.
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
	// Proxy is an optional HTTP/HTTPS proxy URL.
	Proxy string `json:"proxy" yaml:"proxy" validate:"omitempty,url"`
	// SystemPrompt replaces the built-in system prompt.
	SystemPrompt string `json:"system_prompt" yaml:"system_prompt"`
}

// Default returns a configuration holding only the defaults.
func Default() Config {
	return Config{
		Model:          "qwen3-coder-flash",
		Temperature:    0.3,
		MaxTokens:      translate.DefaultMaxTokens,
		TimeoutSeconds: int(translate.DefaultTimeout / time.Second),
	}
}

// Load reads the configuration at path, applies environment overrides and
// validates the result. A missing file yields an error wrapping ErrNotFound.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return translate.DefaultTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ServiceConfig converts c into the settings of the HTTP service.
func (c *Config) ServiceConfig() translate.ServiceConfig {
	return translate.ServiceConfig{
		URL:               c.APIURL,
		APIKey:            c.APIKey,
		Model:             c.Model,
		SystemPrompt:      c.SystemPrompt,
		Temperature:       c.Temperature,
		MaxTokens:         c.MaxTokens,
		Timeout:           c.Timeout(),
		RequestsPerSecond: c.RequestsPerSecond,
		Proxy:             c.Proxy,
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

type validatorSvc struct {
	validate   *validator.Validate
	translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *validatorSvc
)

// getValidator returns a validator that names fields by their JSON keys and
// renders English messages.
func getValidator() *validatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "-" || tag == "" {
				return fld.Name
			}
			return tag
		})
		_ = en_translations.RegisterDefaultTranslations(v, trans)

		vSvc = &validatorSvc{validate: v, translator: trans}
	})
	return vSvc
}

// Validate checks required keys and value ranges. The error wraps
// ErrInvalid and lists every failing field.
func (c *Config) Validate() error {
	svc := getValidator()
	err := svc.validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(svc.translator))
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
}
