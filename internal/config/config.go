// Package config loads and validates the pulsecheck configuration
// file into typed model.Settings and model.ServiceConfig records.
// Adapted from the teacher's pkg/config/config.go (YAML load,
// environment-variable overrides, a single validate pass) but
// redistilled for this domain's two-key schema (settings, pings)
// instead of infra-core's five-service schema.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

const (
	defaultCheckInterval     = 60 * time.Second
	defaultWarningThreshold  = 2 * time.Second
	defaultTimeout           = 5 * time.Second
	defaultMaxRetries        = 3
	defaultSnapshotPath      = "./data/status.json"
	defaultAppendLogPath     = "./data/history.csv"
	defaultDataWriteInterval = 10 * time.Second
)

type fileSettings struct {
	CheckInterval     int    `yaml:"check_interval"`
	WarningThreshold  int    `yaml:"warning_threshold"`
	Timeout           int    `yaml:"timeout"`
	MaxRetries        int    `yaml:"max_retries"`
	WorkerPoolSize    int    `yaml:"worker_pool_size"`
	SnapshotPath      string `yaml:"snapshot_path"`
	AppendLogPath     string `yaml:"append_log_path"`
	DataWriteInterval int    `yaml:"data_write_interval"`
}

type expectedBlock struct {
	Status  int               `yaml:"status"`
	Text    string            `yaml:"text"`
	Headers map[string]string `yaml:"headers"`
}

type pingEntry struct {
	Name             string            `yaml:"name"`
	Protocol         string            `yaml:"protocol"`
	Method           string            `yaml:"method"`
	Resource         string            `yaml:"resource"`
	Expected         expectedBlock     `yaml:"expected"`
	Headers          map[string]string `yaml:"headers"`
	Payload          interface{}       `yaml:"payload"`
	Interval         int               `yaml:"interval"`
	WarningThreshold int               `yaml:"warning_threshold"`
	Timeout          int               `yaml:"timeout"`
	MaxRetries       *int              `yaml:"max_retries"`
	Tags             []string          `yaml:"tags"`
}

type fileConfig struct {
	Settings fileSettings `yaml:"settings"`
	Pings    []pingEntry  `yaml:"pings"`
}

// Load reads and validates the configuration file at path, returning
// the resolved Settings and the list of ServiceConfig records it
// describes. Any parse, schema, or duplicate-name error is fatal and
// must be handled by the caller at startup — Load never returns a
// partially valid result.
func Load(path string) (*model.Settings, []model.ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw fileConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	settings := resolveSettings(raw.Settings)
	overrideSettingsFromEnv(&settings)

	services := make([]model.ServiceConfig, 0, len(raw.Pings))
	seen := make(map[string]bool, len(raw.Pings))

	for i, p := range raw.Pings {
		svc, err := buildServiceConfig(p, settings)
		if err != nil {
			return nil, nil, fmt.Errorf("config: pings[%d]: %w", i, err)
		}
		if seen[svc.Name] {
			return nil, nil, fmt.Errorf("config: duplicate service name %q", svc.Name)
		}
		seen[svc.Name] = true
		services = append(services, svc)
	}

	return &settings, services, nil
}

func resolveSettings(raw fileSettings) model.Settings {
	s := model.Settings{
		CheckInterval:     defaultCheckInterval,
		WarningThreshold:  defaultWarningThreshold,
		Timeout:           defaultTimeout,
		MaxRetries:        defaultMaxRetries,
		WorkerPoolSize:    0,
		SnapshotPath:      defaultSnapshotPath,
		AppendLogPath:     defaultAppendLogPath,
		DataWriteInterval: defaultDataWriteInterval,
	}

	if raw.CheckInterval > 0 {
		s.CheckInterval = time.Duration(raw.CheckInterval) * time.Second
	}
	if raw.WarningThreshold > 0 {
		s.WarningThreshold = time.Duration(raw.WarningThreshold) * time.Second
	}
	if raw.Timeout > 0 {
		s.Timeout = time.Duration(raw.Timeout) * time.Second
	}
	if raw.MaxRetries > 0 {
		s.MaxRetries = raw.MaxRetries
	}
	if raw.WorkerPoolSize > 0 {
		s.WorkerPoolSize = raw.WorkerPoolSize
	}
	if raw.SnapshotPath != "" {
		s.SnapshotPath = raw.SnapshotPath
	}
	if raw.AppendLogPath != "" {
		s.AppendLogPath = raw.AppendLogPath
	}
	if raw.DataWriteInterval > 0 {
		s.DataWriteInterval = time.Duration(raw.DataWriteInterval) * time.Second
	}
	return s
}

func overrideSettingsFromEnv(s *model.Settings) {
	if v := os.Getenv("PULSECHECK_CHECK_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.CheckInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PULSECHECK_WARNING_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.WarningThreshold = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PULSECHECK_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PULSECHECK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.MaxRetries = n
		}
	}
	if v := os.Getenv("PULSECHECK_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("PULSECHECK_SNAPSHOT_PATH"); v != "" {
		s.SnapshotPath = v
	}
	if v := os.Getenv("PULSECHECK_APPEND_LOG_PATH"); v != "" {
		s.AppendLogPath = v
	}
}

func buildServiceConfig(p pingEntry, settings model.Settings) (model.ServiceConfig, error) {
	if p.Name == "" {
		return model.ServiceConfig{}, fmt.Errorf("name is required")
	}

	method := model.Method(strings.ToUpper(p.Method))
	if method == "" {
		method = model.MethodGET
	}
	if method != model.MethodGET && method != model.MethodHEAD && method != model.MethodPOST {
		return model.ServiceConfig{}, fmt.Errorf("%s: unsupported method %q", p.Name, p.Method)
	}

	url, err := resolveURL(p.Protocol, p.Resource)
	if err != nil {
		return model.ServiceConfig{}, fmt.Errorf("%s: %w", p.Name, err)
	}

	interval := settings.CheckInterval
	if p.Interval > 0 {
		interval = time.Duration(p.Interval) * time.Second
	}

	warningThreshold := settings.WarningThreshold
	if p.WarningThreshold > 0 {
		warningThreshold = time.Duration(p.WarningThreshold) * time.Second
	}

	timeout := settings.Timeout
	if p.Timeout > 0 {
		timeout = time.Duration(p.Timeout) * time.Second
	}
	if timeout <= 0 {
		return model.ServiceConfig{}, fmt.Errorf("%s: timeout must be positive", p.Name)
	}

	maxRetries := settings.MaxRetries
	if p.MaxRetries != nil {
		maxRetries = *p.MaxRetries
	}
	if maxRetries < 0 {
		return model.ServiceConfig{}, fmt.Errorf("%s: max_retries cannot be negative", p.Name)
	}

	if p.Expected.Status < 100 || p.Expected.Status > 599 {
		return model.ServiceConfig{}, fmt.Errorf("%s: expected.status %d is not a valid HTTP status", p.Name, p.Expected.Status)
	}

	var payload []byte
	if p.Payload != nil {
		b, err := json.Marshal(p.Payload)
		if err != nil {
			return model.ServiceConfig{}, fmt.Errorf("%s: encode payload: %w", p.Name, err)
		}
		payload = b
	}

	return model.ServiceConfig{
		Name:             p.Name,
		URL:              url,
		Method:           method,
		ExpectedStatus:   p.Expected.Status,
		ExpectedText:     p.Expected.Text,
		ExpectedHeaders:  p.Expected.Headers,
		RequestHeaders:   p.Headers,
		RequestPayload:   payload,
		Interval:         interval,
		WarningThreshold: warningThreshold,
		Timeout:          timeout,
		MaxRetries:       maxRetries,
		Tags:             p.Tags,
	}, nil
}

func resolveURL(protocol, resource string) (string, error) {
	if resource == "" {
		return "", fmt.Errorf("resource is required")
	}
	if strings.HasPrefix(resource, "http://") || strings.HasPrefix(resource, "https://") {
		return resource, nil
	}

	scheme := strings.ToLower(protocol)
	switch scheme {
	case "http", "https":
	case "":
		scheme = "https"
	default:
		return "", fmt.Errorf("unsupported protocol %q", protocol)
	}
	return fmt.Sprintf("%s://%s", scheme, resource), nil
}
