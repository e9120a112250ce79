package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsecheck/pulsecheck/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pulsecheck.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
pings:
  - name: api
    protocol: https
    resource: api.example.com/health
    expected:
      status: 200
`)
	settings, services, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, settings.CheckInterval)
	assert.Equal(t, 2*time.Second, settings.WarningThreshold)
	assert.Equal(t, 5*time.Second, settings.Timeout)
	assert.Equal(t, 3, settings.MaxRetries)

	require.Len(t, services, 1)
	svc := services[0]
	assert.Equal(t, "api", svc.Name)
	assert.Equal(t, "https://api.example.com/health", svc.URL)
	assert.Equal(t, model.MethodGET, svc.Method)
	assert.Equal(t, 200, svc.ExpectedStatus)
	assert.Equal(t, 60*time.Second, svc.Interval)
	assert.Equal(t, 3, svc.MaxRetries)
}

func TestLoadPingOverridesSettings(t *testing.T) {
	path := writeConfig(t, `
settings:
  check_interval: 60
  timeout: 5
  max_retries: 3

pings:
  - name: api
    protocol: https
    resource: api.example.com/health
    method: post
    interval: 15
    timeout: 2
    max_retries: 0
    expected:
      status: 201
      text: created
      headers:
        X-App: pulsecheck
    tags: [api, critical]
`)
	_, services, err := Load(path)
	require.NoError(t, err)
	require.Len(t, services, 1)

	svc := services[0]
	assert.Equal(t, model.MethodPOST, svc.Method)
	assert.Equal(t, 15*time.Second, svc.Interval)
	assert.Equal(t, 2*time.Second, svc.Timeout)
	assert.Equal(t, 0, svc.MaxRetries)
	assert.Equal(t, 201, svc.ExpectedStatus)
	assert.Equal(t, "created", svc.ExpectedText)
	assert.Equal(t, "pulsecheck", svc.ExpectedHeaders["X-App"])
	assert.Equal(t, []string{"api", "critical"}, svc.Tags)
}

func TestLoadRejectsDuplicateNames(t *testing.T) {
	path := writeConfig(t, `
pings:
  - name: api
    protocol: https
    resource: one.example.com
    expected: { status: 200 }
  - name: api
    protocol: https
    resource: two.example.com
    expected: { status: 200 }
`)
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnsupportedMethod(t *testing.T) {
	path := writeConfig(t, `
pings:
  - name: api
    protocol: https
    resource: api.example.com
    method: DELETE
    expected: { status: 200 }
`)
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingResource(t *testing.T) {
	path := writeConfig(t, `
pings:
  - name: api
    protocol: https
    expected: { status: 200 }
`)
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAcceptsFullyQualifiedResourceOverridingProtocol(t *testing.T) {
	path := writeConfig(t, `
pings:
  - name: api
    resource: http://api.example.com/health
    expected: { status: 200 }
`)
	_, services, err := Load(path)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "http://api.example.com/health", services[0].URL)
}

func TestLoadEnvOverridesSettings(t *testing.T) {
	t.Setenv("PULSECHECK_CHECK_INTERVAL", "45")
	t.Setenv("PULSECHECK_MAX_RETRIES", "7")

	path := writeConfig(t, `
pings:
  - name: api
    protocol: https
    resource: api.example.com
    expected: { status: 200 }
`)
	settings, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, settings.CheckInterval)
	assert.Equal(t, 7, settings.MaxRetries)
}

func TestLoadErrorsOnMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
