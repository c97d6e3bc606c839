package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 4000, cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "http://localhost:5001", cfg.Services.Chatbot)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.Services.TranscriptionAPI)
	assert.Equal(t, int64(50<<20), cfg.MaxFileSizeBytes())
	assert.Equal(t, "30s", cfg.APITimeout().String())

	bin, args := cfg.RuntimeArgs()
	assert.Equal(t, "uv", bin)
	assert.Equal(t, []string{"run", "python", "-m", "api"}, args)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("BACKEND_PORT", "4100")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("CORS_ORIGIN", "app://editor")
	t.Setenv("MAX_FILE_SIZE", "2gb")
	t.Setenv("TRANSCRIPTION_AUTOSTART", "false")
	t.Setenv("ARCHIVE_PATH", "")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "app://editor", cfg.Security.CORSOrigin)
	assert.Equal(t, int64(2<<30), cfg.MaxFileSizeBytes())
	assert.False(t, cfg.Runtime.AutoStart)
	assert.Empty(t, cfg.Archive.Path)
}

func TestLoadRejectsMalformedNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("API_TIMEOUT", "soon")

	_, err := Load(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_TIMEOUT must be a valid number")
}

func TestLoadEnvFileAndYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	envFile := filepath.Join(dir, "orchestrator.env")
	require.NoError(t, os.WriteFile(envFile, []byte("CHATBOT_SERVICE_URL=http://chat:9000\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("CHATBOT_SERVICE_URL") })

	yamlFile := filepath.Join(dir, "orchestrator.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(`
server:
  port: 4200
services:
  chatbot: http://ignored:1
logging:
  level: debug
`), 0644))

	cfg, err := Load(Options{EnvFile: envFile, ConfigFile: yamlFile})
	require.NoError(t, err)

	assert.Equal(t, 4200, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// environment wins over the file
	assert.Equal(t, "http://chat:9000", cfg.Services.Chatbot)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"50mb", 50 << 20, false},
		{"50MB", 50 << 20, false},
		{"2G", 2 << 30, false},
		{"512kb", 512 << 10, false},
		{"100", 100, false},
		{"1.5mb", 1572864, false},
		{"", 0, true},
		{"lots", 0, true},
		{"-1mb", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEchoBodyLimit(t *testing.T) {
	assert.Equal(t, "50M", EchoBodyLimit(50<<20))
	assert.Equal(t, "2G", EchoBodyLimit(2<<30))
	assert.Equal(t, "3K", EchoBodyLimit(3<<10))
	assert.Equal(t, "1000B", EchoBodyLimit(1000))
}
