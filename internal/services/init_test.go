package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/rain/internal/config"
)

func TestInitService_InitProject(t *testing.T) {
	service := NewInitService()

	tests := []struct {
		name    string
		opts    InitOptions
		files   []string
		missing []string
	}{
		{
			name:    "minimal",
			opts:    InitOptions{ProjectDir: "minimal"},
			files:   []string{ConfigFile, "components"},
			missing: []string{"components/weather/meta.yaml"},
		},
		{
			name: "with_example",
			opts: InitOptions{ProjectDir: "example", Example: true},
			files: []string{
				ConfigFile,
				"components/weather/meta.yaml",
				"components/weather/htdocs/main.html",
				"components/weather/locales/de.yaml",
				"components/temperature/htdocs/main.html",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.ProjectDir = filepath.Join(t.TempDir(), tt.opts.ProjectDir)
			require.NoError(t, service.InitProject(tt.opts))

			for _, f := range tt.files {
				path := filepath.Join(tt.opts.ProjectDir, f)
				if filepath.Ext(f) == "" {
					assert.DirExists(t, path)
				} else {
					assert.FileExists(t, path)
				}
			}
			for _, f := range tt.missing {
				assert.NoFileExists(t, filepath.Join(tt.opts.ProjectDir, f))
			}
		})
	}
}

func TestInitService_RefusesToOverwriteConfig(t *testing.T) {
	dir := t.TempDir()
	service := NewInitService()

	require.NoError(t, service.InitProject(InitOptions{ProjectDir: dir}))
	err := service.InitProject(InitOptions{ProjectDir: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	assert.NoError(t, service.InitProject(InitOptions{ProjectDir: dir, Force: true}))
}

func TestInitService_ConfigLoads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewInitService().InitProject(InitOptions{ProjectDir: dir}))

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetConfigFile(filepath.Join(dir, ConfigFile))
	require.NoError(t, viper.ReadInConfig())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, defaultConfig().Server, cfg.Server)
	assert.Equal(t, defaultConfig().Session, cfg.Session)
	assert.Equal(t, "components", cfg.Components.Root)
	assert.True(t, cfg.Components.Watch)

	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "request_timeout: 30s")
}
