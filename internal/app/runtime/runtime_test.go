package runtime

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/infrastructure/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Storage:    config.StorageConfig{DBPath: filepath.Join(t.TempDir(), "bot.db"), AutosaveInterval: time.Minute},
		Pipeline:   config.PipelineConfig{GiftFlushInterval: time.Second, UserLookupTimeout: time.Second},
		Dispatcher: config.DispatcherConfig{MaxConcurrent: 2, QueueSize: 8},
		Reconnect:  config.ReconnectConfig{Delay: time.Second, Backoff: "fixed"},
		Server:     config.ServerConfig{Addr: "127.0.0.1:0"},
		TTS:        config.TTSConfig{QueueSize: 4},
		Bridges:    config.BridgesConfig{TrovoURL: "ws://127.0.0.1:1/relay"},
	}
}

func TestNewWiresConfiguredPlatforms(t *testing.T) {
	rt, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, []domain.Platform{domain.PlatformTrovo}, rt.platform.Platforms())
	assert.NotNil(t, rt.Bus())
	assert.Empty(t, rt.commands.List())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Bridges = config.BridgesConfig{}
	rt, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run no terminó")
	}
}

func TestNewFailsWithoutDBPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DBPath = ""
	_, err := New(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
