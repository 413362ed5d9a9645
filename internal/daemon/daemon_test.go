package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgechat/forgechat/internal/config"
	"github.com/forgechat/forgechat/internal/logger"
	"github.com/forgechat/forgechat/pkg/audit"
	"github.com/forgechat/forgechat/pkg/health"
)

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	return l.Addr().(*net.TCPAddr).Port
}

// testConfig returns a valid configuration pointing every backend at an
// unreachable local port, so nothing leaves the process.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Session.TokenSecret = strings.Repeat("s", 32)
	cfg.Permission.Endpoint = "http://127.0.0.1:1/authz"
	cfg.Tools.Endpoint = "http://127.0.0.1:1/rpc"
	cfg.Reasoning.APIKey = "sk-ant-test-key"
	cfg.Audit.Path = filepath.Join(tmpDir, "audit.db")

	return cfg
}

func createTestDaemon(t *testing.T) (*Daemon, *logger.Logger) {
	t.Helper()

	log, err := logger.New(logger.Config{
		Level:   "error",
		Console: false,
	})
	require.NoError(t, err)

	daemon, err := New(testConfig(t), log)
	require.NoError(t, err)

	return daemon, log
}

func TestNew(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.auditSink.Close()

	assert.NotNil(t, daemon)
	assert.NotNil(t, daemon.metrics)
	assert.NotNil(t, daemon.codec)
	assert.NotNil(t, daemon.resolver)
	assert.NotNil(t, daemon.store)
	assert.NotNil(t, daemon.registry)
	assert.NotNil(t, daemon.engine)
	assert.NotNil(t, daemon.chatService)
	assert.NotNil(t, daemon.gatewayServer)
	assert.NotNil(t, daemon.maintenance)
}

func TestNewValidatesConfig(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	defer log.Close()

	t.Run("nil config", func(t *testing.T) {
		_, err := New(nil, log)
		assert.Error(t, err)
	})

	t.Run("incomplete config", func(t *testing.T) {
		_, err := New(config.DefaultConfig(), log)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestNewOpenAIProvider(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig(t)
	cfg.Reasoning.Provider = "openai"
	cfg.Reasoning.APIKey = "sk-test-key"

	daemon, err := New(cfg, log)
	require.NoError(t, err)
	defer daemon.auditSink.Close()

	assert.Equal(t, "openai", daemon.reasoner.Provider())
}

func TestNewAuditDisabled(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	defer log.Close()

	cfg := testConfig(t)
	cfg.Audit.Enabled = false
	cfg.Audit.Path = ""

	daemon, err := New(cfg, log)
	require.NoError(t, err)

	_, ok := daemon.auditSink.(audit.NopSink)
	assert.True(t, ok)
}

func TestDaemonStartStop(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	// Start daemon
	err := daemon.Start()
	require.NoError(t, err)

	// Check status
	status := daemon.Status()
	assert.True(t, status.Running)

	// Double start is rejected
	assert.Error(t, daemon.Start())

	// The gateway is listening
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/healthz", daemon.config.Server.Port))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Stop daemon
	err = daemon.Stop()
	require.NoError(t, err)

	// Check status
	status = daemon.Status()
	assert.False(t, status.Running)

	// Double stop is rejected
	assert.Error(t, daemon.Stop())
}

func TestDaemonStatus(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()

	// Status before start
	status := daemon.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	// Start daemon
	err := daemon.Start()
	require.NoError(t, err)
	defer daemon.Stop()

	// Status after start
	time.Sleep(100 * time.Millisecond)
	status = daemon.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
}

func TestDaemonGetters(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.auditSink.Close()

	assert.NotNil(t, daemon.GetConfig())
	assert.NotNil(t, daemon.GetLogger())
	assert.NotNil(t, daemon.GetChatService())
	assert.NotNil(t, daemon.GetGatewayServer())
	assert.NotNil(t, daemon.GetMetrics())
	assert.NotNil(t, daemon.GetStore())
	assert.NotNil(t, daemon.GetRegistry())
}

func TestProbeHealthPublishesLevel(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.auditSink.Close()

	ctx := context.Background()

	// The tool backend is unreachable; three failed probes cross the
	// threshold and drop the level to TOOL_LESS. The memory store stays
	// healthy throughout.
	for i := 0; i < health.DefaultFailureThreshold; i++ {
		daemon.probeHealth(ctx)
	}

	assert.Equal(t, health.LevelToolLess, daemon.degrade.Level())
	assert.Equal(t, health.LevelToolLess.Value(), gaugeValue(t, daemon, "degradation_level"))

	deps := daemon.degrade.Health()
	assert.False(t, deps.ToolBackendUp)
	assert.True(t, deps.SessionStoreUp)
	assert.True(t, deps.ReasoningServiceUp)
}

func TestSweepSessionsEmptyStore(t *testing.T) {
	daemon, log := createTestDaemon(t)
	defer log.Close()
	defer daemon.auditSink.Close()

	assert.Equal(t, 0, daemon.sweepSessions())
}

func gaugeValue(t *testing.T, daemon *Daemon, name string) float64 {
	t.Helper()

	families, err := daemon.metrics.Registry().Gather()
	require.NoError(t, err)

	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}

	t.Fatalf("metric %s not found", name)
	return 0
}
