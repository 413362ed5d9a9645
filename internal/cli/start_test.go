package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartCommand(t *testing.T) {
	t.Run("command exists", func(t *testing.T) {
		cmd := GetRootCmd()

		found := false
		for _, c := range cmd.Commands() {
			if c.Name() == "start" {
				found = true
				break
			}
		}
		assert.True(t, found, "start command should exist")
	})

	t.Run("help text", func(t *testing.T) {
		cmd := GetRootCmd()
		cmd.SetArgs([]string{"start", "--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "Start the forgechat daemon service")
	})
}

func TestGetPIDFilePath(t *testing.T) {
	path := getPIDFilePath()
	assert.NotEmpty(t, path)
	assert.Contains(t, path, "forgechatd.pid")
}

func TestIsRunning(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "nonexistent.pid")

		assert.False(t, isRunning(pidFile))
	})

	t.Run("invalid pid file", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "invalid.pid")

		err := os.WriteFile(pidFile, []byte("invalid"), 0644)
		require.NoError(t, err)

		assert.False(t, isRunning(pidFile))
	})

	t.Run("live process", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "live.pid")

		err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644)
		require.NoError(t, err)

		assert.True(t, isRunning(pidFile))
	})
}

func TestWritePIDFile(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "nested", "dir", "test.pid")

	err := writePIDFile(pidFile)
	require.NoError(t, err)

	pid, err := readPIDFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPIDFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := readPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
		assert.Error(t, err)
	})

	t.Run("garbage content", func(t *testing.T) {
		pidFile := filepath.Join(t.TempDir(), "garbage.pid")
		require.NoError(t, os.WriteFile(pidFile, []byte("not-a-pid"), 0644))

		_, err := readPIDFile(pidFile)
		assert.Error(t, err)
	})
}
