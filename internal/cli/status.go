package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgechat/forgechat/internal/config"
	"github.com/forgechat/forgechat/pkg/chat"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show the current status of the forgechat daemon service, including
the degradation level reported by the local gateway.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	pidFile := getPIDFilePath()
	if !isRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := readPIDFile(pidFile)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// PID file modification time doubles as the start time
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil
	}

	status, err := fetchHealth(cfg)
	if err != nil {
		fmt.Fprintln(out, "Gateway: unreachable")
		return nil
	}

	fmt.Fprintf(out, "Level: %s\n", status.Level)
	fmt.Fprintf(out, "Active sessions: %d\n", status.ActiveSessions)
	fmt.Fprintf(out, "Reasoning service: %s\n", upDown(status.Dependencies.ReasoningServiceUp))
	fmt.Fprintf(out, "Tool backend: %s\n", upDown(status.Dependencies.ToolBackendUp))
	fmt.Fprintf(out, "Session store: %s\n", upDown(status.Dependencies.SessionStoreUp))

	return nil
}

// fetchHealth asks the local gateway for its health report. The
// endpoint answers 503 when unavailable, so the body is decoded
// regardless of status code.
func fetchHealth(cfg *config.Config) (*chat.HealthStatus, error) {
	client := &http.Client{Timeout: 3 * time.Second}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}

	resp, err := client.Get(fmt.Sprintf("http://%s:%d/api/v1/health", host, cfg.Server.Port))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status chat.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}

	return &status, nil
}

func upDown(up bool) string {
	if up {
		return "up"
	}
	return "down"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
