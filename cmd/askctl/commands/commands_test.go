package commands

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.json")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestDeploy_ReportsDefaultRole(t *testing.T) {
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(t.TempDir(), "askhub.db"))

	out, err := runCommand(t, "deploy")
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !strings.Contains(out, "default role User") {
		t.Fatalf("unexpected output %q", out)
	}

	// 可重复执行
	if _, err := runCommand(t, "deploy"); err != nil {
		t.Fatalf("second deploy: %v", err)
	}

	if _, err := runCommand(t, "delete-user", "nobody"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}
