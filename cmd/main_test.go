package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/cookiekeeper/internal/observability"
)

// resetForTest provides the single source of truth for resetting test state.
func resetForTest(t *testing.T) {
	t.Helper()

	cfgFile = ""
	envFile = ".env"
	osExit = os.Exit
	factory = NewComponentFactory()

	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	rootCmd = newRootCmd()
}

// executeCommand runs the pristine root command with args and returns what it
// printed on stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeTestConfig writes a config.yaml that keeps every path inside dir.
func writeTestConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	content := `
logger:
  level: fatal
  log_file: ` + filepath.Join(dir, "cookiekeeper.log") + `
refresh:
  lock_file: ` + filepath.Join(dir, "refresh.lock") + `
store:
  state_dir: ` + filepath.Join(dir, "state") + `
publish:
  env_file: ` + filepath.Join(dir, "bot.env") + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
