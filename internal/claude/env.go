package claude

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// relayTmpDir is the clean temp directory for Claude CLI invocations.
// Editor socket files in the shared temp directory crash the CLI when the
// --settings flag is used.
var relayTmpDir string

func init() {
	relayTmpDir = filepath.Join(os.TempDir(), "relay-claude")
	os.MkdirAll(relayTmpDir, 0755)
}

// SetCleanEnv configures a command to use the clean TMPDIR.
func SetCleanEnv(cmd *exec.Cmd) {
	cmd.Env = os.Environ()

	for i, env := range cmd.Env {
		if strings.HasPrefix(env, "TMPDIR=") {
			cmd.Env[i] = "TMPDIR=" + relayTmpDir
			return
		}
	}
	cmd.Env = append(cmd.Env, "TMPDIR="+relayTmpDir)
}

// CleanTmpDir returns the clean temp directory path for Claude CLI.
func CleanTmpDir() string {
	return relayTmpDir
}
