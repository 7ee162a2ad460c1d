package device

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Exec is mockable version of os/exec.CommandContext.Run. It returns stdout,
// stderr and the exit code.
var Exec = func(ctx context.Context, name string, arg ...string) ([]byte, []byte, int, error) {
	/* #nosec G204 */
	cmd := exec.CommandContext(ctx, name, arg...)
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	err := cmd.Run()

	exitCode := 0
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			exitCode = exitError.ExitCode()
		}
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes(), exitCode, err
}

// ExecString is like Exec with whitespace-trimmed string output.
func ExecString(ctx context.Context, name string, arg ...string) (string, string, int, error) {
	stdout, stderr, exitCode, err := Exec(ctx, name, arg...)
	return strings.TrimSpace(string(stdout)), strings.TrimSpace(string(stderr)), exitCode, err
}

func exeName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

// toolPath returns the bundled tool in dir if it exists and the bare name
// (looked up in PATH) otherwise.
func toolPath(dir, name string) string {
	if dir != "" {
		bundled := filepath.Join(dir, exeName(name))
		if fi, err := os.Stat(bundled); err == nil && !fi.IsDir() {
			return bundled
		}
	}
	return name
}
