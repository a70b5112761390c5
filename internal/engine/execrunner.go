package engine

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// commandRunner abstracts CLI invocation so engine clients can be unit
// tested without a real docker/udocker binary on the host.
type commandRunner interface {
	// Output runs the command to completion and returns stdout, stderr
	// and the exit code. err is non-nil only when the process could not
	// be spawned or the context was cancelled.
	Output(ctx context.Context, env []string, name string, args ...string) (stdout, stderr string, code int, err error)
	// Stream runs the command, delivering stdout+stderr lines to onLine
	// as they appear, and returns the exit code.
	Stream(ctx context.Context, env []string, onLine func(string), name string, args ...string) (code int, err error)
}

// osRunner is the default commandRunner backed by os/exec.
type osRunner struct{}

func (osRunner) Output(ctx context.Context, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	err := cmd.Run()
	if err != nil {
		if ctx.Err() != nil {
			return out.String(), errb.String(), -1, ctx.Err()
		}
		if ee, ok := err.(*exec.ExitError); ok {
			return out.String(), errb.String(), ee.ExitCode(), nil
		}
		return out.String(), errb.String(), -1, err
	}
	return out.String(), errb.String(), 0, nil
}

func (osRunner) Stream(ctx context.Context, env []string, onLine func(string), name string, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if env != nil {
		cmd.Env = env
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return -1, err
	}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		onLine(sc.Text())
	}
	err = cmd.Wait()
	if err != nil {
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		if ee, ok := err.(*exec.ExitError); ok {
			return ee.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// buildEnv returns the process environment with the executable's directory
// prepended to PATH, so engine helpers living next to the binary resolve.
func buildEnv(executable string) []string {
	env := os.Environ()
	dir := filepath.Dir(executable)
	if dir == "" || dir == "." {
		return env
	}
	for i, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			env[i] = "PATH=" + dir + string(os.PathListSeparator) + kv[len("PATH="):]
			return env
		}
	}
	return append(env, "PATH="+dir)
}
