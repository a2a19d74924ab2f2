package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecRuntime drives an external inference runner. The runner is
// started with the artifact path as its last argument, performs one
// inference pass per "run" line on stdin, and answers each with the
// elapsed microseconds on stdout.
type ExecRuntime struct {
	// Path is the runner executable.
	Path string
	// Args are prepended before the artifact path.
	Args []string
}

func (r *ExecRuntime) Open(ctx context.Context, artifactPath string) (Session, error) {
	if _, err := os.Stat(artifactPath); err != nil {
		return nil, fmt.Errorf("artifact path: %w", err)
	}

	args := append(append([]string(nil), r.Args...), artifactPath)
	cmd := exec.CommandContext(ctx, r.Path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("runner stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("runner stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start runner %s: %w", r.Path, err)
	}

	return &execSession{
		cmd:    cmd,
		stdin:  stdin,
		out:    bufio.NewScanner(stdout),
		stderr: &stderr,
	}, nil
}

type execSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *bufio.Scanner
	stderr *bytes.Buffer
}

func (s *execSession) RunOnce(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if _, err := io.WriteString(s.stdin, "run\n"); err != nil {
		return 0, s.fail("write run command", err)
	}
	if !s.out.Scan() {
		err := s.out.Err()
		if err == nil {
			err = io.EOF
		}
		return 0, s.fail("read pass result", err)
	}
	micros, err := strconv.ParseInt(strings.TrimSpace(s.out.Text()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("runner reported %q, want elapsed microseconds: %w", s.out.Text(), err)
	}
	return time.Duration(micros) * time.Microsecond, nil
}

func (s *execSession) fail(op string, err error) error {
	if diag := strings.TrimSpace(s.stderr.String()); diag != "" {
		return fmt.Errorf("%s: %w; runner said: %s", op, err, diag)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *execSession) Close() error {
	_ = s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("runner exit: %w", err)
	}
	return nil
}

// ExecCompiler shells out to the device toolchain. The command receives
// the model, calibration directory, output directory, and target as
// flags; its stderr is attached to compile failures as the diagnostic.
type ExecCompiler struct {
	Path    string
	Version string
}

func (c *ExecCompiler) Compile(ctx context.Context, spec CompileSpec) (CompileOutput, error) {
	cmd := exec.CommandContext(ctx, c.Path,
		"--model", spec.ModelPath,
		"--calibration-dir", spec.CalibrationDir,
		"--output-dir", spec.OutputDir,
		"--target", spec.Target,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			return CompileOutput{}, fmt.Errorf("compiler %s: %w", c.Path, err)
		}
		return CompileOutput{}, fmt.Errorf("compiler %s: %w: %s", c.Path, err, diag)
	}
	return CompileOutput{Target: spec.Target, CompilerVersion: c.Version}, nil
}
