// Package command runs external tools for the audible and ffmpeg clients.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Spec describes one invocation.
type Spec struct {
	Binary string
	Args   []string
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env entries are appended to the daemon environment.
	Env []string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Binary + " " + strings.Join(s.Args, " "))
}

// Executor abstracts command execution for testability.
type Executor interface {
	// Run streams stdout and stderr lines to onLine until the command exits.
	Run(ctx context.Context, spec Spec, onLine func(string)) error
	// Output returns stdout. Stderr is folded into the error on failure.
	Output(ctx context.Context, spec Spec) ([]byte, error)
}

// ExitError reports a failed command with the tail of its diagnostics.
type ExitError struct {
	Spec   Spec
	Err    error
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Spec.Binary, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Spec.Binary, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// System executes commands with os/exec.
type System struct{}

const stderrTailLines = 20

func (System) Run(ctx context.Context, spec Spec, onLine func(string)) error {
	cmd := build(ctx, spec)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return &ExitError{Spec: spec, Err: err}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tail    []string
		scanErr error
		once    sync.Once
	)
	forward := func(line string, keep bool) {
		mu.Lock()
		if keep {
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
		}
		if onLine != nil {
			onLine(line)
		}
		mu.Unlock()
	}
	scan := func(r io.Reader, keep bool) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Split(scanLinesOrCarriage)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				forward(line, keep)
			}
		}
		if err := scanner.Err(); err != nil {
			once.Do(func() { scanErr = err })
		}
	}

	wg.Add(2)
	go scan(stdout, false)
	go scan(stderr, true)
	wg.Wait()

	if scanErr != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("scan output: %w", scanErr)
	}
	if err := cmd.Wait(); err != nil {
		return &ExitError{Spec: spec, Err: err, Stderr: strings.Join(tail, "\n")}
	}
	return nil
}

func (System) Output(ctx context.Context, spec Spec) ([]byte, error) {
	cmd := build(ctx, spec)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &ExitError{Spec: spec, Err: err, Stderr: lastLines(stderr.String(), stderrTailLines)}
	}
	return out, nil
}

func build(ctx context.Context, spec Spec) *exec.Cmd {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...) //nolint:gosec
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	return cmd
}

// scanLinesOrCarriage splits on \n or \r so progress bars that redraw a line
// still produce one token per update.
func scanLinesOrCarriage(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func lastLines(text string, n int) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// IsNotFound reports whether err means the binary could not be located.
func IsNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist)
}
