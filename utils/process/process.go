package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

const stderrTail = 2048

type Result struct {
	Path     string
	ExitCode int
	Stderr   string
	Duration time.Duration
}

// Run executes name with args in dir, wired to the current terminal. A
// non-zero exit is reported in Result, not as an error; the error is only
// set when the command could not be run at all.
func Run(dir, name string, args []string) (Result, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("failed to find %s: %w", name, err)
	}

	tail := &tailBuffer{limit: stderrTail}

	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = io.MultiWriter(os.Stderr, tail)
	cmd.Stdin = os.Stdin

	start := time.Now()
	err = cmd.Run()
	result := Result{
		Path:     path,
		Stderr:   tail.String(),
		Duration: time.Since(start),
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		result.ExitCode = exitErr.ExitCode()
	default:
		result.ExitCode = -1
		return result, fmt.Errorf("failed to run %s: %w", name, err)
	}
	return result, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
