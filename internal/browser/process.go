package browser

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
)

// Process is a spawned browser
type Process interface {
	Pid() int
	// Terminate asks the process to exit gracefully
	Terminate() error
	Kill() error
	// Wait blocks until the process exits
	Wait() error
}

// Spawner starts browser processes
type Spawner interface {
	Spawn(path string, args []string) (Process, error)
}

// ExecSpawner starts processes with os/exec
type ExecSpawner struct {
	// Env is appended to the parent environment
	Env []string
}

// Spawn starts path with args and returns once the process is running
func (s ExecSpawner) Spawn(path string, args []string) (Process, error) {
	cmd := exec.Command(path, args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd}, nil
}

type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Terminate() error {
	if runtime.GOOS == "windows" {
		return errors.New("graceful termination is not supported on windows")
	}
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}

func (p *execProcess) Wait() error {
	return p.cmd.Wait()
}

// ValidateExecutable checks that path names an existing executable file
func ValidateExecutable(path string) error {
	if path == "" {
		return errors.New("chromium path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("chromium executable not found at %s", path)
		}
		return fmt.Errorf("failed to stat chromium executable: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("chromium path %s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("chromium path %s is not executable", path)
	}
	return nil
}
