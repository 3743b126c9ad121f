//go:build windows

package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
)

// process is one running child. Windows has no pty support here; output is
// captured through pipes instead.
type process struct {
	cmd    *exec.Cmd
	output io.Reader
	waited chan error
}

func startProcess(command []string, dir string, env []string) (*process, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &process{
		cmd:    cmd,
		output: stdout,
		waited: make(chan error, 1),
	}
	go func() {
		proc.waited <- cmd.Wait()
	}()
	return proc, nil
}

func (p *process) pid() string {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return ""
	}
	return strconv.Itoa(p.cmd.Process.Pid)
}

func (p *process) stop() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	_ = p.cmd.Process.Kill()
	<-p.waited
	return nil
}
