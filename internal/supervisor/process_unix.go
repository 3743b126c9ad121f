//go:build !windows

package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/creack/pty"
)

const stopGracePeriod = 5 * time.Second

// process is one running child, attached to a pty so tools that check for a
// terminal keep their interactive output.
type process struct {
	cmd    *exec.Cmd
	tty    *os.File
	output io.Reader
	waited chan error
}

func startProcess(command []string, dir string, env []string) (*process, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	// pty.Start forces Setsid, which already puts the child in its own
	// session and process group (pgid == pid). Adding Setpgid on top would
	// make setpgid run after setsid and fail with EPERM on every platform.
	tty, err := pty.Start(cmd)
	if err != nil {
		return nil, err
	}

	proc := &process{
		cmd:    cmd,
		tty:    tty,
		output: tty,
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

// stop terminates the whole process group: SIGTERM first, SIGKILL after the
// grace period.
func (p *process) stop() error {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	defer p.tty.Close()

	pgid := p.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	timer := time.NewTimer(stopGracePeriod)
	defer timer.Stop()
	select {
	case <-p.waited:
		return nil
	case <-timer.C:
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-p.waited
	return nil
}
