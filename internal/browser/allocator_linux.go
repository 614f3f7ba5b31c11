//go:build linux

package browser

import (
	"os/exec"
	"sync"
	"syscall"

	"github.com/chromedp/chromedp"
	"golang.org/x/sys/unix"
)

// chromeProcs records the process group of every Chrome we start so Close can
// reap renderer and GPU helpers that outlive the main process.
var chromeProcs sync.Map // map[*exec.Cmd]struct{}

// processOptions starts Chrome in its own process group and ties it to our
// lifetime with a parent-death signal.
func processOptions() []chromedp.ExecAllocatorOption {
	return []chromedp.ExecAllocatorOption{
		chromedp.ModifyCmdFunc(func(cmd *exec.Cmd) {
			cmd.SysProcAttr = &syscall.SysProcAttr{
				Setpgid:   true,
				Pdeathsig: unix.SIGKILL,
			}
			chromeProcs.Store(cmd, struct{}{})
		}),
	}
}

// killProcessGroups sends SIGKILL to the group of every recorded Chrome.
func killProcessGroups() {
	chromeProcs.Range(func(key, _ any) bool {
		cmd := key.(*exec.Cmd)
		if cmd.Process != nil {
			// The group id equals the leader's pid; ESRCH means it is already gone.
			_ = unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		}
		chromeProcs.Delete(key)
		return true
	})
}
