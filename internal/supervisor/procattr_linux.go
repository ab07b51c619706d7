package supervisor

import "syscall"

// The companion gets its own process group so a terminal interrupt aimed at
// the relay does not reach it directly. Pdeathsig makes the kernel send it
// SIGTERM if the relay dies without running shutdown.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
