//go:build !unix

package spa

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminate(cmd *exec.Cmd) {
	_ = cmd.Process.Signal(os.Interrupt)
}

func kill(cmd *exec.Cmd) {
	_ = cmd.Process.Kill()
}
