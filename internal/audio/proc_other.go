//go:build !unix

package audio

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

// interruptGroup is unsupported without process groups; stop falls through
// to killGroup after its grace period.
func interruptGroup(process *os.Process) error {
	if process == nil {
		return nil
	}
	return process.Signal(os.Interrupt)
}

func killGroup(process *os.Process) error {
	if process == nil {
		return nil
	}
	return process.Kill()
}
