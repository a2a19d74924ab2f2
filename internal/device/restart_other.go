//go:build !linux

package device

import (
	"os/exec"

	"github.com/edgebench/edgebench/internal/logger"
)

// Reboot restarts the board via the platform reboot command.
func Reboot(log logger.Logger) {
	if out, err := exec.Command("reboot").CombinedOutput(); err != nil {
		log.Error("reboot command failed", "error", err, "output", string(out))
	}
}
