//go:build linux

package device

import (
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/edgebench/edgebench/internal/logger"
)

// Reboot restarts the board. The syscall needs CAP_SYS_BOOT; when it is
// denied the reboot command gets a chance instead.
func Reboot(log logger.Logger) {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		log.Warn("reboot syscall failed, trying reboot command", "error", err)
		if out, cmdErr := exec.Command("reboot").CombinedOutput(); cmdErr != nil {
			log.Error("reboot command failed", "error", cmdErr, "output", string(out))
		}
	}
}
