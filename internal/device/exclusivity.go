package device

import (
	"sync"

	"github.com/edgebench/edgebench/internal/protocol"
)

// Exclusivity is the device-execution handle. The hardware cannot
// multiplex inference sessions without corrupting timings, so every
// measurement must acquire it, and there is no queueing: a second
// caller is told device_busy and decides for itself whether to retry.
type Exclusivity struct {
	mu    sync.Mutex
	state protocol.DeviceState
}

func NewExclusivity() *Exclusivity {
	return &Exclusivity{state: protocol.DeviceIdle}
}

// Acquire moves idle -> busy. It never blocks: a busy device reports
// device_busy, a restarting one device_unavailable.
func (x *Exclusivity) Acquire() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	switch x.state {
	case protocol.DeviceIdle:
		x.state = protocol.DeviceBusy
		return nil
	case protocol.DeviceRestarting:
		return protocol.NewError(protocol.KindDeviceUnavailable, "device is restarting")
	default:
		return protocol.NewError(protocol.KindDeviceBusy, "a measurement job is already running")
	}
}

// Release returns the handle to idle after a job finishes.
func (x *Exclusivity) Release() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == protocol.DeviceBusy {
		x.state = protocol.DeviceIdle
	}
}

// HandOffToRestart moves busy -> restarting instead of releasing, for
// reboot-after-measure. The handle stays unavailable until Ready.
func (x *Exclusivity) HandOffToRestart() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.state = protocol.DeviceRestarting
}

// Ready reports the device available again after a restart.
func (x *Exclusivity) Ready() {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.state == protocol.DeviceRestarting {
		x.state = protocol.DeviceIdle
	}
}

func (x *Exclusivity) State() protocol.DeviceState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}
