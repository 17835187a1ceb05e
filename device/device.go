// Package device opens the raw frame devices the tcp core reads from and
// writes to.
package device

import (
	"fmt"

	"github.com/Clouded-Sabre/Raw-TCP/config"
	"github.com/Clouded-Sabre/Raw-TCP/lib"
)

// Open creates the frame device described by cfg. maxFrameSize bounds the
// IPv4 datagrams passed through it.
func Open(cfg config.DeviceConfig, maxFrameSize int) (lib.Device, error) {
	switch cfg.Type {
	case config.DeviceTun:
		return openTun(cfg.Name, false, maxFrameSize)
	case config.DeviceTap:
		return openTun(cfg.Name, true, maxFrameSize)
	case config.DeviceRawIP:
		return openRawIP(cfg.Address)
	}
	return nil, fmt.Errorf("unknown device type %q", cfg.Type)
}
