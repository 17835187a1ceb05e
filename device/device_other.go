//go:build !linux

package device

import (
	"errors"
	"fmt"

	"github.com/Clouded-Sabre/Raw-TCP/lib"
)

var errUnsupported = errors.New("only supported on linux")

func openTun(name string, tap bool, maxFrameSize int) (lib.Device, error) {
	return nil, fmt.Errorf("tun and tap devices: %w", errUnsupported)
}

func openRawIP(address string) (lib.Device, error) {
	return nil, fmt.Errorf("raw ip sockets: %w", errUnsupported)
}
