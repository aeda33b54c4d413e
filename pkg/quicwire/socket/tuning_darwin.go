//go:build darwin
// +build darwin

package socket

import (
	"golang.org/x/sys/unix"
)

// applyPlatformOptions applies Darwin-specific socket options.
// Called from Apply() in tuning.go.
func applyPlatformOptions(fd int, cfg *Config) {
	// SO_REUSEPORT exists on Darwin but balances less evenly than the
	// Linux implementation; still useful for multi-loop servers.
	if cfg.ReusePort {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}

	// IP_DONTFRAG - Darwin's per-socket Don't Fragment switch.
	if cfg.DontFragment {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_DONTFRAG, 1)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_DONTFRAG, 1)
	}
}
