//go:build linux
// +build linux

package socket

import (
	"golang.org/x/sys/unix"
)

// applyPlatformOptions applies Linux-specific socket options.
// Called from Apply() in tuning.go.
func applyPlatformOptions(fd int, cfg *Config) {
	// SO_REUSEPORT - Share the port across event loops.
	// The kernel hashes incoming datagrams by four-tuple, so a given
	// peer consistently reaches the same socket.
	if cfg.ReusePort {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	}

	// IP_MTU_DISCOVER - Set Don't Fragment on outgoing datagrams.
	// A fragmented QUIC datagram fails decryption as a whole, so it is
	// better to have the kernel drop oversized sends immediately.
	if cfg.DontFragment {
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_DO)
		_ = unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_DO)
	}
}
