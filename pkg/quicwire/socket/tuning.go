// Package socket provides cross-platform tuning for the UDP sockets a
// QUIC endpoint rides on.
//
// QUIC handles its own pacing and acknowledgement, so the kernel-side
// levers that matter are the datagram buffer sizes, port sharing across
// event loops, and path-MTU behaviour. Platform-specific options are in
// tuning_linux.go and tuning_darwin.go.
package socket

import (
	"net"
	"syscall"
)

// Config represents UDP socket tuning configuration.
// Zero values mean "use system defaults".
type Config struct {
	// SO_RCVBUF - Receive buffer size in bytes
	// Default: 0 (use system default, typically 128KB-256KB)
	// QUIC endpoints absorb datagram bursts; 1MB+ is common for servers.
	RecvBuffer int

	// SO_SNDBUF - Send buffer size in bytes
	// Default: 0 (use system default)
	SendBuffer int

	// SO_REUSEPORT - Allow multiple sockets to bind the same port
	// (Linux/Darwin only). Lets several event loops share one UDP port.
	ReusePort bool

	// Don't Fragment bit: IP_MTU_DISCOVER on Linux, IP_DONTFRAG on Darwin.
	// QUIC requires datagrams not be fragmented at the IP layer.
	DontFragment bool
}

// DefaultConfig returns the recommended configuration for a QUIC endpoint.
func DefaultConfig() *Config {
	return &Config{
		RecvBuffer:   1024 * 1024, // 1MB receive buffer
		SendBuffer:   1024 * 1024, // 1MB send buffer
		ReusePort:    false,
		DontFragment: true,
	}
}

// Apply applies socket tuning options to a UDP connection.
// Buffer sizing failures are non-critical and ignored; only the raw
// socket access itself can fail.
//
// This should be called immediately after binding the socket.
func Apply(conn *net.UDPConn, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	return rawConn.Control(func(fd uintptr) {
		// SO_RCVBUF - Receive buffer size
		if cfg.RecvBuffer > 0 {
			_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, cfg.RecvBuffer)
		}

		// SO_SNDBUF - Send buffer size
		if cfg.SendBuffer > 0 {
			_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, cfg.SendBuffer)
		}

		// Apply platform-specific options
		applyPlatformOptions(int(fd), cfg)
	})
}
