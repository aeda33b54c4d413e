// quicwire-demo drives a single QUIC connection over a real UDP socket.
//
// It is a wire-level exerciser, not an HTTP client or server: the TLS
// engine slot is filled with a transcript replayer that emits a
// configured handshake blob and logs whatever the peer sends back.
// Useful for poking a real endpoint's Initial exchange and for watching
// the connection's packet flow with a packet capture running.
//
// Configuration is read from flags, environment (QUICWIRE_*) and an
// optional quicwire-demo.yaml in the working directory.
package main

import (
	"crypto/tls"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/quicwire/pkg/quicwire/quic"
	"github.com/yourusername/quicwire/pkg/quicwire/socket"
)

// transcriptEngine satisfies the connection's TLS engine contract by
// replaying a fixed first flight and logging inbound handshake bytes.
// It never installs traffic keys, so the exchange stays at the Initial
// epoch.
type transcriptEngine struct {
	log         *logrus.Entry
	firstFlight []byte
	extensions  int
}

func (e *transcriptEngine) HandleMessage(input []byte, out *quic.Buffer) error {
	if len(input) == 0 {
		return out.PushBytes(e.firstFlight)
	}
	e.log.WithField("bytes", len(input)).Info("handshake bytes from peer")
	return nil
}

func (e *transcriptEngine) AddHandshakeExtension(extensionType uint16, data []byte) {
	e.extensions++
}

func (e *transcriptEngine) SetCertificate(cert tls.Certificate) {}

func (e *transcriptEngine) SetTrafficKeySink(sink quic.TrafficKeySink) {}

func (e *transcriptEngine) Algorithm() uint16 { return quic.TLS_AES_128_GCM_SHA256 }

func main() {
	pflag.String("remote", "", "peer address for client mode (host:port)")
	pflag.String("listen", ":4433", "bind address for server mode")
	pflag.Bool("client", false, "run as client")
	pflag.String("first-flight", "", "hex handshake blob to send as the first flight")
	pflag.Int("recv-buffer", 0, "UDP receive buffer size (0 = tuned default)")
	pflag.String("log-level", "info", "log level")
	pflag.Parse()

	v := viper.New()
	_ = v.BindPFlags(pflag.CommandLine)
	v.SetEnvPrefix("quicwire")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("quicwire-demo")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logrus.WithError(err).Fatal("reading config")
		}
	}

	level, err := logrus.ParseLevel(v.GetString("log-level"))
	if err != nil {
		logrus.WithError(err).Fatal("parsing log level")
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "quicwire-demo")

	isClient := v.GetBool("client")
	firstFlight, err := hex.DecodeString(v.GetString("first-flight"))
	if err != nil {
		log.WithError(err).Fatal("decoding first flight")
	}

	var conn *net.UDPConn
	var peer *net.UDPAddr
	if isClient {
		peer, err = net.ResolveUDPAddr("udp", v.GetString("remote"))
		if err != nil {
			log.WithError(err).Fatal("resolving remote address")
		}
		conn, err = net.ListenUDP("udp", nil)
	} else {
		var local *net.UDPAddr
		local, err = net.ResolveUDPAddr("udp", v.GetString("listen"))
		if err != nil {
			log.WithError(err).Fatal("resolving listen address")
		}
		conn, err = net.ListenUDP("udp", local)
	}
	if err != nil {
		log.WithError(err).Fatal("binding socket")
	}
	defer conn.Close()

	tuning := socket.DefaultConfig()
	if n := v.GetInt("recv-buffer"); n > 0 {
		tuning.RecvBuffer = n
	}
	if err := socket.Apply(conn, tuning); err != nil {
		log.WithError(err).Warn("socket tuning unavailable")
	}

	cfg := quic.Config{
		IsClient: isClient,
		Engine:   &transcriptEngine{log: log, firstFlight: firstFlight},
	}
	if !isClient {
		// The replayer never reads it, but the connection contract
		// requires a server credential.
		cfg.Certificate = tls.Certificate{Certificate: [][]byte{{0}}}
	}
	qc, err := quic.NewConnection(cfg)
	if err != nil {
		log.WithError(err).Fatal("constructing connection")
	}

	send := func(datagram []byte) {
		var werr error
		if peer != nil {
			_, werr = conn.WriteToUDP(datagram, peer)
		}
		if werr != nil {
			log.WithError(werr).Error("sending datagram")
			return
		}
		log.WithField("bytes", len(datagram)).Debug("datagram sent")
	}

	if isClient {
		if err := qc.ConnectionMade(); err != nil {
			log.WithError(err).Fatal("starting handshake")
		}
		qc.Drain(send)
	}

	log.WithField("addr", conn.LocalAddr().String()).Info("pumping datagrams")
	for {
		bb := bytebufferpool.Get()
		if cap(bb.B) < 2048 {
			bb.B = make([]byte, 2048)
		}
		bb.B = bb.B[:2048]

		_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, from, err := conn.ReadFromUDP(bb.B)
		if err != nil {
			bytebufferpool.Put(bb)
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				log.Info("idle, exiting")
				return
			}
			log.WithError(err).Fatal("reading datagram")
		}
		if peer == nil {
			peer = from
		}

		if err := qc.DatagramReceived(bb.B[:n]); err != nil {
			log.WithError(err).Error("engine fault")
		}
		bytebufferpool.Put(bb)

		qc.Drain(send)
	}
}
