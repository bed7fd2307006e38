// Package rtp terminates the per-call RTP media stream sent by the PBX's
// external-media channel.
//
// The receiver binds one UDP socket on loopback with an ephemeral port,
// strips the fixed 12-byte RTP header from each datagram, and hands the
// remaining audio payload to a callback. It performs no jitter buffering,
// reordering or codec work; the payload is forwarded in arrival order.
package rtp

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

const (
	// headerSize is the fixed RTP header size (no CSRCs, no extensions).
	headerSize = 12

	// maxDatagram is the largest datagram the receiver accepts. G.711 at
	// 20ms ptime is 172 bytes on the wire; anything near the read buffer
	// size indicates a misconfigured sender.
	maxDatagram = 4096
)

// PayloadFunc receives one RTP payload together with its source address.
// It is invoked from the receiver's read goroutine.
type PayloadFunc func(payload []byte, src *net.UDPAddr)

// Receiver owns one UDP socket for the lifetime of a call.
type Receiver struct {
	conn *net.UDPConn
	fn   PayloadFunc

	stopOnce sync.Once
	done     chan struct{}
}

// Listen binds a UDP socket on host with an ephemeral port and starts the
// read loop. The returned receiver's Addr reports the bound address for the
// PBX to send media to.
func Listen(host string, fn PayloadFunc) (*Receiver, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host)}
	if addr.IP == nil {
		return nil, fmt.Errorf("rtp: invalid host %q", host)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rtp: bind %s: %w", host, err)
	}

	r := &Receiver{
		conn: conn,
		fn:   fn,
		done: make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

// Addr returns the bound UDP address.
func (r *Receiver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Port returns the bound UDP port.
func (r *Receiver) Port() int {
	return r.Addr().Port
}

// readLoop reads datagrams until the socket is closed. Datagrams shorter
// than the RTP header are dropped. Socket errors end the receiver but the
// owning call decides whether they end the call.
func (r *Receiver) readLoop() {
	buf := make([]byte, maxDatagram)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-r.done:
				// Stopped; the error is the expected closed-socket error.
			default:
				slog.Warn("rtp: read error", "err", err)
			}
			return
		}
		if n < headerSize {
			continue
		}
		payload := make([]byte, n-headerSize)
		copy(payload, buf[headerSize:n])
		r.fn(payload, src)
	}
}

// Stop closes the socket and releases the port. Idempotent.
func (r *Receiver) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		_ = r.conn.Close()
	})
}
