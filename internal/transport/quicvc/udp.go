package quicvc

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
)

// udpTransport is the real PacketTransport: one peer's traffic,
// demultiplexed out of a shared UDP socket by remote address (Send) or
// owning a private socket outright (Dial's client side).
type udpTransport struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	// inbox receives datagrams the Listener demuxed to this peer; nil
	// for a dial-side transport, which reads straight off its own socket.
	inbox chan []byte
}

func (t *udpTransport) Send(b []byte) error {
	_, err := t.conn.WriteToUDP(b, t.remote)
	return err
}

func (t *udpTransport) Recv(ctx context.Context) ([]byte, error) {
	if t.inbox == nil {
		buf := make([]byte, 64*1024)
		n, err := t.conn.Read(buf)
		if err != nil {
			return nil, err
		}
		return buf[:n], nil
	}
	select {
	case b, ok := <-t.inbox:
		if !ok {
			return nil, fmt.Errorf("udp transport closed")
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DialUDP opens a private UDP socket to addr and wraps it as a
// PacketTransport for quicvc.Dial.
func DialUDP(addr string) (PacketTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial udp %s: %w", addr, err)
	}
	return &udpTransport{conn: conn, remote: raddr}, nil
}

// Listener owns one UDP socket shared by every inbound peer, demuxing
// datagrams by remote address into a per-peer udpTransport so each
// connection's Conn.Run loop only ever sees its own traffic.
type Listener struct {
	conn   *net.UDPConn
	logger *zap.Logger

	mu    sync.Mutex
	peers map[string]*udpTransport

	onNew func(PacketTransport, *net.UDPAddr)
}

// ListenUDP binds addr and starts demuxing. onNew fires the first time a
// datagram arrives from a previously-unseen remote address — the caller
// hands that transport to quicvc.Accept.
func ListenUDP(addr string, logger *zap.Logger, onNew func(PacketTransport, *net.UDPAddr)) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	l := &Listener{conn: conn, logger: logger, peers: make(map[string]*udpTransport), onNew: onNew}
	go l.readLoop()
	return l, nil
}

func (l *Listener) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			l.logger.Debug("udp listener closed", zap.Error(err))
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		key := raddr.String()
		l.mu.Lock()
		peer, known := l.peers[key]
		if !known {
			peer = &udpTransport{conn: l.conn, remote: raddr, inbox: make(chan []byte, 64)}
			l.peers[key] = peer
		}
		l.mu.Unlock()

		if !known {
			l.onNew(peer, raddr)
		}
		select {
		case peer.inbox <- datagram:
		default:
			l.logger.Warn("dropping datagram, peer inbox full", zap.String("peer", key))
		}
	}
}

// Forget drops a peer's demux entry once its Conn has closed, so a later
// reconnection from the same address is treated as new.
func (l *Listener) Forget(remote *net.UDPAddr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.peers, remote.String())
}

func (l *Listener) Close() error {
	return l.conn.Close()
}
