package quicvc

import "context"

// PipeTransport is an in-memory PacketTransport, used to connect two Conns
// directly in tests without a real UDP socket — the handshake and framing
// logic is exercised identically either way since Conn only depends on the
// PacketTransport interface.
type PipeTransport struct {
	out chan<- []byte
	in  <-chan []byte
}

// NewPipe returns two connected PacketTransports: writes on one arrive as
// reads on the other.
func NewPipe() (PacketTransport, PacketTransport) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	return &PipeTransport{out: ab, in: ba}, &PipeTransport{out: ba, in: ab}
}

func (p *PipeTransport) Send(b []byte) error {
	cp := append([]byte(nil), b...)
	p.out <- cp
	return nil
}

func (p *PipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
