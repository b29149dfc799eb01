package quicvc

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalith-99/coreoled/internal/canon"
	"github.com/lalith-99/coreoled/internal/coreerr"
	"github.com/lalith-99/coreoled/internal/credential"
	"github.com/lalith-99/coreoled/internal/identity"
)

// State is one of the five connection states spec.md §4.5 names.
type State int

const (
	StateInitial State = iota
	StateHandshake
	StateEstablished
	StateClosing
	StateClosed
)

const (
	handshakeTimeout   = 5 * time.Second
	idleTimeout        = 120 * time.Second
	heartbeatInterval  = 30 * time.Second
	maxDecryptFailures = 3
)

// PacketTransport sends and receives whole datagrams — satisfied by a
// *net.UDPConn wrapper bound to one peer, or an in-memory pipe in tests.
type PacketTransport interface {
	Send(b []byte) error
	Recv(ctx context.Context) ([]byte, error)
}

// CredentialVerifier is the subset of *credential.Manager the handshake
// needs: signature/expiry/revocation verification plus issuer trust.
type CredentialVerifier interface {
	Verify(ctx context.Context, vc credential.VerifiableCredential) error
	TrustLevelOf(ctx context.Context, subject identity.PersonID) (credential.TrustLevel, error)
}

// Conn is one QUIC-VC connection: single-threaded cooperative per spec.md
// §5 — all packet processing for this connection runs sequentially through
// its Run loop, never concurrently with Send.
type Conn struct {
	transport PacketTransport
	role      Role
	verifier  CredentialVerifier
	logger    *zap.Logger

	localVC  credential.VerifiableCredential
	remoteVC credential.VerifiableCredential

	dcid, scid         ConnectionID
	peerDCID, peerSCID ConnectionID

	localChallenge  [32]byte
	remoteChallenge [32]byte

	initialKeys   directionalKeys
	handshakeKeys directionalKeys
	appKeys       directionalKeys

	mu                         sync.Mutex
	state                      State
	sendPN                     uint64
	recvPN                     uint64 // largest authenticated PROTECTED packet number seen so far
	recvPNSet                  bool
	replay                     *replayWindow
	consecutiveDecryptFailures int
	closeReason                CloseReason

	onStream func([]byte)
}

func randomChallenge() ([32]byte, error) {
	var c [32]byte
	if _, err := rand.Read(c[:]); err != nil {
		return c, fmt.Errorf("quicvc: generate challenge: %w", err)
	}
	return c, nil
}

func serializeVC(vc credential.VerifiableCredential) ([]byte, error) {
	return canon.Serialize(vc)
}

func vcDigest(vc credential.VerifiableCredential) ([]byte, error) {
	h, err := vc.ContentHash()
	if err != nil {
		return nil, err
	}
	return h[:], nil
}

// initialInfo is derived solely from the client's INITIAL contents, so
// both sides can compute it independently at the point each has seen that
// one packet — client right after sending it, server right after
// receiving it.
func initialInfo(clientChallenge [32]byte, clientVC credential.VerifiableCredential) ([]byte, error) {
	digest, err := vcDigest(clientVC)
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, clientChallenge[:]...), digest...), nil
}

// postResponseInfo folds in both challenges and both credentials, and is
// used for the handshake and application generations once both sides have
// exchanged VC_INIT and VC_RESPONSE.
func postResponseInfo(clientChallenge, serverChallenge [32]byte, clientVC, serverVC credential.VerifiableCredential) ([]byte, error) {
	cd, err := vcDigest(clientVC)
	if err != nil {
		return nil, err
	}
	sd, err := vcDigest(serverVC)
	if err != nil {
		return nil, err
	}
	info := append([]byte{}, clientChallenge[:]...)
	info = append(info, serverChallenge[:]...)
	info = append(info, cd...)
	info = append(info, sd...)
	return info, nil
}

// Dial performs the client side of the handshake (spec.md §4.5 steps 1–3)
// and returns an established Conn ready for SendStream/Run.
func Dial(ctx context.Context, transport PacketTransport, localVC credential.VerifiableCredential, verifier CredentialVerifier, logger *zap.Logger) (*Conn, error) {
	c := &Conn{transport: transport, role: RoleInitiator, verifier: verifier, logger: logger, localVC: localVC, state: StateInitial, replay: newReplayWindow()}

	var err error
	c.scid, err = NewConnectionID()
	if err != nil {
		return nil, err
	}
	c.dcid, err = NewConnectionID()
	if err != nil {
		return nil, err
	}
	c.localChallenge, err = randomChallenge()
	if err != nil {
		return nil, err
	}

	credBytes, err := serializeVC(localVC)
	if err != nil {
		return nil, err
	}
	initFrame := Frame{Type: FrameVCInit, Payload: EncodeVCHandshake(VCHandshakePayload{
		Credential: credBytes, Challenge: c.localChallenge, Timestamp: time.Now(),
	})}
	framePayload, err := EncodeFrames([]Frame{initFrame})
	if err != nil {
		return nil, err
	}
	pkt, err := EncodePacket(Header{Type: PacketInitial, Version: Version, DCID: c.dcid, SCID: c.scid, PacketNumber: 0}, framePayload)
	if err != nil {
		return nil, err
	}
	if err := transport.Send(pkt); err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindTimeout, err)
	}

	info, err := initialInfo(c.localChallenge, localVC)
	if err != nil {
		return nil, err
	}
	c.initialKeys = deriveKeys(GenInitial, info, RoleInitiator)
	c.state = StateHandshake

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	respPkt, err := transport.Recv(hctx)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindTimeout, fmt.Errorf("handshake timeout: %w", err))
	}
	hdr, payload, err := DecodeHeader(respPkt)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, err)
	}
	if hdr.Type != PacketHandshake {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, fmt.Errorf("expected HANDSHAKE packet, got type %d", hdr.Type))
	}
	c.peerDCID, c.peerSCID = hdr.DCID, hdr.SCID

	plain, err := c.initialKeys.open(0, payload)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindDecryptionFailure, err)
	}
	frames, err := DecodeFrames(plain)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, err)
	}
	var respFrame *Frame
	for i := range frames {
		if frames[i].Type == FrameVCResp {
			respFrame = &frames[i]
			break
		}
	}
	if respFrame == nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, fmt.Errorf("no VC_RESPONSE frame in handshake packet"))
	}
	resp, err := DecodeVCHandshake(respFrame.Payload)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, err)
	}
	if resp.AckChallenge == nil || *resp.AckChallenge != c.localChallenge {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, fmt.Errorf("ack challenge mismatch"))
	}
	remoteVC, err := credential.DecodeVC(resp.Credential)
	if err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, err)
	}
	if err := c.verifier.Verify(ctx, remoteVC); err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, err)
	}
	if level, err := c.verifier.TrustLevelOf(ctx, remoteVC.Issuer); err != nil || level == credential.TrustBlocked {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindInvalidCredential, fmt.Errorf("untrusted issuer"))
	}
	c.remoteVC = remoteVC
	c.remoteChallenge = resp.Challenge

	postInfo, err := postResponseInfo(c.localChallenge, c.remoteChallenge, localVC, remoteVC)
	if err != nil {
		return nil, err
	}
	c.handshakeKeys = deriveKeys(GenHandshake, postInfo, RoleInitiator)
	c.appKeys = deriveKeys(GenApplication, postInfo, RoleInitiator)

	ackFrame := Frame{Type: FrameVCAck, Payload: EncodeAck(1)}
	ackPayload, err := EncodeFrames([]Frame{ackFrame})
	if err != nil {
		return nil, err
	}
	sealed, err := c.handshakeKeys.seal(1, ackPayload)
	if err != nil {
		return nil, err
	}
	ackPkt, err := EncodePacket(Header{Type: PacketHandshake, Version: Version, DCID: c.peerDCID, SCID: c.scid, PacketNumber: 1}, sealed)
	if err != nil {
		return nil, err
	}
	if err := transport.Send(ackPkt); err != nil {
		return nil, coreerr.New("quicvc.Dial", coreerr.KindTimeout, err)
	}

	c.sendPN = 2
	c.state = StateEstablished
	return c, nil
}

// Accept performs the server side of the handshake (spec.md §4.5 steps
//1–3 from the responder's vantage point), reading the client's INITIAL
// packet from transport and returning an established Conn.
func Accept(ctx context.Context, transport PacketTransport, localVC credential.VerifiableCredential, verifier CredentialVerifier, logger *zap.Logger) (*Conn, error) {
	c := &Conn{transport: transport, role: RoleResponder, verifier: verifier, logger: logger, localVC: localVC, state: StateInitial, replay: newReplayWindow()}

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	initPkt, err := transport.Recv(hctx)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindTimeout, fmt.Errorf("handshake timeout: %w", err))
	}
	hdr, payload, err := DecodeHeader(initPkt)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	if hdr.Type != PacketInitial {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, fmt.Errorf("expected INITIAL packet, got type %d", hdr.Type))
	}
	c.peerDCID, c.peerSCID = hdr.DCID, hdr.SCID

	frames, err := DecodeFrames(payload)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	var initFrame *Frame
	for i := range frames {
		if frames[i].Type == FrameVCInit {
			initFrame = &frames[i]
			break
		}
	}
	if initFrame == nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, fmt.Errorf("no VC_INIT frame in initial packet"))
	}
	init, err := DecodeVCHandshake(initFrame.Payload)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	remoteVC, err := credential.DecodeVC(init.Credential)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	if err := verifier.Verify(ctx, remoteVC); err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	if level, err := verifier.TrustLevelOf(ctx, remoteVC.Issuer); err != nil || level == credential.TrustBlocked {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, fmt.Errorf("untrusted issuer"))
	}
	c.remoteVC = remoteVC
	c.remoteChallenge = init.Challenge

	var genErr error
	c.scid, genErr = NewConnectionID()
	if genErr != nil {
		return nil, genErr
	}
	c.dcid = append(ConnectionID(nil), c.peerSCID...)
	c.localChallenge, genErr = randomChallenge()
	if genErr != nil {
		return nil, genErr
	}

	info, err := initialInfo(init.Challenge, remoteVC)
	if err != nil {
		return nil, err
	}
	c.initialKeys = deriveKeys(GenInitial, info, RoleResponder)
	c.state = StateHandshake

	credBytes, err := serializeVC(localVC)
	if err != nil {
		return nil, err
	}
	ackChallenge := init.Challenge
	respFrame := Frame{Type: FrameVCResp, Payload: EncodeVCHandshake(VCHandshakePayload{
		Credential: credBytes, Challenge: c.localChallenge, AckChallenge: &ackChallenge, Timestamp: time.Now(),
	})}
	respPayload, err := EncodeFrames([]Frame{respFrame})
	if err != nil {
		return nil, err
	}
	sealed, err := c.initialKeys.seal(0, respPayload)
	if err != nil {
		return nil, err
	}
	respPkt, err := EncodePacket(Header{Type: PacketHandshake, Version: Version, DCID: c.peerSCID, SCID: c.scid, PacketNumber: 0}, sealed)
	if err != nil {
		return nil, err
	}
	if err := transport.Send(respPkt); err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindTimeout, err)
	}

	postInfo, err := postResponseInfo(c.remoteChallenge, c.localChallenge, remoteVC, localVC)
	if err != nil {
		return nil, err
	}
	c.handshakeKeys = deriveKeys(GenHandshake, postInfo, RoleResponder)
	c.appKeys = deriveKeys(GenApplication, postInfo, RoleResponder)

	ackPkt, err := transport.Recv(hctx)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindTimeout, fmt.Errorf("waiting for vc ack: %w", err))
	}
	ahdr, apayload, err := DecodeHeader(ackPkt)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	if ahdr.Type != PacketHandshake {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, fmt.Errorf("expected HANDSHAKE ack packet, got type %d", ahdr.Type))
	}
	plain, err := c.handshakeKeys.open(1, apayload)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindDecryptionFailure, err)
	}
	ackFrames, err := DecodeFrames(plain)
	if err != nil {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, err)
	}
	found := false
	for _, f := range ackFrames {
		if f.Type == FrameVCAck {
			found = true
			break
		}
	}
	if !found {
		return nil, coreerr.New("quicvc.Accept", coreerr.KindInvalidCredential, fmt.Errorf("no VC_ACK frame"))
	}

	c.sendPN = 2
	c.state = StateEstablished
	return c, nil
}

// State reports the connection's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RemoteVC returns the verified credential presented by the peer.
func (c *Conn) RemoteVC() credential.VerifiableCredential { return c.remoteVC }

// SendStream sends data as a STREAM frame inside a PROTECTED packet.
// Handshake safety (spec.md §8 property 7): only callable once Established.
func (c *Conn) SendStream(data []byte) error {
	return c.sendProtected([]Frame{{Type: FrameStream, Payload: data}})
}

func (c *Conn) sendProtected(frames []Frame) error {
	c.mu.Lock()
	if c.state != StateEstablished {
		c.mu.Unlock()
		return coreerr.New("quicvc.sendProtected", coreerr.KindTransportClosed, fmt.Errorf("connection not established"))
	}
	pn := c.sendPN
	c.sendPN++
	c.mu.Unlock()

	// The wire header carries only a truncated (1-byte) packet number
	// (spec.md §4.5), but the AEAD nonce must use the full, ever-increasing
	// counter: the receiver reconstructs that same full value from the
	// truncated byte plus its own running count of packets it has already
	// authenticated (reconstructPacketNumber), so sender and receiver agree
	// on the nonce well past 256 packets. Sealing with the truncated value
	// instead would repeat the same nonce for every packet whose count
	// differs by a multiple of 256 — an AEAD nonce-reuse break.
	payload, err := EncodeFrames(frames)
	if err != nil {
		return err
	}
	sealed, err := c.appKeys.seal(pn, payload)
	if err != nil {
		return err
	}
	pkt, err := EncodePacket(Header{Type: PacketProtected, Version: Version, DCID: c.peerDCID, SCID: c.scid, PacketNumber: byte(pn)}, sealed)
	if err != nil {
		return err
	}
	return c.transport.Send(pkt)
}

// Close sends a CLOSE frame (best effort) and marks the connection Closed.
// Close is final; reconnection is a fresh handshake (spec.md §4.5).
func (c *Conn) Close(reason CloseReason) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.closeReason = reason
	c.mu.Unlock()

	_ = c.sendProtected([]Frame{{Type: FrameClose, Payload: EncodeClose(reason)}})

	c.mu.Lock()
	c.state = StateClosed
	c.mu.Unlock()
	return nil
}

// CloseReasonValue returns the reason this connection closed, if any.
func (c *Conn) CloseReasonValue() CloseReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Run processes incoming packets until the context is cancelled or the
// connection closes, dispatching STREAM frames to onStream. It owns the
// heartbeat timer and the idle timeout, and enforces handshake safety and
// the decryption-failure threshold (spec.md §4.5, §8 property 7).
func (c *Conn) Run(ctx context.Context, onStream func([]byte)) error {
	c.onStream = onStream
	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	incoming := make(chan []byte, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			pkt, err := c.transport.Recv(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case incoming <- pkt:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			_ = c.Close(CloseLocal)
			return err
		case <-heartbeat.C:
			if err := c.sendProtected([]Frame{{Type: FrameHeartbeat}}); err != nil {
				return err
			}
		case <-idle.C:
			_ = c.Close(CloseIdleTimeout)
			return coreerr.New("quicvc.Run", coreerr.KindTimeout, fmt.Errorf("idle timeout"))
		case pkt := <-incoming:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleTimeout)
			if err := c.handlePacket(pkt); err != nil {
				if coreerr.Is(err, coreerr.KindDecryptionFailure) {
					c.mu.Lock()
					c.consecutiveDecryptFailures++
					fail := c.consecutiveDecryptFailures >= maxDecryptFailures
					c.mu.Unlock()
					if fail {
						_ = c.Close(CloseDecryptionFailure)
						return err
					}
					continue
				}
				return err
			}
			c.mu.Lock()
			c.consecutiveDecryptFailures = 0
			c.mu.Unlock()
		}
	}
}

func (c *Conn) handlePacket(pkt []byte) error {
	hdr, payload, err := DecodeHeader(pkt)
	if err != nil {
		return coreerr.New("quicvc.handlePacket", coreerr.KindCorruptObject, err)
	}

	// Handshake safety (spec.md §8 property 7): no PROTECTED packet is
	// accepted before the peer's credential is verified.
	if hdr.Type == PacketProtected {
		c.mu.Lock()
		state := c.state
		c.mu.Unlock()
		if state == StateInitial || state == StateHandshake {
			return nil // dropped, not an error
		}
	}

	switch hdr.Type {
	case PacketProtected:
		c.mu.Lock()
		expected := uint64(2) // the first PROTECTED packet either side sends is pn=2
		if c.recvPNSet {
			expected = c.recvPN + 1
		}
		pn := reconstructPacketNumber(expected, hdr.PacketNumber)
		accept := c.replay.Accept(pn)
		c.mu.Unlock()
		if !accept {
			return nil // replayed or too old; silently dropped
		}
		plain, err := c.appKeys.open(pn, payload)
		if err != nil {
			return coreerr.New("quicvc.handlePacket", coreerr.KindDecryptionFailure, err)
		}
		c.mu.Lock()
		if !c.recvPNSet || pn > c.recvPN {
			c.recvPN = pn
			c.recvPNSet = true
		}
		c.mu.Unlock()
		frames, err := DecodeFrames(plain)
		if err != nil {
			return coreerr.New("quicvc.handlePacket", coreerr.KindCorruptObject, err)
		}
		for _, f := range frames {
			switch f.Type {
			case FrameStream:
				if c.onStream != nil {
					c.onStream(f.Payload)
				}
			case FrameClose:
				c.mu.Lock()
				c.closeReason = DecodeClose(f.Payload)
				c.state = StateClosed
				c.mu.Unlock()
				return coreerr.New("quicvc.handlePacket", coreerr.KindTransportClosed, fmt.Errorf("peer closed: %s", f.Payload))
			case FrameHeartbeat, FrameAck, FrameDiscovery:
				// no action needed beyond resetting the idle timer, done by Run
			}
		}
		return nil
	default:
		// INITIAL/HANDSHAKE/RETRY packets after the handshake completes are
		// ignored — a fresh connection is a fresh handshake.
		return nil
	}
}
