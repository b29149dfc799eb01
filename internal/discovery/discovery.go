// Package discovery implements LAN peer discovery: a UDP broadcast
// announce/listen loop on port 49497 (spec.md §4.6) with a peer table
// that evicts entries that have gone quiet.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Port is the discovery broadcast/listen port.
const Port = 49497

const (
	broadcastInterval = 5 * time.Second
	peerExpiry        = 60 * time.Second
	evictInterval     = 10 * time.Second
)

// Announcement is the JSON payload broadcast every interval.
type Announcement struct {
	DeviceID     string   `json:"deviceId"`
	DeviceName   string   `json:"deviceName,omitempty"`
	Capabilities []string `json:"capabilities"`
	Port         uint16   `json:"port"`
	Timestamp    int64    `json:"timestamp,omitempty"`
}

// Peer is a discovered device's current known state.
type Peer struct {
	Announcement
	Address  string
	LastSeen time.Time
}

// Callbacks are invoked as peers appear and disappear. Either may be nil.
type Callbacks struct {
	OnDiscovered func(Peer)
	OnLost       func(deviceID string)
}

// Service runs the announce/listen loop and maintains the peer table.
type Service struct {
	self Announcement

	conn          *net.UDPConn
	broadcastAddr *net.UDPAddr
	logger        *zap.Logger
	callbacks     Callbacks

	mu    sync.Mutex
	peers map[string]Peer
}

// New opens the discovery UDP socket. selfPort is the value advertised
// in this device's own announcements (the port its own transports
// listen on, not the discovery port itself).
func New(deviceID, deviceName string, capabilities []string, selfPort uint16, logger *zap.Logger, callbacks Callbacks) (*Service, error) {
	addr := &net.UDPAddr{Port: Port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery: listen: %w", err)
	}
	broadcastAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("255.255.255.255:%d", Port))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("discovery: resolve broadcast addr: %w", err)
	}
	return &Service{
		self: Announcement{
			DeviceID:     deviceID,
			DeviceName:   deviceName,
			Capabilities: capabilities,
			Port:         selfPort,
		},
		conn:          conn,
		broadcastAddr: broadcastAddr,
		logger:        logger,
		callbacks:     callbacks,
		peers:         make(map[string]Peer),
	}, nil
}

// Run broadcasts announcements and listens for peers until ctx is
// cancelled. It blocks; callers typically run it in a goroutine.
func (s *Service) Run(ctx context.Context) error {
	defer s.conn.Close()

	go s.broadcastLoop(ctx)
	go s.evictLoop(ctx)

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("discovery: read failed", zap.Error(err))
			continue
		}
		s.handleAnnouncement(buf[:n], addr.IP.String())
	}
}

func (s *Service) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(broadcastInterval)
	defer ticker.Stop()
	s.broadcastOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastOnce()
		}
	}
}

func (s *Service) broadcastOnce() {
	ann := s.self
	ann.Timestamp = time.Now().Unix()
	data, err := json.Marshal(ann)
	if err != nil {
		s.logger.Warn("discovery: marshal announcement failed", zap.Error(err))
		return
	}
	if _, err := s.conn.WriteToUDP(data, s.broadcastAddr); err != nil {
		s.logger.Warn("discovery: broadcast failed", zap.Error(err))
	}
}

func (s *Service) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evict(time.Now())
		}
	}
}

// handleAnnouncement parses a raw UDP payload and folds it into the peer
// table, ignoring announcements from this device itself.
func (s *Service) handleAnnouncement(data []byte, fromAddr string) {
	var ann Announcement
	if err := json.Unmarshal(data, &ann); err != nil {
		s.logger.Debug("discovery: ignoring malformed announcement", zap.Error(err))
		return
	}
	if ann.DeviceID == "" || ann.DeviceID == s.self.DeviceID {
		return
	}

	peer := Peer{Announcement: ann, Address: fromAddr, LastSeen: time.Now()}

	s.mu.Lock()
	_, existed := s.peers[ann.DeviceID]
	s.peers[ann.DeviceID] = peer
	s.mu.Unlock()

	if !existed && s.callbacks.OnDiscovered != nil {
		s.callbacks.OnDiscovered(peer)
	}
}

// evict removes peers whose last announcement is older than peerExpiry
// relative to now, emitting OnLost for each.
func (s *Service) evict(now time.Time) {
	var lost []string
	s.mu.Lock()
	for id, p := range s.peers {
		if now.Sub(p.LastSeen) > peerExpiry {
			delete(s.peers, id)
			lost = append(lost, id)
		}
	}
	s.mu.Unlock()

	if s.callbacks.OnLost != nil {
		for _, id := range lost {
			s.callbacks.OnLost(id)
		}
	}
}

// Peers returns a snapshot of the currently known peer table.
func (s *Service) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}
