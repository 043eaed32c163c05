package av

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
)

var (
	ErrRoomFull          = errors.New("conference room is full")
	ErrPeerNotFound      = errors.New("peer not found")
	ErrUnsupportedSignal = errors.New("unsupported signal type")
)

const peerEventBuffer = 16

type TokenVerifier interface {
	Verify(raw string) (*KitClaims, error)
}

type peer struct {
	ID          string
	UserID      string
	DisplayName string
	JoinedAt    time.Time
	events      chan domain.SignalMessage
}

func newPeer(claims *KitClaims) *peer {
	return &peer{
		ID:          uuid.NewString(),
		UserID:      claims.UserID,
		DisplayName: claims.UserName,
		JoinedAt:    time.Now().UTC(),
		events:      make(chan domain.SignalMessage, peerEventBuffer),
	}
}

// enqueue drops the event when the peer is not keeping up. Callers hold the
// room lock so events is never closed underneath them.
func (p *peer) enqueue(ev domain.SignalMessage) {
	select {
	case p.events <- ev:
	default:
	}
}

func (p *peer) notice(roomID string) domain.SignalMessage {
	return domain.SignalMessage{
		Type:     domain.SignalJoined,
		Room:     roomID,
		SenderID: p.ID,
		Payload: map[string]any{
			"peer_id":      p.ID,
			"user_id":      p.UserID,
			"display_name": p.DisplayName,
		},
	}
}

type conferenceRoom struct {
	id    string
	mu    sync.RWMutex
	peers map[string]*peer
}

// Hub is the signalling side of the conferencing provider: it admits peers
// holding a valid conference token and relays offers, answers and ICE
// candidates between the peers of a room.
type Hub struct {
	verifier TokenVerifier
	maxPeers int
	log      *slog.Logger

	mu    sync.Mutex
	rooms map[string]*conferenceRoom
}

func NewHub(verifier TokenVerifier, maxPeers int, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		verifier: verifier,
		maxPeers: maxPeers,
		log:      log,
		rooms:    make(map[string]*conferenceRoom),
	}
}

func (h *Hub) Authorize(token string) (*KitClaims, error) {
	const op = "av.hub.authorize"
	claims, err := h.verifier.Verify(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

// Peers returns the number of peers connected to roomID.
func (h *Hub) Peers(roomID string) int {
	h.mu.Lock()
	room, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.peers)
}

func (h *Hub) capacity(requested int) int {
	switch {
	case requested <= 0:
		return h.maxPeers
	case h.maxPeers <= 0 || requested < h.maxPeers:
		return requested
	default:
		return h.maxPeers
	}
}

func (h *Hub) register(claims *KitClaims, requested int) (*peer, error) {
	const op = "av.hub.register"
	log := h.log.With(
		slog.String("op", op),
		slog.String("room_id", claims.RoomID),
		slog.String("user_id", claims.UserID),
	)

	p := newPeer(claims)
	limit := h.capacity(requested)

	h.mu.Lock()
	room, ok := h.rooms[claims.RoomID]
	if !ok {
		room = &conferenceRoom{id: claims.RoomID, peers: make(map[string]*peer)}
		h.rooms[claims.RoomID] = room
	}
	room.mu.Lock()
	if limit > 0 && len(room.peers) >= limit {
		room.mu.Unlock()
		h.mu.Unlock()
		log.Info("room is full", slog.Int("limit", limit))
		return nil, fmt.Errorf("%s: %w", op, ErrRoomFull)
	}
	existing := make([]*peer, 0, len(room.peers))
	for _, other := range room.peers {
		existing = append(existing, other)
	}
	room.peers[p.ID] = p
	for _, other := range existing {
		p.enqueue(other.notice(room.id))
	}
	for _, other := range existing {
		other.enqueue(p.notice(room.id))
	}
	room.mu.Unlock()
	h.mu.Unlock()

	log.Info("peer registered",
		slog.String("peer_id", p.ID),
		slog.Int("peers", len(existing)+1),
	)
	return p, nil
}

func (h *Hub) unregister(roomID, peerID string) error {
	const op = "av.hub.unregister"

	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrPeerNotFound)
	}
	room.mu.Lock()
	p, ok := room.peers[peerID]
	if !ok {
		room.mu.Unlock()
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrPeerNotFound)
	}
	delete(room.peers, peerID)
	close(p.events)
	if len(room.peers) == 0 {
		delete(h.rooms, roomID)
	}
	for _, other := range room.peers {
		other.enqueue(domain.SignalMessage{
			Type:     domain.SignalPeerLeft,
			Room:     roomID,
			SenderID: peerID,
			Payload:  map[string]any{"peer_id": peerID},
		})
	}
	room.mu.Unlock()
	h.mu.Unlock()

	h.log.Info("peer unregistered",
		slog.String("op", op),
		slog.String("room_id", roomID),
		slog.String("peer_id", peerID),
	)
	return nil
}

// HandleSignal relays an offer, answer or candidate from peerID. Messages
// without a target are broadcast to the rest of the room.
func (h *Hub) HandleSignal(roomID, peerID string, msg *domain.SignalMessage) error {
	const op = "av.hub.signal"
	if msg == nil {
		return fmt.Errorf("%s: message is required", op)
	}

	switch msg.Type {
	case domain.SignalOffer, domain.SignalAnswer, domain.SignalICECandidate:
	default:
		return fmt.Errorf("%s: %w: %s", op, ErrUnsupportedSignal, msg.Type)
	}

	h.mu.Lock()
	room, ok := h.rooms[roomID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrPeerNotFound)
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	if _, ok := room.peers[peerID]; !ok {
		return fmt.Errorf("%s: %w", op, ErrPeerNotFound)
	}

	forward := *msg
	forward.Room = roomID
	forward.SenderID = peerID

	if forward.TargetID == "" {
		for id, other := range room.peers {
			if id != peerID {
				other.enqueue(forward)
			}
		}
		return nil
	}
	target, ok := room.peers[forward.TargetID]
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrPeerNotFound)
	}
	target.enqueue(forward)
	return nil
}

// Serve runs one peer connection until the peer leaves, the socket drops or
// ctx is done. The caller has already upgraded conn and authorized claims.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, claims *KitClaims, requested int) error {
	const op = "av.hub.serve"
	log := h.log.With(
		slog.String("op", op),
		slog.String("room_id", claims.RoomID),
		slog.String("user_id", claims.UserID),
	)

	ws := newSafeConn(conn)
	defer ws.Close()

	p, err := h.register(claims, requested)
	if err != nil {
		_ = ws.WriteJSON(domain.SignalMessage{
			Type:  domain.SignalError,
			Room:  claims.RoomID,
			Error: err.Error(),
		})
		return fmt.Errorf("%s: %w", op, err)
	}

	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range p.events {
			if err := ws.WriteJSON(ev); err != nil {
				log.Debug("forward failed", slog.String("peer_id", p.ID), sl.Err(err))
			}
		}
	}()
	defer func() {
		if err := h.unregister(claims.RoomID, p.ID); err != nil {
			log.Warn("unregister failed", sl.Err(err))
		}
		<-forwarded
	}()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	self := p.notice(claims.RoomID)
	self.Payload["self"] = true
	if err := ws.WriteJSON(self); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		var msg domain.SignalMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("peer connection dropped", slog.String("peer_id", p.ID), sl.Err(err))
			}
			return nil
		}
		if msg.Type == domain.SignalLeave {
			log.Info("peer left", slog.String("peer_id", p.ID))
			return nil
		}
		if err := h.HandleSignal(claims.RoomID, p.ID, &msg); err != nil {
			log.Debug("signal rejected", sl.Err(err))
			_ = ws.WriteJSON(domain.SignalMessage{
				Type:  domain.SignalError,
				Room:  claims.RoomID,
				Error: err.Error(),
			})
		}
	}
}
