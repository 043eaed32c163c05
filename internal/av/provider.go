package av

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/immxrtalbeast/streamroom/internal/domain"
	"github.com/immxrtalbeast/streamroom/internal/service"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
	"github.com/pion/webrtc/v3"
)

var (
	ErrJoinRejected    = errors.New("conference join rejected")
	ErrSignalingClosed = errors.New("signalling connection closed")
	ErrHandleClosed    = errors.New("conference handle closed")
	ErrAlreadyJoined   = errors.New("conference handle already joined")
)

// WebRTCProvider joins conference rooms through the signalling hub and keeps
// one receive-only peer connection per remote participant.
type WebRTCProvider struct {
	signalingURL string
	config       webrtc.Configuration
	dialer       *websocket.Dialer
	log          *slog.Logger
}

func NewWebRTCProvider(signalingURL string, stunServers []string, log *slog.Logger) *WebRTCProvider {
	if log == nil {
		log = slog.Default()
	}
	var ice []webrtc.ICEServer
	if len(stunServers) > 0 {
		ice = []webrtc.ICEServer{{URLs: stunServers}}
	}
	return &WebRTCProvider{
		signalingURL: signalingURL,
		config:       webrtc.Configuration{ICEServers: ice},
		dialer:       websocket.DefaultDialer,
		log:          log,
	}
}

// CreateSession binds a handle to token. No network I/O happens until Join.
func (p *WebRTCProvider) CreateSession(ctx context.Context, token string) (service.ConferenceHandle, error) {
	const op = "av.provider.createSession"
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := inspect(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Handle{
		provider: p,
		token:    token,
		claims:   claims,
		log: p.log.With(
			slog.String("room_id", claims.RoomID),
			slog.String("user_id", claims.UserID),
		),
		peers: make(map[string]*webrtc.PeerConnection),
		done:  make(chan struct{}),
	}, nil
}

func (p *WebRTCProvider) endpoint(token string, opts domain.JoinOptions) (string, error) {
	u, err := url.Parse(p.signalingURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	if opts.MaxParticipants > 0 {
		q.Set("max", strconv.Itoa(opts.MaxParticipants))
	}
	if opts.LayoutMode != "" {
		q.Set("layout", opts.LayoutMode)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Handle is a single-use conference session. After Leave, or after a failed
// Join, it cannot be joined again.
type Handle struct {
	provider *WebRTCProvider
	token    string
	claims   *KitClaims
	log      *slog.Logger

	mu      sync.Mutex
	conn    *safeConn
	selfID  string
	peers   map[string]*webrtc.PeerConnection
	closed  bool
	started bool
	done    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (h *Handle) RoomID() string {
	return h.claims.RoomID
}

// PeerID is the id the hub assigned to this handle, empty until joined.
func (h *Handle) PeerID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.selfID
}

// RemotePeers returns the number of remote participants with a live peer
// connection.
func (h *Handle) RemotePeers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Join connects to the signalling hub and returns once the hub has admitted
// this participant to the room.
func (h *Handle) Join(ctx context.Context, opts domain.JoinOptions) error {
	const op = "av.handle.join"

	endpoint, err := h.provider.endpoint(h.token, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	h.mu.Lock()
	switch {
	case h.closed:
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrHandleClosed)
	case h.started:
		h.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrAlreadyJoined)
	}
	h.started = true
	h.mu.Unlock()

	conn, _, err := h.provider.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		_ = h.shutdown(false)
		return fmt.Errorf("%s: %w", op, err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("%s: %w", op, ErrHandleClosed)
	}
	h.conn = newSafeConn(conn)
	h.mu.Unlock()

	confirmed := make(chan error, 1)
	go h.readLoop(h.conn, confirmed)

	select {
	case err := <-confirmed:
		if err != nil {
			_ = h.shutdown(false)
			return fmt.Errorf("%s: %w", op, err)
		}
		h.log.Info("joined conference",
			slog.String("op", op),
			slog.String("peer_id", h.PeerID()),
			slog.String("layout", opts.LayoutMode),
		)
		return nil
	case <-ctx.Done():
		_ = h.shutdown(false)
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// Leave tells the hub this participant is gone and releases every peer
// connection. It is safe to call more than once.
func (h *Handle) Leave(context.Context) error {
	return h.shutdown(true)
}

func (h *Handle) shutdown(sendLeave bool) error {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		conn := h.conn
		peers := h.peers
		h.peers = make(map[string]*webrtc.PeerConnection)
		h.mu.Unlock()

		var errs []error
		for id, pc := range peers {
			if err := pc.Close(); err != nil {
				errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
			}
		}
		if conn != nil {
			if sendLeave {
				_ = conn.WriteJSON(domain.SignalMessage{Type: domain.SignalLeave, Room: h.claims.RoomID})
			}
			_ = conn.closeGracefully()
			<-h.done
		}
		h.closeErr = errors.Join(errs...)
	})
	return h.closeErr
}

func (h *Handle) readLoop(conn *safeConn, confirmed chan<- error) {
	defer close(h.done)

	pending := true
	settle := func(err error) {
		if pending {
			pending = false
			confirmed <- err
		}
	}

	for {
		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			settle(fmt.Errorf("%w: %v", ErrSignalingClosed, err))
			return
		}

		switch msg.Type {
		case domain.SignalJoined:
			if self, _ := msg.Payload["self"].(bool); self {
				h.mu.Lock()
				h.selfID = msg.SenderID
				h.mu.Unlock()
				settle(nil)
				continue
			}
			h.offer(msg.SenderID)
		case domain.SignalOffer:
			h.answer(msg)
		case domain.SignalAnswer:
			h.accept(msg)
		case domain.SignalICECandidate:
			h.candidate(msg)
		case domain.SignalPeerLeft:
			h.drop(msg.SenderID)
		case domain.SignalError:
			if pending {
				settle(fmt.Errorf("%w: %s", ErrJoinRejected, msg.Error))
				return
			}
			h.log.Warn("signalling error", slog.String("error", msg.Error))
		}
	}
}

func (h *Handle) send(msg domain.SignalMessage) {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return
	}
	msg.Room = h.claims.RoomID
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug("signal write failed", slog.String("type", msg.Type), sl.Err(err))
	}
}

func (h *Handle) peerConnection(remoteID string, create bool) (*webrtc.PeerConnection, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHandleClosed
	}
	if pc, ok := h.peers[remoteID]; ok || !create {
		return pc, nil
	}

	pc, err := webrtc.NewPeerConnection(h.provider.config)
	if err != nil {
		return nil, err
	}
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			_ = pc.Close()
			return nil, err
		}
	}

	log := h.log.With(slog.String("remote_peer", remoteID))
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		h.send(domain.SignalMessage{Type: domain.SignalICECandidate, Candidate: &init, TargetID: remoteID})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug("peer connection state", slog.String("state", state.String()))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Info("remote track", slog.String("kind", track.Kind().String()))
	})

	h.peers[remoteID] = pc
	return pc, nil
}

func (h *Handle) offer(remoteID string) {
	pc, err := h.peerConnection(remoteID, true)
	if err != nil {
		h.log.Warn("cannot create peer connection", sl.Err(err))
		return
	}
	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err != nil {
		h.log.Warn("cannot create offer", slog.String("remote_peer", remoteID), sl.Err(err))
		return
	}
	h.send(domain.SignalMessage{Type: domain.SignalOffer, SDP: &offer, TargetID: remoteID})
}

func (h *Handle) answer(msg domain.SignalMessage) {
	if msg.SDP == nil {
		return
	}
	pc, err := h.peerConnection(msg.SenderID, true)
	if err != nil {
		h.log.Warn("cannot create peer connection", sl.Err(err))
		return
	}
	if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
		h.log.Warn("cannot apply offer", slog.String("remote_peer", msg.SenderID), sl.Err(err))
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err == nil {
		err = pc.SetLocalDescription(answer)
	}
	if err != nil {
		h.log.Warn("cannot create answer", slog.String("remote_peer", msg.SenderID), sl.Err(err))
		return
	}
	h.send(domain.SignalMessage{Type: domain.SignalAnswer, SDP: &answer, TargetID: msg.SenderID})
}

func (h *Handle) accept(msg domain.SignalMessage) {
	if msg.SDP == nil {
		return
	}
	pc, err := h.peerConnection(msg.SenderID, false)
	if err != nil || pc == nil {
		return
	}
	if err := pc.SetRemoteDescription(*msg.SDP); err != nil {
		h.log.Warn("cannot apply answer", slog.String("remote_peer", msg.SenderID), sl.Err(err))
	}
}

func (h *Handle) candidate(msg domain.SignalMessage) {
	if msg.Candidate == nil {
		return
	}
	pc, err := h.peerConnection(msg.SenderID, false)
	if err != nil || pc == nil {
		return
	}
	if err := pc.AddICECandidate(*msg.Candidate); err != nil {
		h.log.Debug("candidate rejected", slog.String("remote_peer", msg.SenderID), sl.Err(err))
	}
}

func (h *Handle) drop(remoteID string) {
	h.mu.Lock()
	pc, ok := h.peers[remoteID]
	delete(h.peers, remoteID)
	h.mu.Unlock()
	if ok {
		_ = pc.Close()
	}
}
