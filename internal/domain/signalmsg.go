package domain

import "github.com/pion/webrtc/v3"

const (
	SignalJoined       = "joined"
	SignalOffer        = "offer"
	SignalAnswer       = "answer"
	SignalICECandidate = "ice-candidate"
	SignalLeave        = "leave"
	SignalPeerLeft     = "peer-left"
	SignalError        = "error"
)

// SignalMessage is the conferencing signalling envelope exchanged with the
// AV provider's signalling endpoint.
type SignalMessage struct {
	Type      string                     `json:"type"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Room      string                     `json:"room,omitempty"`
	SenderID  string                     `json:"sender_id,omitempty"`
	TargetID  string                     `json:"target_id,omitempty"`
	Payload   map[string]any             `json:"payload,omitempty"`
	Error     string                     `json:"error,omitempty"`
}
