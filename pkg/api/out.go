package api

import "github.com/goccy/go-json"

type (
	WelcomeMessage struct {
		Type Type            `json:"type"`
		Id   string          `json:"id"`
		Ice  json.RawMessage `json:"ice,omitempty"`
	}
	JoinedMessage struct {
		Type   Type     `json:"type"`
		RoomId string   `json:"roomId"`
		Peers  []string `json:"peers"`
	}
	PeerMessage struct {
		Type   Type   `json:"type"`
		PeerId string `json:"peerId"`
	}
	// SignalMessage is a delivered offer, answer or candidate.
	SignalMessage struct {
		Type      Type            `json:"type"`
		SenderId  string          `json:"senderId"`
		TargetId  string          `json:"targetId"`
		Sdp       json.RawMessage `json:"sdp,omitempty"`
		Candidate json.RawMessage `json:"candidate,omitempty"`
	}
	ErrorMessage struct {
		Type   Type      `json:"type"`
		Code   ErrorCode `json:"code"`
		Detail string    `json:"detail,omitempty"`
	}
)

func NewWelcome(id string, ice json.RawMessage) WelcomeMessage {
	return WelcomeMessage{Type: Welcome, Id: id, Ice: ice}
}

func NewJoined(room string, peers []string) JoinedMessage {
	if peers == nil {
		peers = []string{}
	}
	return JoinedMessage{Type: Joined, RoomId: room, Peers: peers}
}

func NewPeerJoined(id string) PeerMessage { return PeerMessage{Type: PeerJoined, PeerId: id} }
func NewPeerLeft(id string) PeerMessage   { return PeerMessage{Type: PeerLeft, PeerId: id} }

// NewSignal builds the delivered form of a signal request
// stamped with the id of its sender.
func NewSignal(rq SignalRequest, sender string) SignalMessage {
	m := SignalMessage{Type: rq.T, SenderId: sender, TargetId: rq.TargetId}
	if rq.T == Candidate {
		m.Candidate = rq.Payload
	} else {
		m.Sdp = rq.Payload
	}
	return m
}

func NewError(code ErrorCode, detail string) ErrorMessage {
	return ErrorMessage{Type: Error, Code: code, Detail: detail}
}

// Message is a decoded outbound envelope as seen by a client.
type Message struct {
	Type      Type            `json:"type"`
	Id        string          `json:"id,omitempty"`
	Ice       json.RawMessage `json:"ice,omitempty"`
	RoomId    string          `json:"roomId,omitempty"`
	Peers     []string        `json:"peers,omitempty"`
	PeerId    string          `json:"peerId,omitempty"`
	SenderId  string          `json:"senderId,omitempty"`
	TargetId  string          `json:"targetId,omitempty"`
	Sdp       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Code      ErrorCode       `json:"code,omitempty"`
	Detail    string          `json:"detail,omitempty"`
}

func Encode(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal reads an opaque payload such as sdp or candidate.
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Decode reads an outbound envelope on the client side.
func Decode(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}

// Out builds a client to relay envelope.
func Out(t Type, room, target string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	in := In{Type: t, RoomId: room, TargetId: target}
	if t == Candidate {
		in.Candidate = raw
	} else {
		in.Sdp = raw
	}
	return json.Marshal(in)
}
