// Package api defines the signaling protocol spoken between the relay and its clients.
//
// Each message is a JSON-encoded envelope sent as one WebSocket text frame.
// The required field "type" selects the kind of the message and with it the set
// of required fields:
//
//	join-room   client → relay            roomId
//	offer       client → relay → client   targetId, sdp        (+ senderId on delivery)
//	answer      client → relay → client   targetId, sdp        (+ senderId on delivery)
//	candidate   client → relay → client   targetId, candidate  (+ senderId on delivery)
//	welcome     relay → client            id, ice
//	joined      relay → client            roomId, peers
//	peer-joined relay → clients           peerId
//	peer-left   relay → clients           peerId
//	error       relay → client            code, detail
//
// The sdp and candidate values are opaque for the relay and forwarded byte for byte.
//
// Example:
//
//	{"type":"offer","targetId":"cfv68irdrc3ifu3jn6bg","sdp":{"type":"offer","sdp":"v=0..."}}
package api

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type Type string

const (
	JoinRoom   Type = "join-room"
	Offer      Type = "offer"
	Answer     Type = "answer"
	Candidate  Type = "candidate"
	Welcome    Type = "welcome"
	Joined     Type = "joined"
	PeerJoined Type = "peer-joined"
	PeerLeft   Type = "peer-left"
	Error      Type = "error"
)

func (t Type) String() string { return string(t) }

// IsSignal tells if messages of the type are routed to a single target.
func (t Type) IsSignal() bool { return t == Offer || t == Answer || t == Candidate }

// ErrorCode is a client-visible reason of a rejected message.
type ErrorCode string

const (
	CodeUnjoined        ErrorCode = "unjoined"
	CodeJoinedElsewhere ErrorCode = "already-joined-elsewhere"
	CodeTargetNotFound  ErrorCode = "target-not-found"
	CodeMalformed       ErrorCode = "malformed"
)

// MaxRoomIdLen limits the length of client supplied room names.
const MaxRoomIdLen = 128

var ErrMalformed = errors.New("malformed")

// In is a raw inbound envelope.
// Unknown fields, including any client-sent senderId, are ignored.
type In struct {
	Type      Type            `json:"type"`
	RoomId    string          `json:"roomId,omitempty"`
	TargetId  string          `json:"targetId,omitempty"`
	Sdp       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Request is one of the validated inbound messages: JoinRoomRequest or SignalRequest.
type Request interface {
	Kind() Type
}

type JoinRoomRequest struct {
	RoomId string
}

// SignalRequest is an offer, an answer or a candidate addressed to TargetId.
type SignalRequest struct {
	T        Type
	TargetId string
	Payload  json.RawMessage
}

func (JoinRoomRequest) Kind() Type { return JoinRoom }
func (r SignalRequest) Kind() Type { return r.T }

// Parse decodes and validates an inbound envelope.
// All the returned errors wrap ErrMalformed.
func Parse(data []byte) (Request, error) {
	var in In
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return in.Validate()
}

// Validate converts the raw envelope into its typed form.
func (in In) Validate() (Request, error) {
	switch in.Type {
	case JoinRoom:
		if in.RoomId == "" {
			return nil, fmt.Errorf("%w: join-room without roomId", ErrMalformed)
		}
		if len(in.RoomId) > MaxRoomIdLen {
			return nil, fmt.Errorf("%w: roomId is longer than %v", ErrMalformed, MaxRoomIdLen)
		}
		return JoinRoomRequest{RoomId: in.RoomId}, nil
	case Offer, Answer:
		if in.TargetId == "" {
			return nil, fmt.Errorf("%w: %v without targetId", ErrMalformed, in.Type)
		}
		if isAbsent(in.Sdp) {
			return nil, fmt.Errorf("%w: %v without sdp", ErrMalformed, in.Type)
		}
		return SignalRequest{T: in.Type, TargetId: in.TargetId, Payload: in.Sdp}, nil
	case Candidate:
		if in.TargetId == "" {
			return nil, fmt.Errorf("%w: candidate without targetId", ErrMalformed)
		}
		if isAbsent(in.Candidate) {
			return nil, fmt.Errorf("%w: candidate without candidate", ErrMalformed)
		}
		return SignalRequest{T: in.Type, TargetId: in.TargetId, Payload: in.Candidate}, nil
	case "":
		return nil, fmt.Errorf("%w: no type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, in.Type)
	}
}

func isAbsent(v json.RawMessage) bool {
	return len(v) == 0 || bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}
