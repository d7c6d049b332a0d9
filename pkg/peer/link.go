package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// link is a peer connection with one member of the room.
// Local candidates are held until the description is sent and
// remote ones until the remote description is set, so they never
// overtake the descriptions they belong to.
type link struct {
	id string
	pc *webrtc.PeerConnection
	dc *webrtc.DataChannel

	mu      sync.Mutex
	sent    bool
	local   []webrtc.ICECandidateInit
	pending []webrtc.ICECandidateInit
}

type candidateSender interface {
	Candidate(target string, candidate any) error
}

func (l *link) channel() *webrtc.DataChannel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dc
}

func (l *link) localCandidate(sig candidateSender, c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if !l.sent {
		l.local = append(l.local, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return sig.Candidate(l.id, c)
}

// described flushes the candidates gathered before the local description was sent.
func (l *link) described(sig candidateSender) error {
	l.mu.Lock()
	l.sent = true
	local := l.local
	l.local = nil
	l.mu.Unlock()
	for _, c := range local {
		if err := sig.Candidate(l.id, c); err != nil {
			return err
		}
	}
	return nil
}

func (l *link) remote(sd webrtc.SessionDescription) error {
	if err := l.pc.SetRemoteDescription(sd); err != nil {
		return err
	}
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.mu.Unlock()
	for _, c := range pending {
		if err := l.pc.AddICECandidate(c); err != nil {
			return err
		}
	}
	return nil
}

func (l *link) addCandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.pc == nil || l.pc.RemoteDescription() == nil {
		l.pending = append(l.pending, c)
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()
	return l.pc.AddICECandidate(c)
}

func (l *link) close() {
	if l.pc != nil {
		_ = l.pc.Close()
	}
}
