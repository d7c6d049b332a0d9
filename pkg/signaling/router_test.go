package signaling

import (
	"errors"
	"sync"
	"testing"

	"github.com/meshrelay/meshrelay/pkg/api"
	"github.com/meshrelay/meshrelay/pkg/logger"
	"github.com/meshrelay/meshrelay/pkg/registry"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeConn struct {
	mu     sync.Mutex
	out    []api.Message
	closed bool
	broken bool
}

func (f *fakeConn) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || f.broken {
		return errors.New("closed")
	}
	m, err := api.Decode(data)
	if err != nil {
		return err
	}
	f.out = append(f.out, m)
	return nil
}

func (f *fakeConn) Close() { f.mu.Lock(); f.closed = true; f.mu.Unlock() }

func (f *fakeConn) isClosed() bool { f.mu.Lock(); defer f.mu.Unlock(); return f.closed }

// take returns and forgets all the messages sent so far.
func (f *fakeConn) take() []api.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.out
	f.out = nil
	return out
}

type client struct {
	*Peer
	conn *fakeConn
}

func newRouter() *Router {
	return NewRouter(registry.New(), []byte(`[{"urls":["stun:stun.l.google.com:19302"]}]`), logger.Nop())
}

func connect(t *testing.T, r *Router) client {
	t.Helper()
	conn := &fakeConn{}
	p := r.Connect(conn)
	msgs := conn.take()
	if len(msgs) != 1 || msgs[0].Type != api.Welcome || msgs[0].Id != p.Id().String() {
		t.Fatalf("no welcome, got %+v", msgs)
	}
	return client{Peer: p, conn: conn}
}

func send(t *testing.T, r *Router, c client, tp api.Type, room, target string, payload any) {
	t.Helper()
	data, err := api.Out(tp, room, target, payload)
	if err != nil {
		t.Fatal(err)
	}
	r.Handle(c.Peer, data)
}

func join(t *testing.T, r *Router, c client, room string) api.Message {
	t.Helper()
	send(t, r, c, api.JoinRoom, room, "", nil)
	msgs := c.conn.take()
	if len(msgs) != 1 || msgs[0].Type != api.Joined {
		t.Fatalf("no joined ack, got %+v", msgs)
	}
	return msgs[0]
}

func expectNone(t *testing.T, cs ...client) {
	t.Helper()
	for _, c := range cs {
		if msgs := c.conn.take(); len(msgs) > 0 {
			t.Errorf("%v got unexpected %+v", c.Id(), msgs)
		}
	}
}

func expectOne(t *testing.T, c client, tp api.Type) api.Message {
	t.Helper()
	msgs := c.conn.take()
	if len(msgs) != 1 || msgs[0].Type != tp {
		t.Fatalf("expected one %v, got %+v", tp, msgs)
	}
	return msgs[0]
}

func expectError(t *testing.T, c client, code api.ErrorCode) {
	t.Helper()
	if m := expectOne(t, c, api.Error); m.Code != code {
		t.Errorf("expected error %v, got %v", code, m.Code)
	}
}

func TestWelcomeIce(t *testing.T) {
	r := newRouter()
	conn := &fakeConn{}
	r.Connect(conn)
	m := conn.take()[0]
	if string(m.Ice) != `[{"urls":["stun:stun.l.google.com:19302"]}]` {
		t.Errorf("wrong ice %s", m.Ice)
	}
}

func TestScenario(t *testing.T) {
	r := newRouter()
	x, y := connect(t, r), connect(t, r)

	if m := join(t, r, x, "viRoom"); len(m.Peers) != 0 || m.RoomId != "viRoom" {
		t.Fatalf("expected empty room, got %+v", m)
	}
	expectNone(t, y)

	if m := join(t, r, y, "viRoom"); len(m.Peers) != 1 || m.Peers[0] != x.Id().String() {
		t.Fatalf("expected [%v], got %v", x.Id(), m.Peers)
	}
	if m := expectOne(t, x, api.PeerJoined); m.PeerId != y.Id().String() {
		t.Errorf("wrong peer %v", m.PeerId)
	}

	sdp := map[string]string{"type": "offer", "sdp": "v=0 S"}
	send(t, r, y, api.Offer, "", x.Id().String(), sdp)
	m := expectOne(t, x, api.Offer)
	if m.SenderId != y.Id().String() || string(m.Sdp) != `{"sdp":"v=0 S","type":"offer"}` {
		t.Errorf("wrong offer %+v / %s", m, m.Sdp)
	}
	expectNone(t, y)

	send(t, r, x, api.Answer, "", y.Id().String(), map[string]string{"sdp": "T"})
	if m := expectOne(t, y, api.Answer); m.SenderId != x.Id().String() || string(m.Sdp) != `{"sdp":"T"}` {
		t.Errorf("wrong answer %+v", m)
	}

	r.Disconnect(y.Peer)
	if m := expectOne(t, x, api.PeerLeft); m.PeerId != y.Id().String() {
		t.Errorf("wrong peer %v", m.PeerId)
	}
	if !y.conn.isClosed() || y.State() != Closed {
		t.Errorf("y is not closed")
	}
	if members := r.rooms.Members("viRoom"); len(members) != 1 || members[0] != x.Id() {
		t.Errorf("wrong members %v", members)
	}
}

func TestUnjoined(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, b, "r")

	for _, tp := range []api.Type{api.Offer, api.Answer, api.Candidate} {
		send(t, r, a, tp, "", b.Id().String(), "x")
		expectError(t, a, api.CodeUnjoined)
	}
	expectNone(t, b)
	if a.State() != Connected {
		t.Errorf("state %v", a.State())
	}
}

func TestJoinedElsewhere(t *testing.T) {
	r := newRouter()
	a := connect(t, r)
	join(t, r, a, "one")
	send(t, r, a, api.JoinRoom, "two", "", nil)
	expectError(t, a, api.CodeJoinedElsewhere)

	if room, _ := r.rooms.RoomOf(a.Id()); room != "one" {
		t.Errorf("moved to %v", room)
	}
	if len(r.rooms.Members("two")) != 0 {
		t.Errorf("room two exists")
	}
}

func TestRejoinSameRoom(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, a, "r")
	join(t, r, b, "r")
	a.conn.take()

	if m := join(t, r, b, "r"); len(m.Peers) != 1 || m.Peers[0] != a.Id().String() {
		t.Errorf("wrong peers %v", m.Peers)
	}
	expectNone(t, a)
	if n := len(r.rooms.Members("r")); n != 2 {
		t.Errorf("expected 2 members, got %v", n)
	}
}

func TestTargetNotFound(t *testing.T) {
	r := newRouter()
	a, b, c, lone := connect(t, r), connect(t, r), connect(t, r), connect(t, r)
	join(t, r, a, "r")
	join(t, r, b, "r")
	join(t, r, c, "other")
	a.conn.take()

	tests := []struct {
		name   string
		target string
	}{
		{name: "garbage", target: "nope"},
		{name: "other room", target: c.Id().String()},
		{name: "not joined", target: lone.Id().String()},
		{name: "self", target: b.Id().String()},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			send(t, r, b, api.Offer, "", test.target, "S")
			expectError(t, b, api.CodeTargetNotFound)
			expectNone(t, a, c, lone)
		})
	}

	r.Disconnect(a.Peer)
	expectOne(t, b, api.PeerLeft)
	send(t, r, b, api.Candidate, "", a.Id().String(), map[string]any{"candidate": "c"})
	expectError(t, b, api.CodeTargetNotFound)
}

func TestMalformed(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, a, "r")
	join(t, r, b, "r")
	a.conn.take()

	for _, data := range []string{
		`{`,
		`{"type":"dance"}`,
		`{"type":"join-room"}`,
		`{"type":"offer","targetId":"` + a.Id().String() + `"}`,
		`{"type":"candidate","targetId":"` + a.Id().String() + `","sdp":{}}`,
	} {
		r.Handle(b.Peer, []byte(data))
		expectError(t, b, api.CodeMalformed)
	}
	expectNone(t, a)
	if b.conn.isClosed() {
		t.Errorf("closed on malformed input")
	}
}

func TestSenderIdOverwritten(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, a, "r")
	join(t, r, b, "r")
	a.conn.take()

	data := `{"type":"candidate","senderId":"forged","targetId":"` + a.Id().String() + `","candidate":{"candidate":"c1","sdpMid":"0"}}`
	r.Handle(b.Peer, []byte(data))
	m := expectOne(t, a, api.Candidate)
	if m.SenderId != b.Id().String() {
		t.Errorf("sender %v", m.SenderId)
	}
	if string(m.Candidate) != `{"candidate":"c1","sdpMid":"0"}` {
		t.Errorf("candidate changed %s", m.Candidate)
	}
}

func TestDepartureIsRoomScoped(t *testing.T) {
	r := newRouter()
	a, b, c, d := connect(t, r), connect(t, r), connect(t, r), connect(t, r)
	for _, cl := range []client{a, b, c} {
		join(t, r, cl, "R")
	}
	join(t, r, d, "D")
	for _, cl := range []client{a, b, c, d} {
		cl.conn.take()
	}

	r.Disconnect(a.Peer)
	r.Disconnect(a.Peer)

	for _, cl := range []client{b, c} {
		if m := expectOne(t, cl, api.PeerLeft); m.PeerId != a.Id().String() {
			t.Errorf("wrong peer %v", m.PeerId)
		}
	}
	expectNone(t, d)

	// late messages of a closed peer are dropped
	send(t, r, a, api.JoinRoom, "D", "", nil)
	expectNone(t, a, b, c, d)
}

func TestDisconnectUnjoined(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, b, "r")
	r.Disconnect(a.Peer)
	expectNone(t, b)
	if r.Peers() != 1 {
		t.Errorf("expected 1 peer, got %v", r.Peers())
	}
}

func TestBrokenTargetIsClosed(t *testing.T) {
	r := newRouter()
	a, b := connect(t, r), connect(t, r)
	join(t, r, a, "r")
	join(t, r, b, "r")
	a.conn.take()

	before := testutil.ToFloat64(droppedCounter)
	a.conn.mu.Lock()
	a.conn.broken = true
	a.conn.mu.Unlock()

	send(t, r, b, api.Offer, "", a.Id().String(), "S")
	expectNone(t, b)
	if !a.conn.isClosed() {
		t.Errorf("broken connection is still open")
	}
	if testutil.ToFloat64(droppedCounter)-before != 1 {
		t.Errorf("send failure is not counted")
	}

	// the reader of a would run the close path now
	r.Disconnect(a.Peer)
	expectOne(t, b, api.PeerLeft)
}

func TestRoomsMetric(t *testing.T) {
	r := newRouter()
	before := testutil.ToFloat64(errorsCounter.WithLabelValues(string(api.CodeUnjoined)))
	a := connect(t, r)
	send(t, r, a, api.Offer, "", "x", "S")
	a.conn.take()
	if d := testutil.ToFloat64(errorsCounter.WithLabelValues(string(api.CodeUnjoined))) - before; d != 1 {
		t.Errorf("expected 1 error, got %v", d)
	}

	join(t, r, a, "m")
	if rooms := r.Rooms(); rooms["m"] != 1 {
		t.Errorf("wrong rooms %v", rooms)
	}
	r.Disconnect(a.Peer)
	if len(r.Rooms()) != 0 {
		t.Errorf("room is not removed")
	}
}

func TestConcurrentJoins(t *testing.T) {
	const n = 50
	r := newRouter()
	clients := make([]client, n)
	for i := range clients {
		clients[i] = connect(t, r)
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c client) {
			defer wg.Done()
			data, _ := api.Out(api.JoinRoom, "crowd", "", nil)
			r.Handle(c.Peer, data)
		}(c)
	}
	wg.Wait()

	// every pair learns about each other exactly once
	// from either the joined list or a peer-joined notice
	for _, c := range clients {
		seen := map[string]int{}
		for _, m := range c.conn.take() {
			switch m.Type {
			case api.Joined:
				for _, id := range m.Peers {
					seen[id]++
				}
			case api.PeerJoined:
				seen[m.PeerId]++
			}
		}
		if len(seen) != n-1 {
			t.Errorf("%v knows %v peers", c.Id(), len(seen))
		}
		for id, k := range seen {
			if k != 1 || id == c.Id().String() {
				t.Errorf("%v learned %v %v times", c.Id(), id, k)
			}
		}
	}
}

func TestSetIce(t *testing.T) {
	r := newRouter()
	r.SetIce([]byte(`[{"urls":["turn:t"]}]`))
	conn := &fakeConn{}
	r.Connect(conn)
	if m := conn.take()[0]; string(m.Ice) != `[{"urls":["turn:t"]}]` {
		t.Errorf("wrong ice %s", m.Ice)
	}
}
