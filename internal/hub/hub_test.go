package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeConn records every frame sent to it.
type fakeConn struct {
	mu     sync.Mutex
	frames []Frame
	err    error
	closed bool

	onSend  func(Frame)
	onClose func()
}

func newFakeConn() *fakeConn {
	return &fakeConn{}
}

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	var f Frame
	if err := json.Unmarshal(frame, &f); err != nil {
		return err
	}
	c.frames = append(c.frames, f)
	if c.onSend != nil {
		c.onSend(f)
	}
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	onClose := c.onClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(name string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T) Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatal("expected at least one frame")
	}
	return c.frames[len(c.frames)-1]
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

type recordingJournal struct {
	mu     sync.Mutex
	joins  []string
	leaves []string
	err    error
}

func (j *recordingJournal) RecordJoin(_ context.Context, sessionID, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.joins = append(j.joins, sessionID)
	return j.err
}

func (j *recordingJournal) RecordLeave(_ context.Context, sessionID, _ string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.leaves = append(j.leaves, sessionID)
	return j.err
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(prometheus.NewRegistry(), nil)
}

func frameData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s data %s: %v", f.Event, f.Data, err)
	}
	return v
}

func TestConnectSendsSessionInfoAndBroadcastsJoin(t *testing.T) {
	h := newTestHub(t)
	alice, bob := newFakeConn(), newFakeConn()

	h.Connect(context.Background(), "s1", "alice", alice)
	h.Connect(context.Background(), "s2", "bob", bob)

	info := frameData[SessionInfo](t, bob.events(EventSession)[0])
	if info.SessionID != "s2" || info.Username != "bob" {
		t.Fatalf("unexpected session info %+v", info)
	}

	joins := alice.events(EventAddUser)
	if len(joins) != 1 {
		t.Fatalf("expected alice to see one add_user, got %d", len(joins))
	}
	user := frameData[ConnectedUser](t, joins[0])
	if user.SessionID != "s2" || user.Username != "bob" {
		t.Fatalf("unexpected add_user payload %+v", user)
	}

	if got := len(bob.events(EventAddUser)); got != 0 {
		t.Fatalf("new session must not receive its own add_user, got %d", got)
	}
	if got := testutil.ToFloat64(h.metrics.activeSessions); got != 2 {
		t.Fatalf("expected active sessions gauge 2, got %v", got)
	}
}

func TestDisconnectBroadcastsLeaveOnce(t *testing.T) {
	h := newTestHub(t)
	alice, bob := newFakeConn(), newFakeConn()
	h.Connect(context.Background(), "s1", "alice", alice)
	h.Connect(context.Background(), "s2", "bob", bob)

	if !h.Disconnect(context.Background(), "s2") {
		t.Fatal("expected disconnect of a live session to report true")
	}
	if h.Disconnect(context.Background(), "s2") {
		t.Fatal("expected redundant disconnect to report false")
	}

	leaves := alice.events(EventRemoveUser)
	if len(leaves) != 1 {
		t.Fatalf("expected exactly one remove_user, got %d", len(leaves))
	}
	if left := frameData[UserLeft](t, leaves[0]); left.SessionID != "s2" {
		t.Fatalf("unexpected remove_user payload %+v", left)
	}
	if got := len(bob.events(EventRemoveUser)); got != 0 {
		t.Fatalf("departed session must not receive remove_user, got %d", got)
	}
}

func TestDisconnectUnknownSessionIsNoop(t *testing.T) {
	h := newTestHub(t)
	alice := newFakeConn()
	h.Connect(context.Background(), "s1", "alice", alice)
	alice.reset()

	if h.Disconnect(context.Background(), "ghost") {
		t.Fatal("expected false for unknown session")
	}
	if alice.count() != 0 {
		t.Fatalf("expected no broadcast, got %d frames", alice.count())
	}
	if h.Len() != 1 {
		t.Fatalf("registry changed: %d sessions", h.Len())
	}
}

func TestBroadcastSkipsFailingSessions(t *testing.T) {
	h := newTestHub(t)
	broken, alice := newFakeConn(), newFakeConn()
	broken.err = ErrConnClosed

	h.Connect(context.Background(), "s0", "broken", broken)
	h.Connect(context.Background(), "s1", "alice", alice)
	h.Connect(context.Background(), "s2", "bob", newFakeConn())

	if got := len(alice.events(EventAddUser)); got != 1 {
		t.Fatalf("expected alice to still receive add_user, got %d", got)
	}
}

func TestDirectoryExcludesSelf(t *testing.T) {
	h := newTestHub(t)
	h.Connect(context.Background(), "s1", "alice", newFakeConn())
	bob := newFakeConn()
	h.Connect(context.Background(), "s2", "bob", bob)

	users := h.Directory("s2")
	if len(users) != 1 || users[0] != (ConnectedUser{Username: "alice", SessionID: "s1"}) {
		t.Fatalf("unexpected directory %+v", users)
	}

	h.Disconnect(context.Background(), "s1")
	if users := h.Directory("s2"); len(users) != 0 {
		t.Fatalf("expected empty directory after disconnect, got %+v", users)
	}
}

func TestShowConnectionsAck(t *testing.T) {
	h := newTestHub(t)
	h.Connect(context.Background(), "s1", "alice", newFakeConn())
	bob := newFakeConn()
	h.Connect(context.Background(), "s2", "bob", bob)

	ack := uint64(7)
	h.Dispatch("s2", Frame{Event: EventShowConnections, Ack: &ack})

	reply := bob.last(t)
	if reply.Event != EventAck || reply.Ack == nil || *reply.Ack != 7 {
		t.Fatalf("expected ack 7, got %+v", reply)
	}
	users := frameData[[]ConnectedUser](t, reply)
	if len(users) != 1 || users[0].SessionID != "s1" {
		t.Fatalf("unexpected directory %+v", users)
	}
}

func TestShowConnectionsEmptyIsArray(t *testing.T) {
	h := newTestHub(t)
	alice := newFakeConn()
	h.Connect(context.Background(), "s1", "alice", alice)

	h.Dispatch("s1", Frame{Event: EventShowConnections})

	reply := alice.last(t)
	if reply.Event != EventShowConnections {
		t.Fatalf("expected show_connections event, got %s", reply.Event)
	}
	if string(reply.Data) != "[]" {
		t.Fatalf("expected empty array, got %s", reply.Data)
	}
}

func TestConcurrentConnectsThenOneDisconnect(t *testing.T) {
	h := newTestHub(t)
	observer := newFakeConn()
	h.Connect(context.Background(), "observer", "olivia", observer)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			h.Connect(context.Background(), fmt.Sprintf("s%d", i), fmt.Sprintf("user%d", i), newFakeConn())
		}(i)
	}
	wg.Wait()

	h.Disconnect(context.Background(), "s17")

	users := h.Directory("observer")
	if len(users) != n-1 {
		t.Fatalf("expected %d entries, got %d", n-1, len(users))
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.SessionID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if id == "s17" || id == "observer" {
			t.Fatalf("directory contains excluded id %s", id)
		}
	}
}

func TestJournalReceivesPresence(t *testing.T) {
	journal := &recordingJournal{}
	h := NewHub(prometheus.NewRegistry(), journal)

	h.Connect(context.Background(), "s1", "alice", newFakeConn())
	h.Disconnect(context.Background(), "s1")
	h.Disconnect(context.Background(), "s1")

	if len(journal.joins) != 1 || journal.joins[0] != "s1" {
		t.Fatalf("unexpected joins %v", journal.joins)
	}
	if len(journal.leaves) != 1 || journal.leaves[0] != "s1" {
		t.Fatalf("unexpected leaves %v", journal.leaves)
	}
}

func TestJournalErrorsDoNotAffectRegistry(t *testing.T) {
	journal := &recordingJournal{err: errors.New("disk full")}
	h := NewHub(prometheus.NewRegistry(), journal)

	h.Connect(context.Background(), "s1", "alice", newFakeConn())
	if h.Len() != 1 {
		t.Fatalf("expected session registered despite journal error, got %d", h.Len())
	}
	h.Disconnect(context.Background(), "s1")
	if h.Len() != 0 {
		t.Fatalf("expected session removed despite journal error, got %d", h.Len())
	}
}

func TestRunWaitsForDisconnects(t *testing.T) {
	journal := &recordingJournal{}
	h := NewHub(prometheus.NewRegistry(), journal)

	conns := map[string]*fakeConn{"s1": newFakeConn(), "s2": newFakeConn()}
	for id, c := range conns {
		// Closing a websocket client ends its read loop, which disconnects it.
		c.onClose = func() { go h.Disconnect(context.Background(), id) }
		h.Connect(context.Background(), id, "user-"+id, c)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after all sessions disconnected")
	}

	for id, c := range conns {
		if !c.isClosed() {
			t.Fatalf("expected %s to be closed on shutdown", id)
		}
	}
	if h.Len() != 0 {
		t.Fatalf("expected empty registry after shutdown, got %d", h.Len())
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if len(journal.leaves) != 2 {
		t.Fatalf("expected both leaves journaled before Run returned, got %v", journal.leaves)
	}
}

func TestConnectRefusedAfterShutdown(t *testing.T) {
	h := newTestHub(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	late := newFakeConn()
	h.Connect(context.Background(), "s1", "alice", late)

	if h.Len() != 0 {
		t.Fatalf("expected no sessions after shutdown, got %d", h.Len())
	}
	if !late.isClosed() {
		t.Fatal("expected late connection to be closed")
	}
	if late.count() != 0 {
		t.Fatalf("expected no frames for a refused connection, got %d", late.count())
	}
}

func TestSessionEventPrecedesRegistration(t *testing.T) {
	h := newTestHub(t)
	h.Connect(context.Background(), "s1", "alice", newFakeConn())

	bob := newFakeConn()
	addressable := true
	bob.onSend = func(f Frame) {
		if f.Event == EventSession {
			_, err := h.registry.Get("s2")
			addressable = err == nil
		}
	}
	h.Connect(context.Background(), "s2", "bob", bob)

	if addressable {
		t.Fatal("session was addressable before its session event was sent")
	}
	bob.mu.Lock()
	first := bob.frames[0]
	bob.mu.Unlock()
	if first.Event != EventSession {
		t.Fatalf("expected session as first frame, got %s", first.Event)
	}
	if _, err := h.registry.Get("s2"); err != nil {
		t.Fatalf("expected s2 registered after connect: %v", err)
	}
}

func TestDisconnectObservesSessionDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHub(reg, nil)
	h.Connect(context.Background(), "s1", "alice", newFakeConn())
	h.Disconnect(context.Background(), "s1")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "signal_hub_session_duration_seconds" {
			continue
		}
		if got := mf.GetMetric()[0].GetHistogram().GetSampleCount(); got != 1 {
			t.Fatalf("expected one observation, got %d", got)
		}
		return
	}
	t.Fatal("session duration histogram not registered")
}
