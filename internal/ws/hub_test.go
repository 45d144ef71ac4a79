package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/the-vow/backend/internal/protocol"
)

// TestHubClientManagement tests Hub client registration and broadcast
func TestHubClientManagement(t *testing.T) {
	hub := NewHub("test-session-1")
	defer hub.Close()

	client1 := NewClient(nil, "test-session-1")
	client2 := NewClient(nil, "test-session-1")

	hub.Register(client1)
	hub.Register(client2)

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}

	testData := []byte("test broadcast message")
	if n := hub.Broadcast(testData, nil); n != 2 {
		t.Errorf("expected delivery to 2 clients, got %d", n)
	}

	received1 := receiveWithTimeoutTest(t, client1, 100*time.Millisecond)
	received2 := receiveWithTimeoutTest(t, client2, 100*time.Millisecond)

	if string(received1) != string(testData) {
		t.Errorf("client1 received wrong data: %s", received1)
	}
	if string(received2) != string(testData) {
		t.Errorf("client2 received wrong data: %s", received2)
	}

	if remaining := hub.Unregister(client1); remaining != 1 {
		t.Errorf("expected 1 client after unregister, got %d", remaining)
	}
	if !client1.IsClosed() {
		t.Error("unregistered client should be closed")
	}
}

func TestHubBroadcastExcludes(t *testing.T) {
	hub := NewHub("s")
	defer hub.Close()

	sender := NewClient(nil, "s")
	peer := NewClient(nil, "s")
	hub.Register(sender)
	hub.Register(peer)

	hub.Broadcast([]byte("hello"), sender)

	if got := receiveWithTimeoutTest(t, peer, 100*time.Millisecond); string(got) != "hello" {
		t.Errorf("peer received %q", got)
	}
	select {
	case msg := <-sender.SendChan():
		t.Errorf("excluded client received %q", msg)
	default:
	}
}

func TestHubBroadcastSkipsClosedClient(t *testing.T) {
	hub := NewHub("s")
	defer hub.Close()

	open := NewClient(nil, "s")
	closed := NewClient(nil, "s")
	hub.Register(open)
	hub.Register(closed)
	closed.Close()

	if n := hub.Broadcast([]byte("x"), nil); n != 1 {
		t.Errorf("expected 1 delivery, got %d", n)
	}
	if closed.Send([]byte("again")) {
		t.Error("send to closed client should report false")
	}
}

func TestClientSlowConsumerEvicted(t *testing.T) {
	client := NewClient(nil, "s")
	for i := 0; i < sendBufferSize; i++ {
		if !client.Send([]byte("x")) {
			t.Fatalf("send %d should be queued", i)
		}
	}

	if client.Send([]byte("overflow")) {
		t.Error("send to full buffer should fail")
	}
	if !client.IsClosed() {
		t.Error("client with full buffer should be closed")
	}
}

func TestClientTouch(t *testing.T) {
	client := NewClient(nil, "s")
	at := time.Unix(1_700_000_000, 0)
	client.Touch(at)
	if !client.LastSeen().Equal(at) {
		t.Errorf("expected last seen %v, got %v", at, client.LastSeen())
	}
	if client.ID() == "" || client.ID() == NewClient(nil, "s").ID() {
		t.Error("connection ids should be unique and non-empty")
	}
}

func TestHubManagerLifecycle(t *testing.T) {
	manager := NewHubManager()
	defer manager.Close()

	a := NewClient(nil, "s1")
	b := NewClient(nil, "s1")
	hub := manager.Register("s1", a)
	if manager.Register("s1", b) != hub {
		t.Fatal("same session should share a hub")
	}
	if manager.SessionCount() != 1 {
		t.Errorf("expected 1 session, got %d", manager.SessionCount())
	}

	manager.Unregister("s1", a)
	if manager.Get("s1") == nil {
		t.Fatal("hub should remain while a client is connected")
	}

	manager.Unregister("s1", b)
	if manager.Get("s1") != nil {
		t.Error("hub should be removed with its last client")
	}

	select {
	case <-hub.worker.Done():
	case <-time.After(time.Second):
		t.Fatal("worker should stop with its hub")
	}

	if err := manager.Submit("s1", func() {}); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped, got %v", err)
	}
}

func TestHubManagerReconnectWaitsForRetiredWriter(t *testing.T) {
	manager := NewHubManager()
	defer manager.Close()

	a := NewClient(nil, "s1")
	manager.Register("s1", a)

	release := make(chan struct{})
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}
	manager.Submit("s1", func() {
		<-release
		record("old")
	})
	manager.Unregister("s1", a)

	b := NewClient(nil, "s1")
	manager.Register("s1", b)
	ran := make(chan struct{})
	if err := manager.Submit("s1", func() {
		record("new")
		close(ran)
	}); err != nil {
		t.Fatalf("submit on the new hub: %v", err)
	}

	select {
	case <-ran:
		t.Fatal("new writer ran while the retired writer still had queued work")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("new writer never started")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "old" || order[1] != "new" {
		t.Errorf("expected [old new], got %v", order)
	}
}

func TestHubManagerShutdownWaitsForQueuedJobs(t *testing.T) {
	manager := NewHubManager()
	manager.Register("s1", NewClient(nil, "s1"))

	retired := NewClient(nil, "s2")
	manager.Register("s2", retired)

	var finished sync.WaitGroup
	finished.Add(2)
	var done [2]bool
	manager.Submit("s1", func() {
		time.Sleep(50 * time.Millisecond)
		done[0] = true
		finished.Done()
	})
	manager.Submit("s2", func() {
		time.Sleep(50 * time.Millisecond)
		done[1] = true
		finished.Done()
	})
	manager.Unregister("s2", retired)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !done[0] || !done[1] {
		t.Errorf("shutdown returned before queued jobs finished: %v", done)
	}
	finished.Wait()
}

func TestHubManagerShutdownHonorsDeadline(t *testing.T) {
	manager := NewHubManager()
	manager.Register("s1", NewClient(nil, "s1"))

	release := make(chan struct{})
	defer close(release)
	manager.Submit("s1", func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := manager.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestHubManagerBroadcast(t *testing.T) {
	manager := NewHubManager()
	defer manager.Close()

	a := NewClient(nil, "s1")
	b := NewClient(nil, "s1")
	other := NewClient(nil, "s2")
	manager.Register("s1", a)
	manager.Register("s1", b)
	manager.Register("s2", other)

	msg := protocol.New(protocol.SyncPayload{Phase: protocol.PhaseHold, Timestamp: 1})
	if err := manager.Broadcast("s1", msg, nil); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	want, _ := protocol.Encode(msg)
	for _, c := range []*Client{a, b} {
		if got := receiveWithTimeoutTest(t, c, 100*time.Millisecond); string(got) != string(want) {
			t.Errorf("got %s, want %s", got, want)
		}
	}
	select {
	case got := <-other.SendChan():
		t.Errorf("other session received %s", got)
	default:
	}

	if err := manager.Broadcast("missing", msg, nil); err != nil {
		t.Errorf("broadcast to unknown session should be a no-op, got %v", err)
	}
}

func TestSessionWorkerOrderAndStop(t *testing.T) {
	w := newSessionWorker("s", 4)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 20; i++ {
		i := i
		if err := w.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	w.Stop()
	w.Stop()

	<-w.Done()
	for i, v := range got {
		if v != i {
			t.Fatalf("jobs ran out of order: %v", got)
		}
	}
	if len(got) != 20 {
		t.Errorf("expected queued jobs to drain, ran %d", len(got))
	}

	if err := w.Submit(func() {}); !errors.Is(err, ErrWorkerStopped) {
		t.Errorf("expected ErrWorkerStopped, got %v", err)
	}
}

func TestSessionWorkerSurvivesPanic(t *testing.T) {
	w := newSessionWorker("s", 1)
	defer w.Stop()

	ran := make(chan struct{})
	w.Submit(func() { panic("boom") })
	w.Submit(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("worker stopped after a panicking job")
	}
}

func TestStrokeThrottle(t *testing.T) {
	throttle := NewStrokeThrottle(100 * time.Millisecond)
	base := time.Unix(1_700_000_000, 0)

	if !throttle.Allow("c1", base) {
		t.Fatal("first stroke should pass")
	}
	if throttle.Allow("c1", base.Add(50*time.Millisecond)) {
		t.Error("stroke inside the interval should be dropped")
	}
	if !throttle.Allow("c2", base.Add(50*time.Millisecond)) {
		t.Error("other connections are throttled independently")
	}
	if !throttle.Allow("c1", base.Add(100*time.Millisecond)) {
		t.Error("stroke at the interval boundary should pass")
	}

	throttle.Forget("c1")
	throttle.Forget("c2")
	if throttle.Len() != 0 {
		t.Errorf("expected no tracked connections, got %d", throttle.Len())
	}
}

func receiveWithTimeoutTest(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case msg := <-client.SendChan():
		return msg
	case <-time.After(timeout):
		t.Errorf("timed out waiting for message")
		return nil
	}
}
