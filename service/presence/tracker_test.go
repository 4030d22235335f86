package presence

import (
	"sync"
	"testing"
	"time"
)

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func TestFirstConnectEmitsOnline(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(50*time.Millisecond))

	tr.OnConnect("alice")
	evs := log.snapshot()
	if len(evs) != 1 || !evs[0].Online || evs[0].UserID != "alice" {
		t.Fatalf("events=%+v", evs)
	}
	if !tr.IsOnline("alice") {
		t.Fatal("alice should be online")
	}
}

func TestSecondDeviceIsSilent(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(50*time.Millisecond))

	tr.OnConnect("alice")
	tr.OnConnect("alice")
	if evs := log.snapshot(); len(evs) != 1 {
		t.Fatalf("multi-device connect must not re-announce: %+v", evs)
	}
}

func TestReconnectWithinWindowIsSilent(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(60*time.Millisecond))

	tr.OnConnect("alice")
	tr.OnLastDisconnect("alice")

	if tr.StateOf("alice") != PendingOffline {
		t.Fatalf("state=%v", tr.StateOf("alice"))
	}
	if !tr.IsOnline("alice") {
		t.Fatal("pending offline still counts as online")
	}

	// 窗口内回来：整个断开-重连周期对外零事件
	time.Sleep(20 * time.Millisecond)
	tr.OnConnect("alice")

	time.Sleep(120 * time.Millisecond)
	evs := log.snapshot()
	if len(evs) != 1 {
		t.Fatalf("flap inside window leaked events: %+v", evs)
	}
	if tr.StateOf("alice") != Online {
		t.Fatalf("state=%v", tr.StateOf("alice"))
	}
}

func TestDebounceExpiryEmitsSingleOffline(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(40*time.Millisecond))

	tr.OnConnect("alice")
	tr.OnLastDisconnect("alice")

	time.Sleep(120 * time.Millisecond)
	evs := log.snapshot()
	if len(evs) != 2 {
		t.Fatalf("events=%+v", evs)
	}
	if evs[1].Online || evs[1].UserID != "alice" {
		t.Fatalf("second event must be offline: %+v", evs[1])
	}
	if tr.IsOnline("alice") {
		t.Fatal("alice should be offline")
	}
}

func TestOfflineThenReconnectAnnouncesAgain(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(30*time.Millisecond))

	tr.OnConnect("alice")
	tr.OnLastDisconnect("alice")
	time.Sleep(90 * time.Millisecond)

	tr.OnConnect("alice")
	evs := log.snapshot()
	if len(evs) != 3 {
		t.Fatalf("events=%+v", evs)
	}
	if !evs[2].Online {
		t.Fatalf("third event must be online: %+v", evs[2])
	}
}

func TestRepeatedFlapsEmitNothingExtra(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(50*time.Millisecond))

	tr.OnConnect("alice")
	for i := 0; i < 10; i++ {
		tr.OnLastDisconnect("alice")
		time.Sleep(5 * time.Millisecond)
		tr.OnConnect("alice")
	}
	time.Sleep(120 * time.Millisecond)

	if evs := log.snapshot(); len(evs) != 1 {
		t.Fatalf("flapping leaked events: %+v", evs)
	}
}

func TestStaleDisconnectWithLiveConnStaysOnline(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add,
		WithDebounce(30*time.Millisecond),
		WithLiveCheck(func(string) bool { return true }),
	)

	// 快速重连：新连接的 OnConnect 先到，旧连接的 OnLastDisconnect 晚到
	tr.OnConnect("alice")
	tr.OnConnect("alice")
	tr.OnLastDisconnect("alice")

	time.Sleep(90 * time.Millisecond)
	if evs := log.snapshot(); len(evs) != 1 || !evs[0].Online {
		t.Fatalf("stale disconnect must not leak offline: %+v", evs)
	}
	if tr.StateOf("alice") != Online {
		t.Fatalf("state=%v, want Online", tr.StateOf("alice"))
	}
}

func TestLiveCheckFalseStillCommitsOffline(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add,
		WithDebounce(30*time.Millisecond),
		WithLiveCheck(func(string) bool { return false }),
	)

	tr.OnConnect("alice")
	tr.OnLastDisconnect("alice")

	time.Sleep(90 * time.Millisecond)
	evs := log.snapshot()
	if len(evs) != 2 || evs[1].Online {
		t.Fatalf("events=%+v", evs)
	}
	if tr.StateOf("alice") != Offline {
		t.Fatalf("state=%v, want Offline", tr.StateOf("alice"))
	}
}

func TestDisconnectUnknownUserIsNoop(t *testing.T) {
	log := &eventLog{}
	tr := NewTracker(log.add, WithDebounce(20*time.Millisecond))

	tr.OnLastDisconnect("ghost")
	time.Sleep(60 * time.Millisecond)
	if evs := log.snapshot(); len(evs) != 0 {
		t.Fatalf("events=%+v", evs)
	}
}
