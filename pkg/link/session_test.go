package link

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeConn is a scriptable platform connection. The zero value records
// every call and does nothing else; tests drive outcomes through the
// captured delegate or the optional function fields.
type fakeConn struct {
	mu       sync.Mutex
	delegate Delegate

	activateCalls atomic.Int32
	sendMsgCalls  atomic.Int32
	sendDataCalls atomic.Int32
	userInfoCalls atomic.Int32
	fileCalls     atomic.Int32
	updateCalls   atomic.Int32
	closeCalls    atomic.Int32
	nextHandle    atomic.Int32

	sendMessageFn func(msg Payload, onReply func(Payload), onError func(error))
	sendDataFn    func(data []byte, onReply func([]byte), onError func(error))

	reachable      bool
	paired         bool
	companion      bool
	pendingContent bool
	receivedCtx    Payload
	pendingUI      []TransferID
	pendingFiles   []TransferID
}

func (f *fakeConn) SetDelegate(d Delegate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.delegate = d
}

func (f *fakeConn) installedDelegate() Delegate {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.delegate
}

func (f *fakeConn) Activate() {
	f.activateCalls.Add(1)
}

func (f *fakeConn) SendMessage(msg Payload, onReply func(Payload), onError func(error)) {
	f.sendMsgCalls.Add(1)

	if f.sendMessageFn != nil {
		f.sendMessageFn(msg, onReply, onError)
	}
}

func (f *fakeConn) SendData(data []byte, onReply func([]byte), onError func(error)) {
	f.sendDataCalls.Add(1)

	if f.sendDataFn != nil {
		f.sendDataFn(data, onReply, onError)
	}
}

func (f *fakeConn) TransferUserInfo(info Payload) TransferID {
	f.userInfoCalls.Add(1)
	return TransferID(fmt.Sprintf("ui-%d", f.nextHandle.Add(1)))
}

func (f *fakeConn) TransferFile(file File) TransferID {
	f.fileCalls.Add(1)
	return TransferID(fmt.Sprintf("file-%d", f.nextHandle.Add(1)))
}

func (f *fakeConn) UpdateApplicationContext(data Payload) error {
	f.updateCalls.Add(1)
	return nil
}

func (f *fakeConn) Reachable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.reachable
}

func (f *fakeConn) Paired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.paired
}

func (f *fakeConn) CompanionInstalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.companion
}

func (f *fakeConn) ContentPending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pendingContent
}

func (f *fakeConn) ReceivedApplicationContext() Payload {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.receivedCtx
}

func (f *fakeConn) PendingUserInfoTransfers() []TransferID {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pendingUI
}

func (f *fakeConn) PendingFileTransfers() []TransferID {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.pendingFiles
}

func (f *fakeConn) Close() error {
	f.closeCalls.Add(1)
	return nil
}

// Compile-time interface check.
var _ Conn = (*fakeConn)(nil)

type fakeProvider struct {
	supported    bool
	conn         Conn
	err          error
	sessionCalls atomic.Int32
}

func (p *fakeProvider) Supported() bool {
	return p.supported
}

func (p *fakeProvider) Session() (Conn, error) {
	p.sessionCalls.Add(1)

	if p.err != nil {
		return nil, p.err
	}

	return p.conn, nil
}

// Compile-time interface check.
var _ Provider = (*fakeProvider)(nil)

func newTestSession(t *testing.T) (*Session, *fakeConn) {
	t.Helper()

	conn := &fakeConn{reachable: true, paired: true, companion: true}
	s := New(&fakeProvider{supported: true, conn: conn}, WithLogger(testLogger(t)))

	t.Cleanup(func() { _ = s.Close() })

	return s, conn
}

// waitUntil polls cond until it holds or the deadline passes.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition not met before deadline")
}

// activateSession drives one full activation handshake.
func activateSession(t *testing.T, s *Session, conn *fakeConn) {
	t.Helper()

	done := make(chan error, 1)

	go func() {
		_, err := s.Activate(context.Background())
		done <- err
	}()

	waitUntil(t, time.Second, func() bool {
		return conn.activateCalls.Load() >= 1 && conn.installedDelegate() != nil
	})
	conn.installedDelegate().ActivationDidComplete(Activated, nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("activate: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("activation did not complete")
	}
}

func TestActivateStormIssuesOnePlatformRequest(t *testing.T) {
	s, conn := newTestSession(t)

	const callers = 8

	type outcome struct {
		state ActivationState
		err   error
	}

	results := make(chan outcome, callers)

	for range callers {
		go func() {
			state, err := s.Activate(context.Background())
			results <- outcome{state: state, err: err}
		}()
	}

	waitUntil(t, time.Second, func() bool {
		return conn.activateCalls.Load() == 1 && conn.installedDelegate() != nil
	})

	// Give the remaining callers time to join the in-flight slot.
	time.Sleep(50 * time.Millisecond)

	conn.installedDelegate().ActivationDidComplete(Activated, nil)

	for range callers {
		select {
		case r := <-results:
			if r.err != nil {
				t.Errorf("caller error: %v", r.err)
			}

			if r.state != Activated {
				t.Errorf("caller state = %s, want activated", r.state)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("caller never resolved")
		}
	}

	if calls := conn.activateCalls.Load(); calls != 1 {
		t.Errorf("platform Activate called %d times, want 1", calls)
	}
}

func TestActivateFailurePropagatesToAllJoiners(t *testing.T) {
	s, conn := newTestSession(t)

	const callers = 4

	results := make(chan error, callers)

	for range callers {
		go func() {
			_, err := s.Activate(context.Background())
			results <- err
		}()
	}

	waitUntil(t, time.Second, func() bool {
		return conn.activateCalls.Load() == 1 && conn.installedDelegate() != nil
	})
	time.Sleep(50 * time.Millisecond)

	cause := errors.New("handshake refused")
	conn.installedDelegate().ActivationDidComplete(NotActivated, cause)

	for range callers {
		select {
		case err := <-results:
			if !errors.Is(err, cause) {
				t.Errorf("caller error = %v, want wrapped %v", err, cause)
			}

			var perr *PlatformError
			if !errors.As(err, &perr) {
				t.Errorf("caller error %v is not a PlatformError", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("caller never resolved")
		}
	}

	if got := s.State(); got != NotActivated {
		t.Errorf("state after failed activation = %s, want not-activated", got)
	}
}

func TestActivateIdempotentWhenActivated(t *testing.T) {
	s, conn := newTestSession(t)

	activateSession(t, s, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	state, err := s.Activate(ctx)
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}

	if state != Activated {
		t.Errorf("second activate state = %s, want activated", state)
	}

	if calls := conn.activateCalls.Load(); calls != 1 {
		t.Errorf("platform Activate called %d times, want 1", calls)
	}
}

func TestOperationsRequireActivation(t *testing.T) {
	s, conn := newTestSession(t)

	ctx := context.Background()

	tests := []struct {
		name string
		op   func() error
	}{
		{"send message", func() error { return s.SendMessage(Payload{"k": "v"}) }},
		{"send data", func() error { return s.SendData([]byte("x")) }},
		{"request message", func() error {
			_, err := s.RequestMessage(ctx, Payload{"k": "v"})
			return err
		}},
		{"request data", func() error {
			_, err := s.RequestData(ctx, []byte("x"))
			return err
		}},
		{"transfer user info", func() error { return s.TransferUserInfo(ctx, Payload{"k": "v"}) }},
		{"transfer file", func() error { return s.TransferFile(ctx, File{Path: "/tmp/x"}) }},
		{"update context", func() error { return s.UpdateApplicationContext(Payload{"k": "v"}) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrNotActive) {
				t.Errorf("got %v, want ErrNotActive", err)
			}
		})
	}

	total := conn.sendMsgCalls.Load() + conn.sendDataCalls.Load() +
		conn.userInfoCalls.Load() + conn.fileCalls.Load() + conn.updateCalls.Load()
	if total != 0 {
		t.Errorf("platform was contacted %d times before activation", total)
	}
}

func TestUnsupportedDevice(t *testing.T) {
	provider := &fakeProvider{supported: false}
	s := New(provider, WithLogger(testLogger(t)))

	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Activate(context.Background()); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Activate = %v, want ErrNotSupported", err)
	}

	if err := s.SendMessage(Payload{"k": "v"}); !errors.Is(err, ErrNotSupported) {
		t.Errorf("SendMessage = %v, want ErrNotSupported", err)
	}

	if _, err := s.Reachable(); !errors.Is(err, ErrNotSupported) {
		t.Errorf("Reachable = %v, want ErrNotSupported", err)
	}

	if calls := provider.sessionCalls.Load(); calls != 0 {
		t.Errorf("Provider.Session called %d times on unsupported device, want 0", calls)
	}
}

func TestProviderSessionError(t *testing.T) {
	cause := errors.New("platform broken")
	s := New(&fakeProvider{supported: true, err: cause}, WithLogger(testLogger(t)))

	t.Cleanup(func() { _ = s.Close() })

	_, err := s.Activate(context.Background())
	if !errors.Is(err, cause) {
		t.Errorf("Activate = %v, want wrapped %v", err, cause)
	}

	var perr *PlatformError
	if !errors.As(err, &perr) {
		t.Errorf("error %v is not a PlatformError", err)
	}
}

func TestReceiveFIFOThroughDelegate(t *testing.T) {
	s, conn := newTestSession(t)

	// Any session-touching accessor installs the delegate; activation is
	// not required for receiving.
	if _, err := s.Paired(); err != nil {
		t.Fatalf("paired: %v", err)
	}

	d := conn.installedDelegate()
	for i := range 5 {
		d.MessageReceived(Payload{"seq": i})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for want := range 3 {
		msg, err := s.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", want, err)
		}

		if got := msg["seq"]; got != want {
			t.Errorf("receive %d returned seq %v, want %d", want, got, want)
		}
	}

	if remaining := s.queues.messages.len(); remaining != 2 {
		t.Errorf("%d messages remain buffered, want 2", remaining)
	}
}

func TestReceiveBlocksUntilItemArrives(t *testing.T) {
	s, conn := newTestSession(t)

	if _, err := s.Paired(); err != nil {
		t.Fatalf("paired: %v", err)
	}

	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)

	go func() {
		data, err := s.ReceiveData(context.Background())
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		t.Fatalf("receive returned early: %q, %v", r.data, r.err)
	case <-time.After(20 * time.Millisecond):
	}

	conn.installedDelegate().DataReceived([]byte("ping"))

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("receive: %v", r.err)
		}

		if string(r.data) != "ping" {
			t.Errorf("received %q, want %q", r.data, "ping")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake on push")
	}
}

func TestTransferCompletionResolvesOnlyItsCaller(t *testing.T) {
	s, conn := newTestSession(t)
	activateSession(t, s, conn)

	ctx := context.Background()

	first := make(chan error, 1)

	go func() { first <- s.TransferUserInfo(ctx, Payload{"n": 1}) }()

	waitUntil(t, time.Second, func() bool { return conn.userInfoCalls.Load() == 1 })

	second := make(chan error, 1)

	go func() { second <- s.TransferUserInfo(ctx, Payload{"n": 2}) }()

	waitUntil(t, time.Second, func() bool { return conn.userInfoCalls.Load() == 2 })

	d := conn.installedDelegate()

	// A completion for a handle nobody registered must be a safe no-op.
	d.UserInfoTransferFinished("unknown-handle", errors.New("stray"))

	// Completing the second transfer must not touch the first.
	cause := errors.New("delivery failed")
	d.UserInfoTransferFinished("ui-2", cause)

	select {
	case err := <-second:
		if !errors.Is(err, cause) {
			t.Errorf("second transfer error = %v, want wrapped %v", err, cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second transfer never resolved")
	}

	select {
	case err := <-first:
		t.Fatalf("first transfer resolved prematurely: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	d.UserInfoTransferFinished("ui-1", nil)

	select {
	case err := <-first:
		if err != nil {
			t.Errorf("first transfer error = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first transfer never resolved")
	}

	s.mu.Lock()
	remaining := len(s.pending.transfers)
	s.mu.Unlock()

	if remaining != 0 {
		t.Errorf("%d transfer slots remain registered, want 0", remaining)
	}
}

func TestTransferCancellationAbandonsWait(t *testing.T) {
	s, conn := newTestSession(t)
	activateSession(t, s, conn)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() { done <- s.TransferFile(ctx, File{Path: "/tmp/payload.bin"}) }()

	waitUntil(t, time.Second, func() bool { return conn.fileCalls.Load() == 1 })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled transfer = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled transfer never returned")
	}

	// The late completion finds no slot: logged no-op, nothing crashes.
	conn.installedDelegate().FileTransferFinished("file-1", nil)

	waitUntil(t, time.Second, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		return len(s.pending.transfers) == 0
	})
}

func TestRequestMessageRoundTrip(t *testing.T) {
	s, conn := newTestSession(t)

	conn.sendMessageFn = func(msg Payload, onReply func(Payload), onError func(error)) {
		onReply(Payload{"k2": "v2"})
	}

	activateSession(t, s, conn)

	reply, err := s.RequestMessage(context.Background(), Payload{"k": "v"})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if want := (Payload{"k2": "v2"}); !reflect.DeepEqual(reply, want) {
		t.Errorf("reply = %v, want %v", reply, want)
	}
}

func TestRequestMessageSendError(t *testing.T) {
	s, conn := newTestSession(t)

	cause := errors.New("counterpart unreachable")
	conn.sendMessageFn = func(msg Payload, onReply func(Payload), onError func(error)) {
		onError(cause)
	}

	activateSession(t, s, conn)

	_, err := s.RequestMessage(context.Background(), Payload{"k": "v"})
	if !errors.Is(err, cause) {
		t.Errorf("request error = %v, want wrapped %v", err, cause)
	}
}

func TestRequestDataRoundTrip(t *testing.T) {
	s, conn := newTestSession(t)

	conn.sendDataFn = func(data []byte, onReply func([]byte), onError func(error)) {
		onReply(append([]byte("echo:"), data...))
	}

	activateSession(t, s, conn)

	reply, err := s.RequestData(context.Background(), []byte("ping"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(reply) != "echo:ping" {
		t.Errorf("reply = %q, want %q", reply, "echo:ping")
	}
}

func TestInboundMessagesExpectingReplyAreDropped(t *testing.T) {
	s, conn := newTestSession(t)

	if _, err := s.Paired(); err != nil {
		t.Fatalf("paired: %v", err)
	}

	ticks, cancelSub := s.StateChanged()
	defer cancelSub()

	var replyCalled atomic.Bool

	conn.installedDelegate().MessageReceivedWithReply(Payload{"q": "?"}, func(Payload) {
		replyCalled.Store(true)
	})

	// The drop still emits the state tick observers rely on.
	select {
	case <-ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no state tick for the dropped message")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.ReceiveMessage(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("dropped message was queued: receive returned %v", err)
	}

	if replyCalled.Load() {
		t.Error("reply callback was invoked; replies are not supported")
	}
}

func TestSessionDeactivationAndReactivation(t *testing.T) {
	s, conn := newTestSession(t)
	activateSession(t, s, conn)

	conn.installedDelegate().SessionDeactivated()

	waitUntil(t, time.Second, func() bool { return s.State() == Deactivated })

	if err := s.SendMessage(Payload{"k": "v"}); !errors.Is(err, ErrNotActive) {
		t.Errorf("send while deactivated = %v, want ErrNotActive", err)
	}

	done := make(chan error, 1)

	go func() {
		_, err := s.Activate(context.Background())
		done <- err
	}()

	waitUntil(t, time.Second, func() bool { return conn.activateCalls.Load() == 2 })
	conn.installedDelegate().ActivationDidComplete(Activated, nil)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("re-activation: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("re-activation never resolved")
	}

	if got := s.State(); got != Activated {
		t.Errorf("state after re-activation = %s, want activated", got)
	}
}

func TestCloseFailsOutstandingWaiters(t *testing.T) {
	s, conn := newTestSession(t)
	activateSession(t, s, conn)

	transferErr := make(chan error, 1)

	go func() { transferErr <- s.TransferUserInfo(context.Background(), Payload{"k": "v"}) }()

	waitUntil(t, time.Second, func() bool { return conn.userInfoCalls.Load() == 1 })

	receiveErr := make(chan error, 1)

	go func() {
		_, err := s.ReceiveMessage(context.Background())
		receiveErr <- err
	}()

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case err := <-transferErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("transfer after close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transfer waiter never released")
	}

	select {
	case err := <-receiveErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("receive after close = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive waiter never released")
	}

	if err := s.SendMessage(Payload{"k": "v"}); !errors.Is(err, ErrClosed) {
		t.Errorf("send after close = %v, want ErrClosed", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second close = %v, want nil", err)
	}

	if calls := conn.closeCalls.Load(); calls != 1 {
		t.Errorf("platform Close called %d times, want 1", calls)
	}
}

func TestCloseLeavesBufferedItemsDrainable(t *testing.T) {
	s, conn := newTestSession(t)

	if _, err := s.Paired(); err != nil {
		t.Fatalf("paired: %v", err)
	}

	conn.installedDelegate().MessageReceived(Payload{"last": "words"})

	waitUntil(t, time.Second, func() bool { return s.queues.messages.len() == 1 })

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	msg, err := s.ReceiveMessage(context.Background())
	if err != nil {
		t.Fatalf("draining after close: %v", err)
	}

	if msg["last"] != "words" {
		t.Errorf("drained %v, want the buffered message", msg)
	}

	if _, err := s.ReceiveMessage(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("receive on drained closed session = %v, want ErrClosed", err)
	}
}

func TestAccessorsPassThrough(t *testing.T) {
	s, conn := newTestSession(t)

	conn.mu.Lock()
	conn.pendingContent = true
	conn.receivedCtx = Payload{"mode": "workout"}
	conn.pendingUI = []TransferID{"ui-a"}
	conn.pendingFiles = []TransferID{"file-a", "file-b"}
	conn.mu.Unlock()

	reachable, err := s.Reachable()
	if err != nil || !reachable {
		t.Errorf("Reachable = (%v, %v), want (true, nil)", reachable, err)
	}

	paired, err := s.Paired()
	if err != nil || !paired {
		t.Errorf("Paired = (%v, %v), want (true, nil)", paired, err)
	}

	installed, err := s.CompanionInstalled()
	if err != nil || !installed {
		t.Errorf("CompanionInstalled = (%v, %v), want (true, nil)", installed, err)
	}

	pending, err := s.ContentPending()
	if err != nil || !pending {
		t.Errorf("ContentPending = (%v, %v), want (true, nil)", pending, err)
	}

	recvCtx, err := s.ReceivedApplicationContext()
	if err != nil || recvCtx["mode"] != "workout" {
		t.Errorf("ReceivedApplicationContext = (%v, %v)", recvCtx, err)
	}

	ui, err := s.PendingUserInfoTransfers()
	if err != nil || len(ui) != 1 || ui[0] != "ui-a" {
		t.Errorf("PendingUserInfoTransfers = (%v, %v)", ui, err)
	}

	files, err := s.PendingFileTransfers()
	if err != nil || len(files) != 2 {
		t.Errorf("PendingFileTransfers = (%v, %v)", files, err)
	}
}

func TestStateTickOnMutationsAndNotifications(t *testing.T) {
	s, conn := newTestSession(t)
	activateSession(t, s, conn)

	ticks, cancelSub := s.StateChanged()
	defer cancelSub()

	drainTick := func(what string) {
		t.Helper()

		select {
		case <-ticks:
		case <-time.After(2 * time.Second):
			t.Fatalf("no state tick after %s", what)
		}
	}

	if err := s.SendMessage(Payload{"k": "v"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	drainTick("send")

	conn.installedDelegate().ReachabilityChanged(false)
	drainTick("reachability change")

	conn.installedDelegate().CompanionStateChanged()
	drainTick("companion change")

	conn.installedDelegate().ApplicationContextReceived(Payload{"a": 1})
	drainTick("context received")
}

func TestPlatformCallbacksMayOverlap(t *testing.T) {
	s, conn := newTestSession(t)

	// A reply and an error racing each other from separate goroutines:
	// exactly one outcome reaches the caller.
	var callbacksDone sync.WaitGroup

	conn.sendMessageFn = func(msg Payload, onReply func(Payload), onError func(error)) {
		callbacksDone.Add(2)

		go func() {
			defer callbacksDone.Done()
			onReply(Payload{"ok": true})
		}()

		go func() {
			defer callbacksDone.Done()
			onError(errors.New("raced"))
		}()
	}

	activateSession(t, s, conn)

	reply, err := s.RequestMessage(context.Background(), Payload{"q": "1"})
	if err != nil {
		var perr *PlatformError
		if !errors.As(err, &perr) {
			t.Errorf("racing request error = %v, want a PlatformError", err)
		}
	} else if reply["ok"] != true {
		t.Errorf("racing request reply = %v, want ok=true", reply)
	}

	callbacksDone.Wait()

	// Three goroutines pushing at once: the session absorbs the overlap
	// and keeps arrival order within each content kind.
	d := conn.installedDelegate()

	const perKind = 32

	var pushers sync.WaitGroup
	pushers.Add(3)

	go func() {
		defer pushers.Done()

		for i := range perKind {
			d.MessageReceived(Payload{"seq": i})
		}
	}()

	go func() {
		defer pushers.Done()

		for i := range perKind {
			d.DataReceived([]byte{byte(i)})
		}
	}()

	go func() {
		defer pushers.Done()

		for range perKind {
			d.ReachabilityChanged(true)
			d.CompanionStateChanged()
		}
	}()

	pushers.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for want := range perKind {
		msg, err := s.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("receive message %d: %v", want, err)
		}

		if got, ok := msg["seq"].(int); !ok || got != want {
			t.Fatalf("message order broke: got %v, want seq=%d", msg, want)
		}
	}

	for want := range perKind {
		data, err := s.ReceiveData(ctx)
		if err != nil {
			t.Fatalf("receive data %d: %v", want, err)
		}

		if len(data) != 1 || data[0] != byte(want) {
			t.Fatalf("data order broke: got %x, want %02x", data, want)
		}
	}
}
