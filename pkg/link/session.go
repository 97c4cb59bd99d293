package link

import (
	"context"
	"log/slog"
	"sync"
)

// eventBufferSize is the capacity of the delegate event channel. Providers
// post at platform-notification rate; the run loop drains continuously, so
// the buffer only absorbs short bursts.
const eventBufferSize = 256

// Session is the single-owner façade over one platform communication
// channel. All state mutation is serialized: public operations mutate under
// one mutex, and delegate events are applied one at a time, in delivery
// order, by the run goroutine. Operations that wait for an external outcome
// (activation, transfers, request replies, receives) do so outside the lock,
// so a pending wait never stalls other callers.
//
// Construct with New and release with Close. A Session is safe for
// concurrent use by multiple goroutines.
type Session struct {
	provider Provider
	logger   *slog.Logger

	mu      sync.Mutex
	conn    Conn
	state   ActivationState
	pending *pendingRegistry
	closed  bool

	queues  *inboundQueues
	changes *notifier

	adapter *delegateAdapter
	events  chan event
	stop    chan struct{}
	done    chan struct{}
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithLogger attaches a logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Session bound to the given platform provider and starts its
// event loop. The provider's Session() is not called until the first
// operation that needs the platform.
func New(provider Provider, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		logger:   slog.New(slog.DiscardHandler),
		state:    NotActivated,
		queues:   newInboundQueues(),
		changes:  newNotifier(),
		events:   make(chan event, eventBufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.pending = newPendingRegistry(s.logger)
	s.adapter = &delegateAdapter{events: s.events, stopped: s.stop, logger: s.logger}

	go s.run()

	return s
}

// run applies delegate events in platform delivery order until Close.
func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case ev := <-s.events:
			ev.apply(s)
		case <-s.stop:
			return
		}
	}
}

// Close stops the event loop, fails every outstanding waiter with ErrClosed,
// and closes the platform connection. Buffered inbound items remain
// drainable via the Receive operations until empty. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}

	s.closed = true
	conn := s.conn
	s.pending.failAll(ErrClosed)
	s.mu.Unlock()

	close(s.stop)
	<-s.done

	s.queues.closeAll()
	s.changes.notify()
	s.logger.Info("session closed")

	if conn != nil {
		if err := conn.Close(); err != nil {
			return &PlatformError{Op: "close", Err: err}
		}
	}

	return nil
}

// ensureSessionLocked lazily attaches the platform connection, installing
// the delegate adapter on first use. Caller holds s.mu.
func (s *Session) ensureSessionLocked() error {
	if s.closed {
		return ErrClosed
	}

	if !s.provider.Supported() {
		return ErrNotSupported
	}

	if s.conn == nil {
		conn, err := s.provider.Session()
		if err != nil {
			return &PlatformError{Op: "session", Err: err}
		}

		conn.SetDelegate(s.adapter)
		s.conn = conn
		s.logger.Debug("platform session attached")
	}

	return nil
}

// ensureActiveLocked is ensureSessionLocked plus the activation gate every
// send, request and transfer passes through. Caller holds s.mu.
func (s *Session) ensureActiveLocked() (Conn, error) {
	if err := s.ensureSessionLocked(); err != nil {
		return nil, err
	}

	if s.state != Activated {
		return nil, ErrNotActive
	}

	return s.conn, nil
}

// transitionLocked moves the lifecycle to the given state if the step is
// legal, logging and ignoring it otherwise. Caller holds s.mu.
func (s *Session) transitionLocked(to ActivationState) {
	if s.state == to {
		return
	}

	if !canTransition(s.state, to) {
		s.logger.Warn("ignoring invalid activation state transition",
			slog.String("from", s.state.String()),
			slog.String("to", to.String()))
		return
	}

	s.logger.Info("activation state changed",
		slog.String("from", s.state.String()),
		slog.String("to", to.String()))
	s.state = to
}

// Activate brings the session to the activated state and returns the
// resolved state. It is idempotent: an already-activated session returns
// immediately with no platform call, and a caller arriving while an
// activation is in flight joins the existing attempt: every joiner observes
// the same outcome from the single underlying platform request.
//
// Cancelling ctx abandons this caller's wait only; the platform request (and
// any other joiners) stand.
func (s *Session) Activate(ctx context.Context) (ActivationState, error) {
	s.mu.Lock()

	if err := s.ensureSessionLocked(); err != nil {
		state := s.state
		s.mu.Unlock()

		return state, err
	}

	if s.state == Activated {
		s.mu.Unlock()
		s.logger.Debug("activate: already activated")

		return Activated, nil
	}

	call := s.pending.activationSlot()
	if call == nil {
		call = newActivationCall()
		s.pending.registerActivation(call)
		s.transitionLocked(Activating)
		s.conn.Activate()
		s.logger.Info("activation requested")
	} else {
		s.logger.Debug("activate: joining in-flight activation")
	}

	s.mu.Unlock()
	s.changes.notify()

	select {
	case <-call.done:
		return call.state, call.err
	case <-ctx.Done():
		return Activating, ctx.Err()
	}
}

// State returns the lifecycle state. Unlike the other accessors it reads
// façade-owned state and cannot fail.
func (s *Session) State() ActivationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// SendMessage delivers a live message to the counterpart, fire-and-forget:
// it neither waits for nor observes the delivery outcome.
func (s *Session) SendMessage(msg Payload) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}

	conn.SendMessage(msg, nil, nil)
	s.changes.notify()

	return nil
}

// SendData is SendMessage for raw byte payloads.
func (s *Session) SendData(data []byte) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}

	conn.SendData(data, nil, nil)
	s.changes.notify()

	return nil
}

// RequestMessage sends a message and waits for the counterpart's reply.
// Exactly one of the platform's reply or error callbacks resolves the wait;
// cancelling ctx abandons the wait without retracting the send.
func (s *Session) RequestMessage(ctx context.Context, msg Payload) (Payload, error) {
	conn, err := s.activeConn()
	if err != nil {
		return nil, err
	}

	reply, err := await(ctx, s.stop, func(onReply func(Payload), onError func(error)) {
		conn.SendMessage(msg, onReply, onError)
	})
	s.changes.notify()

	if err != nil {
		return nil, err
	}

	return reply, nil
}

// RequestData is RequestMessage for raw byte payloads.
func (s *Session) RequestData(ctx context.Context, data []byte) ([]byte, error) {
	conn, err := s.activeConn()
	if err != nil {
		return nil, err
	}

	reply, err := await(ctx, s.stop, func(onReply func([]byte), onError func(error)) {
		conn.SendData(data, onReply, onError)
	})
	s.changes.notify()

	if err != nil {
		return nil, err
	}

	return reply, nil
}

// TransferUserInfo queues a user-info dictionary for guaranteed eventual
// delivery and waits until the platform confirms (or fails) it. Cancelling
// ctx abandons the wait; the transfer itself continues and its late
// completion is dropped.
func (s *Session) TransferUserInfo(ctx context.Context, info Payload) error {
	return s.awaitTransfer(ctx, "user info", func(conn Conn) TransferID {
		return conn.TransferUserInfo(info)
	})
}

// TransferFile queues a file for guaranteed eventual delivery and waits
// until the platform confirms (or fails) it. Cancellation behaves as in
// TransferUserInfo.
func (s *Session) TransferFile(ctx context.Context, file File) error {
	return s.awaitTransfer(ctx, "file", func(conn Conn) TransferID {
		return conn.TransferFile(file)
	})
}

// awaitTransfer initiates a transfer and waits for its completion callback.
//
// The platform call and the slot registration happen under one lock
// acquisition. Completion events are applied under the same lock strictly
// afterwards, so a completion can never arrive before its slot exists.
func (s *Session) awaitTransfer(ctx context.Context, op string, initiate func(Conn) TransferID) error {
	s.mu.Lock()

	conn, err := s.ensureActiveLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	id := initiate(conn)

	call := newTransferCall()
	if err := s.pending.registerTransfer(id, call); err != nil {
		s.mu.Unlock()
		return err
	}

	s.mu.Unlock()

	s.logger.Debug("transfer registered",
		slog.String("kind", op),
		slog.String("transfer_id", string(id)))
	s.changes.notify()

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		s.mu.Lock()
		s.pending.dropTransfer(id)
		s.mu.Unlock()

		return ctx.Err()
	}
}

// UpdateApplicationContext overwrites the single outgoing context dictionary
// the platform delivers to the counterpart when convenient.
func (s *Session) UpdateApplicationContext(data Payload) error {
	conn, err := s.activeConn()
	if err != nil {
		return err
	}

	if err := conn.UpdateApplicationContext(data); err != nil {
		return &PlatformError{Op: "update application context", Err: err}
	}

	s.changes.notify()

	return nil
}

// ReceiveMessage returns the oldest buffered inbound message, blocking until
// one arrives. Draining does not require an activated session.
func (s *Session) ReceiveMessage(ctx context.Context) (Payload, error) {
	return s.queues.messages.pop(ctx)
}

// ReceiveData returns the oldest buffered inbound data blob, blocking until
// one arrives.
func (s *Session) ReceiveData(ctx context.Context) ([]byte, error) {
	return s.queues.data.pop(ctx)
}

// ReceiveUserInfo returns the oldest buffered inbound user-info dictionary,
// blocking until one arrives.
func (s *Session) ReceiveUserInfo(ctx context.Context) (Payload, error) {
	return s.queues.userInfo.pop(ctx)
}

// ReceiveFile returns the oldest buffered received file, blocking until one
// arrives.
func (s *Session) ReceiveFile(ctx context.Context) (File, error) {
	return s.queues.files.pop(ctx)
}

// Reachable reports whether the counterpart can receive live messages now.
func (s *Session) Reachable() (bool, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return false, err
	}

	return conn.Reachable(), nil
}

// Paired reports whether a counterpart device is paired at all.
func (s *Session) Paired() (bool, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return false, err
	}

	return conn.Paired(), nil
}

// CompanionInstalled reports whether the companion app is installed on the
// paired device.
func (s *Session) CompanionInstalled() (bool, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return false, err
	}

	return conn.CompanionInstalled(), nil
}

// ContentPending reports whether queued content is still awaiting delivery.
func (s *Session) ContentPending() (bool, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return false, err
	}

	return conn.ContentPending(), nil
}

// ReceivedApplicationContext returns the most recent context dictionary the
// counterpart published.
func (s *Session) ReceivedApplicationContext() (Payload, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return nil, err
	}

	return conn.ReceivedApplicationContext(), nil
}

// PendingUserInfoTransfers lists the handles of user-info transfers still in
// flight on the platform side.
func (s *Session) PendingUserInfoTransfers() ([]TransferID, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return nil, err
	}

	return conn.PendingUserInfoTransfers(), nil
}

// PendingFileTransfers lists the handles of file transfers still in flight
// on the platform side.
func (s *Session) PendingFileTransfers() ([]TransferID, error) {
	conn, err := s.sessionConn()
	if err != nil {
		return nil, err
	}

	return conn.PendingFileTransfers(), nil
}

// StateChanged subscribes to the coalesced state-changed tick emitted after
// every mutating operation and every platform notification. The cancel func
// releases the subscription.
func (s *Session) StateChanged() (<-chan struct{}, func()) {
	return s.changes.subscribe()
}

// sessionConn returns the platform connection for the pass-through
// accessors, attaching it lazily on first use.
func (s *Session) sessionConn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureSessionLocked(); err != nil {
		return nil, err
	}

	return s.conn, nil
}

// activeConn returns the platform connection iff the session is activated.
func (s *Session) activeConn() (Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureActiveLocked()
}

// await bridges one callback-pair platform call into a blocking wait. The
// first callback to fire wins; any second invocation is dropped.
func await[T any](ctx context.Context, stop <-chan struct{}, start func(onReply func(T), onError func(error))) (T, error) {
	type outcome struct {
		value T
		err   error
	}

	ch := make(chan outcome, 1)
	deliver := func(o outcome) {
		select {
		case ch <- o:
		default:
			// Both callbacks fired for one request; first outcome wins.
		}
	}

	start(
		func(v T) { deliver(outcome{value: v}) },
		func(err error) { deliver(outcome{err: &PlatformError{Op: "send", Err: err}}) },
	)

	var zero T

	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-stop:
		return zero, ErrClosed
	}
}
