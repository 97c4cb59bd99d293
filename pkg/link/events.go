package link

import "log/slog"

// event is one platform notification routed through the Session's serialized
// event channel. apply runs on the Session's run goroutine, one event at a
// time, in platform delivery order. Every event ends with a state-changed
// tick so observers see each notification.
type event interface {
	apply(s *Session)
}

type activationDoneEvent struct {
	state ActivationState
	err   error
}

func (e activationDoneEvent) apply(s *Session) {
	var err error
	if e.err != nil {
		err = &PlatformError{Op: "activate", Err: e.err}
	}

	s.mu.Lock()
	s.transitionLocked(e.state)
	s.pending.resolveActivation(e.state, err)
	s.mu.Unlock()

	s.changes.notify()
}

type deactivatedEvent struct{}

func (e deactivatedEvent) apply(s *Session) {
	s.mu.Lock()
	s.transitionLocked(Deactivated)
	s.mu.Unlock()

	s.changes.notify()
}

type reachabilityEvent struct {
	reachable bool
}

func (e reachabilityEvent) apply(s *Session) {
	s.logger.Info("reachability changed", slog.Bool("reachable", e.reachable))
	s.changes.notify()
}

type companionEvent struct{}

func (e companionEvent) apply(s *Session) {
	s.logger.Info("companion state changed")
	s.changes.notify()
}

type contextEvent struct {
	data Payload
}

func (e contextEvent) apply(s *Session) {
	s.logger.Debug("application context received",
		slog.Int("keys", len(e.data)))
	s.changes.notify()
}

type messageEvent struct {
	msg Payload
}

func (e messageEvent) apply(s *Session) {
	s.queues.messages.push(e.msg)
	s.changes.notify()
}

// messageReplyEvent is the documented gap: a counterpart sent a message that
// expects a reply, and this side never answers. The message is not queued
// and the reply callback is never invoked.
type messageReplyEvent struct {
	msg   Payload
	reply func(Payload)
}

func (e messageReplyEvent) apply(s *Session) {
	s.logger.Warn("dropping inbound message that expects a reply; replies are not supported",
		slog.Int("keys", len(e.msg)))
	s.changes.notify()
}

type dataEvent struct {
	data []byte
}

func (e dataEvent) apply(s *Session) {
	s.queues.data.push(e.data)
	s.changes.notify()
}

type dataReplyEvent struct {
	data  []byte
	reply func([]byte)
}

func (e dataReplyEvent) apply(s *Session) {
	s.logger.Warn("dropping inbound data that expects a reply; replies are not supported",
		slog.Int("bytes", len(e.data)))
	s.changes.notify()
}

type userInfoEvent struct {
	info Payload
}

func (e userInfoEvent) apply(s *Session) {
	s.queues.userInfo.push(e.info)
	s.changes.notify()
}

type userInfoDoneEvent struct {
	id  TransferID
	err error
}

func (e userInfoDoneEvent) apply(s *Session) {
	var err error
	if e.err != nil {
		err = &PlatformError{Op: "transfer user info", Err: e.err}
	}

	s.mu.Lock()
	s.pending.resolveTransfer(e.id, err)
	s.mu.Unlock()

	s.changes.notify()
}

type fileEvent struct {
	file File
}

func (e fileEvent) apply(s *Session) {
	s.queues.files.push(e.file)
	s.changes.notify()
}

type fileDoneEvent struct {
	id  TransferID
	err error
}

func (e fileDoneEvent) apply(s *Session) {
	var err error
	if e.err != nil {
		err = &PlatformError{Op: "transfer file", Err: e.err}
	}

	s.mu.Lock()
	s.pending.resolveTransfer(e.id, err)
	s.mu.Unlock()

	s.changes.notify()
}
