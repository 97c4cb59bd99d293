package link

import "log/slog"

// delegateAdapter is the Delegate installed on the platform connection. It
// is a stateless router: each callback becomes one event posted onto the
// Session's event channel, preserving the platform's delivery order. It
// holds the channel rather than the Session itself, so there is no owner
// back-reference to go stale.
type delegateAdapter struct {
	events  chan<- event
	stopped <-chan struct{}
	logger  *slog.Logger
}

// post hands an event to the run loop, or drops it once the session has
// been closed.
func (a *delegateAdapter) post(ev event) {
	select {
	case a.events <- ev:
	case <-a.stopped:
		a.logger.Debug("dropping platform event after close")
	}
}

func (a *delegateAdapter) ActivationDidComplete(state ActivationState, err error) {
	a.post(activationDoneEvent{state: state, err: err})
}

func (a *delegateAdapter) SessionDeactivated() {
	a.post(deactivatedEvent{})
}

func (a *delegateAdapter) ReachabilityChanged(reachable bool) {
	a.post(reachabilityEvent{reachable: reachable})
}

func (a *delegateAdapter) CompanionStateChanged() {
	a.post(companionEvent{})
}

func (a *delegateAdapter) ApplicationContextReceived(data Payload) {
	a.post(contextEvent{data: data})
}

func (a *delegateAdapter) MessageReceived(msg Payload) {
	a.post(messageEvent{msg: msg})
}

func (a *delegateAdapter) MessageReceivedWithReply(msg Payload, reply func(Payload)) {
	a.post(messageReplyEvent{msg: msg, reply: reply})
}

func (a *delegateAdapter) DataReceived(data []byte) {
	a.post(dataEvent{data: data})
}

func (a *delegateAdapter) DataReceivedWithReply(data []byte, reply func([]byte)) {
	a.post(dataReplyEvent{data: data, reply: reply})
}

func (a *delegateAdapter) UserInfoReceived(info Payload) {
	a.post(userInfoEvent{info: info})
}

func (a *delegateAdapter) UserInfoTransferFinished(id TransferID, err error) {
	a.post(userInfoDoneEvent{id: id, err: err})
}

func (a *delegateAdapter) FileReceived(file File) {
	a.post(fileEvent{file: file})
}

func (a *delegateAdapter) FileTransferFinished(id TransferID, err error) {
	a.post(fileDoneEvent{id: id, err: err})
}

// Compile-time interface check.
var _ Delegate = (*delegateAdapter)(nil)
