package link

import (
	"fmt"
	"log/slog"
)

// activationCall is the shared resolution slot for an in-flight activation.
// Any number of callers may wait on done; resolve publishes the outcome and
// closes done exactly once, waking all of them with the same result.
type activationCall struct {
	done  chan struct{}
	state ActivationState
	err   error
}

func newActivationCall() *activationCall {
	return &activationCall{done: make(chan struct{})}
}

func (c *activationCall) resolve(state ActivationState, err error) {
	c.state = state
	c.err = err
	close(c.done)
}

// transferCall is the one-shot resolution slot for a single background
// transfer. Exactly one caller waits on done.
type transferCall struct {
	done chan struct{}
	err  error
}

func newTransferCall() *transferCall {
	return &transferCall{done: make(chan struct{})}
}

func (c *transferCall) resolve(err error) {
	c.err = err
	close(c.done)
}

// pendingRegistry correlates in-flight asynchronous platform requests with
// the callers awaiting them: one activation slot plus one slot per transfer
// handle. Resolution is at-most-once: resolving removes the slot, and a
// completion for an absent key is a logged no-op (the platform delivered an
// outcome nobody is waiting on, e.g. after the waiter's cancellation).
//
// Not self-locking: the owning Session serializes all access under its own
// mutex.
type pendingRegistry struct {
	activation *activationCall
	transfers  map[TransferID]*transferCall
	logger     *slog.Logger
}

func newPendingRegistry(logger *slog.Logger) *pendingRegistry {
	return &pendingRegistry{
		transfers: make(map[TransferID]*transferCall),
		logger:    logger,
	}
}

// activationCall returns the in-flight activation slot, or nil.
func (r *pendingRegistry) activationSlot() *activationCall {
	return r.activation
}

func (r *pendingRegistry) registerActivation(c *activationCall) {
	r.activation = c
}

// resolveActivation resolves and removes the activation slot. Absent slot is
// a no-op.
func (r *pendingRegistry) resolveActivation(state ActivationState, err error) {
	c := r.activation
	if c == nil {
		r.logger.Debug("dropping activation completion with no waiter",
			slog.String("state", state.String()))
		return
	}

	r.activation = nil
	c.resolve(state, err)
}

// registerTransfer inserts a slot for a freshly issued transfer handle.
// Duplicate handles are a logic error: the platform issues a unique handle
// per invocation.
func (r *pendingRegistry) registerTransfer(id TransferID, c *transferCall) error {
	if _, exists := r.transfers[id]; exists {
		return fmt.Errorf("link: duplicate transfer handle %q", string(id))
	}

	r.transfers[id] = c

	return nil
}

// resolveTransfer resolves and removes the slot for id. Absent slot is a
// no-op.
func (r *pendingRegistry) resolveTransfer(id TransferID, err error) {
	c, ok := r.transfers[id]
	if !ok {
		r.logger.Debug("dropping transfer completion with no waiter",
			slog.String("transfer_id", string(id)))
		return
	}

	delete(r.transfers, id)
	c.resolve(err)
}

// dropTransfer abandons the slot for id without resolving it. Used when the
// waiting caller cancels; a later completion then hits the absent-key path.
func (r *pendingRegistry) dropTransfer(id TransferID) {
	delete(r.transfers, id)
}

// failAll resolves every outstanding slot with err. Used on Close so no
// caller is left waiting on a dead session.
func (r *pendingRegistry) failAll(err error) {
	if r.activation != nil {
		c := r.activation
		r.activation = nil
		c.resolve(NotActivated, err)
	}

	for id, c := range r.transfers {
		delete(r.transfers, id)
		c.resolve(err)
	}
}
