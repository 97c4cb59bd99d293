package linktest

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/wearlink/pkg/link"
)

// ErrUnreachable is reported through send callbacks when the
// counterpart endpoint of a pair is not activated.
var ErrUnreachable = errors.New("linktest: counterpart not reachable")

const inboxSize = 256

// Pair returns providers for two cross-wired in-memory endpoints, a
// phone and a watch. Each endpoint delivers inbound callbacks on its
// own goroutine in post order. Reachability flips to true once both
// endpoints are activated and back to false when either closes.
// Transfers complete immediately and do not require reachability;
// deliveries that arrive before the counterpart session exists are
// held and replayed once it does. File payloads pass through with the
// sender's path untouched.
//
// A request sent through the session API surfaces on the counterpart
// as a message expecting a reply, which the session layer there drops.
// Point a MockConn with a SendMessageFunc at request/reply paths
// instead.
func Pair() (phone, watch *MockProvider) {
	a := newPairConn()
	b := newPairConn()
	a.peer, b.peer = b, a

	go a.run()
	go b.run()

	return &MockProvider{Conn: a}, &MockProvider{Conn: b}
}

// pairConn is one endpoint of an in-memory pair.
type pairConn struct {
	peer *pairConn

	inbox chan func()
	stop  chan struct{}

	mu        sync.Mutex
	delegate  link.Delegate
	activated bool
	closed    bool
	appCtx    link.Payload
	held      []func(link.Delegate)
}

// Compile-time interface check.
var _ link.Conn = (*pairConn)(nil)

func newPairConn() *pairConn {
	return &pairConn{
		inbox: make(chan func(), inboxSize),
		stop:  make(chan struct{}),
	}
}

func (c *pairConn) run() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.stop:
			return
		}
	}
}

// post queues fn for execution on this endpoint's delivery goroutine.
// Posts to a closed endpoint are dropped.
func (c *pairConn) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stop:
	}
}

func (c *pairConn) currentDelegate() link.Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.delegate
}

func (c *pairConn) isActivated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.activated && !c.closed
}

func (c *pairConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *pairConn) SetDelegate(d link.Delegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()

	c.post(c.flushHeld)
}

// flushHeld replays deliveries that arrived before a delegate was
// installed.
func (c *pairConn) flushHeld() {
	c.mu.Lock()
	held := c.held
	c.held = nil
	d := c.delegate
	c.mu.Unlock()

	if d == nil {
		c.mu.Lock()
		c.held = append(held, c.held...)
		c.mu.Unlock()

		return
	}

	for _, fn := range held {
		fn(d)
	}
}

// deliverOrHold runs fn against the delegate on the delivery goroutine,
// or parks it until a delegate is installed.
func (c *pairConn) deliverOrHold(fn func(link.Delegate)) {
	c.post(func() {
		if d := c.currentDelegate(); d != nil {
			fn(d)
			return
		}

		c.mu.Lock()
		c.held = append(c.held, fn)
		c.mu.Unlock()
	})
}

func (c *pairConn) notifyReachability(v bool) {
	c.post(func() {
		if d := c.currentDelegate(); d != nil {
			d.ReachabilityChanged(v)
		}
	})
}

func (c *pairConn) Activate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.activated = true
	c.mu.Unlock()

	c.post(func() {
		if d := c.currentDelegate(); d != nil {
			d.ActivationDidComplete(link.Activated, nil)
		}
	})

	if c.peer.isActivated() {
		c.notifyReachability(true)
		c.peer.notifyReachability(true)
	}
}

func (c *pairConn) SendMessage(msg link.Payload, onReply func(link.Payload), onError func(error)) {
	if !c.Reachable() {
		if onError != nil {
			onError(ErrUnreachable)
		}

		return
	}

	peer := c.peer
	peer.post(func() {
		d := peer.currentDelegate()
		if d == nil {
			return
		}

		if onReply != nil {
			d.MessageReceivedWithReply(msg, func(reply link.Payload) {
				c.post(func() { onReply(reply) })
			})

			return
		}

		d.MessageReceived(msg)
	})
}

func (c *pairConn) SendData(data []byte, onReply func([]byte), onError func(error)) {
	if !c.Reachable() {
		if onError != nil {
			onError(ErrUnreachable)
		}

		return
	}

	peer := c.peer
	peer.post(func() {
		d := peer.currentDelegate()
		if d == nil {
			return
		}

		if onReply != nil {
			d.DataReceivedWithReply(data, func(reply []byte) {
				c.post(func() { onReply(reply) })
			})

			return
		}

		d.DataReceived(data)
	})
}

func (c *pairConn) TransferUserInfo(info link.Payload) link.TransferID {
	id := link.TransferID("userinfo-" + uuid.NewString())

	if c.isClosed() {
		return id
	}

	c.peer.deliverOrHold(func(d link.Delegate) { d.UserInfoReceived(info) })
	c.post(func() {
		if d := c.currentDelegate(); d != nil {
			d.UserInfoTransferFinished(id, nil)
		}
	})

	return id
}

func (c *pairConn) TransferFile(file link.File) link.TransferID {
	id := link.TransferID("file-" + uuid.NewString())

	if c.isClosed() {
		return id
	}

	c.peer.deliverOrHold(func(d link.Delegate) { d.FileReceived(file) })
	c.post(func() {
		if d := c.currentDelegate(); d != nil {
			d.FileTransferFinished(id, nil)
		}
	})

	return id
}

func (c *pairConn) UpdateApplicationContext(data link.Payload) error {
	if c.isClosed() {
		return errors.New("linktest: endpoint closed")
	}

	peer := c.peer
	peer.mu.Lock()
	peer.appCtx = data
	peer.mu.Unlock()

	peer.deliverOrHold(func(d link.Delegate) { d.ApplicationContextReceived(data) })

	return nil
}

func (c *pairConn) Reachable() bool {
	return c.isActivated() && c.peer.isActivated()
}

func (c *pairConn) Paired() bool {
	return !c.isClosed()
}

func (c *pairConn) CompanionInstalled() bool {
	return !c.isClosed()
}

func (c *pairConn) ContentPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.held) > 0
}

func (c *pairConn) ReceivedApplicationContext() link.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.appCtx
}

func (c *pairConn) PendingUserInfoTransfers() []link.TransferID {
	return nil
}

func (c *pairConn) PendingFileTransfers() []link.TransferID {
	return nil
}

func (c *pairConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	wasActive := c.activated
	c.activated = false
	c.mu.Unlock()

	close(c.stop)

	if wasActive && c.peer.isActivated() {
		c.peer.notifyReachability(false)
	}

	return nil
}
