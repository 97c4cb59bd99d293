// Package linktest provides in-memory implementations of link.Provider
// and link.Conn for tests and examples. It lives outside internal/ so
// that E2E tests and downstream consumers can import it.
//
// MockConn is a single scriptable endpoint: function fields override
// individual operations and inbound traffic is driven through the
// delegate it captured. Pair wires two endpoints back to back so a
// phone session and a watch session can exchange real traffic without
// a platform underneath.
package linktest

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tonimelisma/wearlink/pkg/link"
)

// MockConn is a scriptable link.Conn. Nil function fields fall back to
// inert defaults that only record the call. Inbound traffic is pushed
// through the delegate returned by Delegate.
type MockConn struct {
	ActivateFunc         func()
	SendMessageFunc      func(msg link.Payload, onReply func(link.Payload), onError func(error))
	SendDataFunc         func(data []byte, onReply func([]byte), onError func(error))
	TransferUserInfoFunc func(info link.Payload) link.TransferID
	TransferFileFunc     func(file link.File) link.TransferID
	UpdateContextFunc    func(data link.Payload) error
	CloseFunc            func() error

	ActivateCalls atomic.Int32
	MessageCalls  atomic.Int32
	DataCalls     atomic.Int32
	UserInfoCalls atomic.Int32
	FileCalls     atomic.Int32
	UpdateCalls   atomic.Int32
	CloseCalls    atomic.Int32

	handleSeq atomic.Int64

	mu        sync.Mutex
	delegate  link.Delegate
	reachable bool
	paired    bool
	companion bool
	pending   bool
	appCtx    link.Payload
	userInfo  []link.TransferID
	files     []link.TransferID
}

// NewMockConn returns a conn that reports a paired, reachable
// counterpart with the companion app installed.
func NewMockConn() *MockConn {
	return &MockConn{reachable: true, paired: true, companion: true}
}

// Compile-time interface check.
var _ link.Conn = (*MockConn)(nil)

func (c *MockConn) SetDelegate(d link.Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delegate = d
}

// Delegate returns the delegate the session installed, or nil if no
// session has touched this conn yet.
func (c *MockConn) Delegate() link.Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.delegate
}

func (c *MockConn) Activate() {
	c.ActivateCalls.Add(1)

	if c.ActivateFunc != nil {
		c.ActivateFunc()
	}
}

func (c *MockConn) SendMessage(msg link.Payload, onReply func(link.Payload), onError func(error)) {
	c.MessageCalls.Add(1)

	if c.SendMessageFunc != nil {
		c.SendMessageFunc(msg, onReply, onError)
	}
}

func (c *MockConn) SendData(data []byte, onReply func([]byte), onError func(error)) {
	c.DataCalls.Add(1)

	if c.SendDataFunc != nil {
		c.SendDataFunc(data, onReply, onError)
	}
}

func (c *MockConn) TransferUserInfo(info link.Payload) link.TransferID {
	c.UserInfoCalls.Add(1)

	if c.TransferUserInfoFunc != nil {
		return c.TransferUserInfoFunc(info)
	}

	return link.TransferID(fmt.Sprintf("userinfo-%d", c.handleSeq.Add(1)))
}

func (c *MockConn) TransferFile(file link.File) link.TransferID {
	c.FileCalls.Add(1)

	if c.TransferFileFunc != nil {
		return c.TransferFileFunc(file)
	}

	return link.TransferID(fmt.Sprintf("file-%d", c.handleSeq.Add(1)))
}

func (c *MockConn) UpdateApplicationContext(data link.Payload) error {
	c.UpdateCalls.Add(1)

	if c.UpdateContextFunc != nil {
		return c.UpdateContextFunc(data)
	}

	return nil
}

func (c *MockConn) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reachable
}

func (c *MockConn) Paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paired
}

func (c *MockConn) CompanionInstalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.companion
}

func (c *MockConn) ContentPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}

func (c *MockConn) ReceivedApplicationContext() link.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.appCtx
}

func (c *MockConn) PendingUserInfoTransfers() []link.TransferID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.userInfo
}

func (c *MockConn) PendingFileTransfers() []link.TransferID {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.files
}

func (c *MockConn) Close() error {
	c.CloseCalls.Add(1)

	if c.CloseFunc != nil {
		return c.CloseFunc()
	}

	return nil
}

// SetReachable updates the reported reachability and notifies the
// delegate the way the platform does.
func (c *MockConn) SetReachable(v bool) {
	c.mu.Lock()
	c.reachable = v
	d := c.delegate
	c.mu.Unlock()

	if d != nil {
		d.ReachabilityChanged(v)
	}
}

// SetPaired updates the pairing state and fires a companion state
// change notification.
func (c *MockConn) SetPaired(v bool) {
	c.mu.Lock()
	c.paired = v
	d := c.delegate
	c.mu.Unlock()

	if d != nil {
		d.CompanionStateChanged()
	}
}

// SetCompanionInstalled updates the install state and fires a companion
// state change notification.
func (c *MockConn) SetCompanionInstalled(v bool) {
	c.mu.Lock()
	c.companion = v
	d := c.delegate
	c.mu.Unlock()

	if d != nil {
		d.CompanionStateChanged()
	}
}

// SetContentPending updates the pending-content flag without firing any
// notification.
func (c *MockConn) SetContentPending(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = v
}

// SetApplicationContext records data as the context received from the
// counterpart and notifies the delegate.
func (c *MockConn) SetApplicationContext(data link.Payload) {
	c.mu.Lock()
	c.appCtx = data
	d := c.delegate
	c.mu.Unlock()

	if d != nil {
		d.ApplicationContextReceived(data)
	}
}

// SetPendingTransfers replaces the in-flight transfer listings.
func (c *MockConn) SetPendingTransfers(userInfo, files []link.TransferID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.userInfo = userInfo
	c.files = files
}

// MockProvider hands out a fixed Conn. The zero value reports messaging
// as supported; set Unsupported or Err to exercise failure paths.
type MockProvider struct {
	Unsupported bool
	Conn        link.Conn
	Err         error

	SessionCalls atomic.Int32
}

// Compile-time interface check.
var _ link.Provider = (*MockProvider)(nil)

func (p *MockProvider) Supported() bool {
	return !p.Unsupported
}

func (p *MockProvider) Session() (link.Conn, error) {
	p.SessionCalls.Add(1)

	if p.Err != nil {
		return nil, p.Err
	}

	return p.Conn, nil
}
