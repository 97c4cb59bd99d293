package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/tonimelisma/wearlink/pkg/link"
)

const dialTimeout = 30 * time.Second

var errNotConnected = errors.New("relay: not connected")

// ClientConfig configures a relay-backed link provider.
type ClientConfig struct {
	URL  string // relay websocket URL, e.g. wss://relay.example.com/ws
	Pair string // pair identifier shared by both devices
	Role string // "phone" or "watch"

	// Token is a static bearer token. TokenURL switches to the OAuth2
	// client-credentials flow instead (the relay then sits behind an
	// authenticating proxy that validates minted tokens).
	Token        string
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Observe attaches as a read-only state probe. The session sees
	// the welcome snapshot but is never registered as the live
	// endpoint, so it cannot supersede a running daemon or receive
	// content meant for it.
	Observe bool

	// Drain asks the relay to replay transfers queued for this role.
	// Sessions that do not consume their reception queues leave it
	// off so queued content survives them.
	Drain bool

	InboxDir string // where received files are staged
	Logger   *slog.Logger
}

// Provider implements link.Provider over a relay server.
type Provider struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// Compile-time interface check.
var _ link.Provider = (*Provider)(nil)

// NewProvider validates cfg and returns a relay provider.
func NewProvider(cfg ClientConfig) (*Provider, error) {
	if cfg.URL == "" {
		return nil, errors.New("relay: relay URL required")
	}

	if !validRole(cfg.Role) {
		return nil, fmt.Errorf("relay: invalid role %q", cfg.Role)
	}

	if cfg.Pair == "" {
		return nil, errors.New("relay: pair identifier required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Provider{cfg: cfg, logger: logger}, nil
}

func (p *Provider) Supported() bool {
	return p.cfg.URL != "" && validRole(p.cfg.Role)
}

// Session returns a new, not yet connected conn. The dial happens on
// Activate, mirroring how the platform defers channel setup.
func (p *Provider) Session() (link.Conn, error) {
	return &client{
		cfg:        p.cfg,
		logger:     p.logger,
		httpClient: httpClientFor(context.Background(), p.cfg),
		replies:    make(map[string]replyWaiter),
		transfers:  make(map[string]string),
	}, nil
}

// replyWaiter holds the callbacks for a frame that wants an answer.
type replyWaiter struct {
	onPayload func(link.Payload)
	onData    func([]byte)
	onError   func(error)
}

// client implements link.Conn over a relay websocket.
type client struct {
	cfg        ClientConfig
	logger     *slog.Logger
	httpClient *http.Client

	writeMu sync.Mutex // serializes socket writes

	mu           sync.Mutex
	delegate     link.Delegate
	conn         *websocket.Conn
	replies      map[string]replyWaiter
	transfers    map[string]string // transfer handle to frame kind
	reachable    bool
	paired       bool
	companion    bool
	pendingCount int
	appCtx       link.Payload
	closed       bool
}

// Compile-time interface check.
var _ link.Conn = (*client)(nil)

func (c *client) SetDelegate(d link.Delegate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.delegate = d
}

func (c *client) currentDelegate() link.Delegate {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.delegate
}

// Activate dials the relay in the background. The outcome arrives
// through the delegate.
func (c *client) Activate() {
	go c.activate()
}

func (c *client) activate() {
	d := c.currentDelegate()

	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()

		if d != nil {
			d.ActivationDidComplete(link.Activated, nil)
		}

		return
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, welcome, err := c.dial(ctx)
	if err != nil {
		c.logger.Warn("relay: activation failed", "error", err)

		if d != nil {
			d.ActivationDidComplete(link.NotActivated, err)
		}

		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "session closed")

		return
	}

	c.conn = conn
	c.reachable = welcome.Reachable
	c.paired = welcome.Paired
	c.companion = welcome.Companion
	c.pendingCount = welcome.PendingCount

	if welcome.Payload != nil {
		c.appCtx = welcome.Payload
	}
	c.mu.Unlock()

	c.logger.Info("relay: connected",
		slog.String("role", c.cfg.Role),
		slog.Bool("reachable", welcome.Reachable),
		slog.Int("pending", welcome.PendingCount),
	)

	if d != nil {
		d.ActivationDidComplete(link.Activated, nil)
	}

	go c.readLoop(conn)
}

// dial connects, identifies this endpoint, and waits for the welcome
// snapshot.
func (c *client) dial(ctx context.Context) (*websocket.Conn, *frame, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("relay: dialing %s: %w", c.cfg.URL, err)
	}

	conn.SetReadLimit(maxFrameBytes)

	hello := frame{
		Kind:    kindHello,
		Role:    c.cfg.Role,
		Pair:    c.cfg.Pair,
		Observe: c.cfg.Observe,
		Drain:   c.cfg.Drain,
	}
	if err := wsjson.Write(ctx, conn, &hello); err != nil {
		conn.Close(websocket.StatusInternalError, "hello failed")
		return nil, nil, fmt.Errorf("relay: sending hello: %w", err)
	}

	var welcome frame
	if err := wsjson.Read(ctx, conn, &welcome); err != nil {
		conn.Close(websocket.StatusInternalError, "welcome failed")
		return nil, nil, fmt.Errorf("relay: reading welcome: %w", err)
	}

	if welcome.Kind != kindWelcome {
		conn.Close(websocket.StatusProtocolError, "expected welcome")
		return nil, nil, fmt.Errorf("relay: unexpected %q frame before welcome", welcome.Kind)
	}

	return conn, &welcome, nil
}

// write sends one frame over the live socket.
func (c *client) write(f *frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wsjson.Write(ctx, conn, f); err != nil {
		return fmt.Errorf("relay: writing %s frame: %w", f.Kind, err)
	}

	return nil
}

func (c *client) SendMessage(msg link.Payload, onReply func(link.Payload), onError func(error)) {
	f := frame{Kind: kindMessage, ID: uuid.NewString(), Payload: msg}

	if onReply != nil {
		f.WantReply = true
		c.addWaiter(f.ID, replyWaiter{onPayload: onReply, onError: onError})
	}

	if err := c.write(&f); err != nil {
		c.dropWaiter(f.ID)

		if onError != nil {
			onError(err)
		}
	}
}

func (c *client) SendData(data []byte, onReply func([]byte), onError func(error)) {
	f := frame{Kind: kindData, ID: uuid.NewString(), Data: data}

	if onReply != nil {
		f.WantReply = true
		c.addWaiter(f.ID, replyWaiter{onData: onReply, onError: onError})
	}

	if err := c.write(&f); err != nil {
		c.dropWaiter(f.ID)

		if onError != nil {
			onError(err)
		}
	}
}

func (c *client) addWaiter(id string, w replyWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.replies[id] = w
}

func (c *client) dropWaiter(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.replies, id)
}

// TransferUserInfo hands the payload to the relay in the background.
// The handle is registered before the frame leaves so the ack can
// never outrun it.
func (c *client) TransferUserInfo(info link.Payload) link.TransferID {
	id := uuid.NewString()

	c.mu.Lock()
	c.transfers[id] = kindUserInfo
	c.mu.Unlock()

	go c.sendTransfer(frame{Kind: kindUserInfo, ID: id, Payload: info})

	return link.TransferID(id)
}

// TransferFile reads the file and ships name, metadata, and content in
// a single frame. Wearable payloads are small; no chunking.
func (c *client) TransferFile(file link.File) link.TransferID {
	id := uuid.NewString()

	c.mu.Lock()
	c.transfers[id] = kindFile
	c.mu.Unlock()

	go func() {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			c.completeTransfer(link.TransferID(id), fmt.Errorf("relay: reading %s: %w", file.Path, err))
			return
		}

		c.sendTransfer(frame{
			Kind:    kindFile,
			ID:      id,
			Name:    filepath.Base(file.Path),
			Payload: file.Metadata,
			Data:    data,
		})
	}()

	return link.TransferID(id)
}

func (c *client) sendTransfer(f frame) {
	if err := c.write(&f); err != nil {
		c.completeTransfer(link.TransferID(f.ID), err)
	}
	// On success the ack frame resolves the handle.
}

// completeTransfer resolves an outstanding transfer handle through the
// delegate.
func (c *client) completeTransfer(id link.TransferID, err error) {
	c.mu.Lock()
	kind, ok := c.transfers[string(id)]
	delete(c.transfers, string(id))
	d := c.delegate
	c.mu.Unlock()

	if !ok || d == nil {
		return
	}

	switch kind {
	case kindUserInfo:
		d.UserInfoTransferFinished(id, err)
	case kindFile:
		d.FileTransferFinished(id, err)
	}
}

func (c *client) UpdateApplicationContext(data link.Payload) error {
	if err := c.write(&frame{Kind: kindContext, Payload: data}); err != nil {
		return fmt.Errorf("relay: publishing context: %w", err)
	}

	return nil
}

func (c *client) Reachable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && c.reachable
}

func (c *client) Paired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.paired
}

func (c *client) CompanionInstalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.companion
}

func (c *client) ContentPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pendingCount > 0
}

func (c *client) ReceivedApplicationContext() link.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.appCtx
}

func (c *client) PendingUserInfoTransfers() []link.TransferID {
	return c.pendingTransfers(kindUserInfo)
}

func (c *client) PendingFileTransfers() []link.TransferID {
	return c.pendingTransfers(kindFile)
}

func (c *client) pendingTransfers(kind string) []link.TransferID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []link.TransferID

	for id, k := range c.transfers {
		if k == kind {
			ids = append(ids, link.TransferID(id))
		}
	}

	return ids
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}

	return nil
}

// readLoop dispatches inbound frames in arrival order until the socket
// drops.
func (c *client) readLoop(conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(context.Background(), conn, &f); err != nil {
			c.handleDisconnect(err)
			return
		}

		c.handleFrame(&f)
	}
}

func (c *client) handleFrame(f *frame) {
	d := c.currentDelegate()

	switch f.Kind {
	case kindPresence:
		c.mu.Lock()
		c.reachable = f.Reachable
		c.mu.Unlock()

		if d != nil {
			d.ReachabilityChanged(f.Reachable)
		}
	case kindMessage:
		if d == nil {
			return
		}

		if f.WantReply {
			id := f.ID
			d.MessageReceivedWithReply(f.Payload, func(reply link.Payload) {
				if err := c.write(&frame{Kind: kindReply, ReplyTo: id, Payload: reply}); err != nil {
					c.logger.Warn("relay: reply send failed", "error", err)
				}
			})

			return
		}

		d.MessageReceived(f.Payload)
	case kindData:
		if d == nil {
			return
		}

		if f.WantReply {
			id := f.ID
			d.DataReceivedWithReply(f.Data, func(reply []byte) {
				if err := c.write(&frame{Kind: kindReply, ReplyTo: id, Data: reply}); err != nil {
					c.logger.Warn("relay: reply send failed", "error", err)
				}
			})

			return
		}

		d.DataReceived(f.Data)
	case kindReply:
		c.resolveReply(f)
	case kindAck:
		c.completeTransfer(link.TransferID(f.ReplyTo), nil)
	case kindError:
		c.resolveError(f)
	case kindUserInfo:
		c.notePendingDrained()

		if d != nil {
			d.UserInfoReceived(f.Payload)
		}
	case kindFile:
		c.notePendingDrained()

		staged, err := c.stageFile(f)
		if err != nil {
			c.logger.Warn("relay: dropping inbound file", slog.String("name", f.Name), "error", err)
			return
		}

		if d != nil {
			d.FileReceived(staged)
		}
	case kindContext:
		c.mu.Lock()
		c.appCtx = f.Payload
		c.mu.Unlock()

		if d != nil {
			d.ApplicationContextReceived(f.Payload)
		}
	default:
		c.logger.Warn("relay: dropping unknown frame kind", slog.String("kind", f.Kind))
	}
}

func (c *client) resolveReply(f *frame) {
	c.mu.Lock()
	w, ok := c.replies[f.ReplyTo]
	delete(c.replies, f.ReplyTo)
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("relay: dropping reply with no waiter", slog.String("id", f.ReplyTo))
		return
	}

	switch {
	case w.onPayload != nil:
		w.onPayload(f.Payload)
	case w.onData != nil:
		w.onData(f.Data)
	}
}

func (c *client) resolveError(f *frame) {
	err := errors.New("relay: " + f.Error)

	c.mu.Lock()
	w, ok := c.replies[f.ReplyTo]
	delete(c.replies, f.ReplyTo)
	c.mu.Unlock()

	if ok {
		if w.onError != nil {
			w.onError(err)
		}

		return
	}

	// Not a live frame; maybe a transfer handle.
	c.completeTransfer(link.TransferID(f.ReplyTo), err)
}

func (c *client) notePendingDrained() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pendingCount > 0 {
		c.pendingCount--
	}
}

// stageFile writes inbound file content into the inbox directory,
// normalizing the name and dodging collisions.
func (c *client) stageFile(f *frame) (link.File, error) {
	dir := c.cfg.InboxDir
	if dir == "" {
		dir = os.TempDir()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return link.File{}, fmt.Errorf("relay: creating inbox %s: %w", dir, err)
	}

	name := norm.NFC.String(filepath.Base(f.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = "transfer-" + f.ID
	}

	path := uniquePath(filepath.Join(dir, name))

	if err := os.WriteFile(path, f.Data, 0o600); err != nil {
		return link.File{}, fmt.Errorf("relay: staging %s: %w", name, err)
	}

	return link.File{Path: path, Metadata: f.Payload}, nil
}

// uniquePath appends " (n)" before the extension until the name is
// free.
func uniquePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, i, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}

// handleDisconnect fails every outstanding wait and maps the relay
// drop to a session deactivation so the owner can re-activate.
func (c *client) handleDisconnect(cause error) {
	c.mu.Lock()
	wasClosed := c.closed
	c.conn = nil
	c.reachable = false

	waiters := c.replies
	c.replies = make(map[string]replyWaiter)

	transfers := c.transfers
	c.transfers = make(map[string]string)

	d := c.delegate
	c.mu.Unlock()

	for _, w := range waiters {
		if w.onError != nil {
			w.onError(errNotConnected)
		}
	}

	for id, kind := range transfers {
		if d == nil {
			break
		}

		switch kind {
		case kindUserInfo:
			d.UserInfoTransferFinished(link.TransferID(id), errNotConnected)
		case kindFile:
			d.FileTransferFinished(link.TransferID(id), errNotConnected)
		}
	}

	if wasClosed {
		return
	}

	status := websocket.CloseStatus(cause)
	if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
		c.logger.Info("relay: connection closed")
	} else {
		c.logger.Warn("relay: connection lost", "error", cause)
	}

	if d != nil {
		d.ReachabilityChanged(false)
		d.SessionDeactivated()
	}
}
