package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/wearlink/pkg/link"
)

// endpoint is one live websocket attached to a pair.
type endpoint struct {
	role    string
	conn    *websocket.Conn
	observe bool // welcome snapshot only, never registered
	drain   bool // queued transfers replay on attach

	writeMu sync.Mutex
}

// write sends one frame, serializing writers on this socket.
func (e *endpoint) write(f *frame) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	return wsjson.Write(ctx, e.conn, f)
}

// pairState tracks both roles of one pair: the live endpoints, frames
// queued for offline roles, and the latest application context
// published for each role. The mutex is never held across a socket
// write.
type pairState struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	endpoints map[string]*endpoint
	queued    map[string][]frame      // destination role to waiting frames
	appCtx    map[string]link.Payload // destination role to latest context
	seen      map[string]bool         // roles that have connected at least once
}

func newPairState(id string, logger *slog.Logger) *pairState {
	return &pairState{
		id:        id,
		logger:    logger,
		endpoints: make(map[string]*endpoint),
		queued:    make(map[string][]frame),
		appCtx:    make(map[string]link.Payload),
		seen:      make(map[string]bool),
	}
}

// attach registers ep, sends its welcome snapshot, and flips presence
// for the counterpart. The welcome carries the stored application
// context so the joiner can read it synchronously after activation.
// Backlog queued for the role replays only to draining endpoints;
// everything else leaves it on the relay for a consumer that will
// actually process it. Observers get the welcome and nothing more:
// they are never registered, so they cannot supersede a live endpoint
// or leak content.
func (p *pairState) attach(ep *endpoint) {
	other := counterpart(ep.role)

	if ep.observe {
		p.mu.Lock()
		welcome := frame{
			Kind:         kindWelcome,
			Reachable:    p.endpoints[other] != nil,
			Paired:       p.seen[other],
			Companion:    p.seen[other],
			PendingCount: len(p.queued[ep.role]),
			Payload:      p.appCtx[ep.role],
		}
		p.mu.Unlock()

		if err := ep.write(&welcome); err != nil {
			p.logger.Warn("relay: welcome write failed", slog.String("pair", p.id), "error", err)
		}

		return
	}

	p.mu.Lock()
	old := p.endpoints[ep.role]
	p.endpoints[ep.role] = ep
	p.seen[ep.role] = true

	welcome := frame{
		Kind:         kindWelcome,
		Reachable:    p.endpoints[other] != nil,
		Paired:       p.seen[other],
		Companion:    p.seen[other],
		PendingCount: len(p.queued[ep.role]),
		Payload:      p.appCtx[ep.role],
	}

	var backlog []frame
	if ep.drain {
		backlog = p.queued[ep.role]
		delete(p.queued, ep.role)
	}

	peer := p.endpoints[other]
	p.mu.Unlock()

	if old != nil {
		// Newest connection for a role wins.
		p.logger.Warn("relay: superseding endpoint",
			slog.String("pair", p.id),
			slog.String("role", ep.role),
		)
		old.conn.Close(websocket.StatusNormalClosure, "superseded")
	}

	if err := ep.write(&welcome); err != nil {
		p.logger.Warn("relay: welcome write failed", slog.String("pair", p.id), "error", err)
		return
	}

	for i := range backlog {
		if err := ep.write(&backlog[i]); err != nil {
			// Requeue whatever did not make it before the drop.
			p.mu.Lock()
			p.queued[ep.role] = append(backlog[i:], p.queued[ep.role]...)
			p.mu.Unlock()

			p.logger.Warn("relay: backlog flush interrupted",
				slog.String("pair", p.id),
				slog.Int("remaining", len(backlog)-i),
			)

			return
		}
	}

	if len(backlog) > 0 {
		p.logger.Info("relay: backlog flushed",
			slog.String("pair", p.id),
			slog.String("role", ep.role),
			slog.Int("frames", len(backlog)),
		)
	}

	if peer != nil {
		_ = peer.write(&frame{Kind: kindPresence, Reachable: true})
	}
}

// detach unregisters ep and flips presence for the counterpart. A
// superseded endpoint detaching leaves its replacement untouched.
func (p *pairState) detach(ep *endpoint) {
	other := counterpart(ep.role)

	p.mu.Lock()
	if p.endpoints[ep.role] != ep {
		p.mu.Unlock()
		return
	}

	delete(p.endpoints, ep.role)
	peer := p.endpoints[other]
	p.mu.Unlock()

	if peer != nil {
		_ = peer.write(&frame{Kind: kindPresence, Reachable: false})
	}
}

func (p *pairState) dispatch(from *endpoint, f *frame, echo bool) {
	if from.observe {
		p.failFrame(from, f, "observer connections are read-only")
		return
	}

	switch f.Kind {
	case kindMessage, kindData:
		p.relayLive(from, f, echo)
	case kindReply:
		p.relayReply(from, f)
	case kindUserInfo, kindFile:
		p.relayTransfer(from, f)
	case kindContext:
		p.relayContext(from, f)
	default:
		p.logger.Warn("relay: dropping unknown frame kind",
			slog.String("pair", p.id),
			slog.String("kind", f.Kind),
		)
	}
}

func (p *pairState) peerOf(role string) *endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.endpoints[counterpart(role)]
}

// relayLive forwards a live frame, or fails it back to the sender when
// the counterpart is offline. In echo mode the server answers
// want-reply frames itself.
func (p *pairState) relayLive(from *endpoint, f *frame, echo bool) {
	if echo && f.WantReply {
		reply := frame{Kind: kindReply, ReplyTo: f.ID, Payload: f.Payload, Data: f.Data}
		if err := from.write(&reply); err != nil {
			p.logger.Warn("relay: echo reply failed", slog.String("pair", p.id), "error", err)
		}

		return
	}

	peer := p.peerOf(from.role)
	if peer == nil {
		p.failFrame(from, f, "counterpart not reachable")
		return
	}

	if err := peer.write(f); err != nil {
		p.failFrame(from, f, "counterpart write failed")
	}
}

// failFrame reports a delivery failure to the sender. Whether anything
// listens is the sender's business; fire-and-forget senders ignore it.
func (p *pairState) failFrame(from *endpoint, f *frame, reason string) {
	p.logger.Debug("relay: frame undeliverable",
		slog.String("pair", p.id),
		slog.String("kind", f.Kind),
		slog.String("reason", reason),
	)

	if f.ID == "" {
		return
	}

	errFrame := frame{Kind: kindError, ReplyTo: f.ID, Error: reason}
	if err := from.write(&errFrame); err != nil {
		p.logger.Warn("relay: error frame write failed", slog.String("pair", p.id), "error", err)
	}
}

func (p *pairState) relayReply(from *endpoint, f *frame) {
	peer := p.peerOf(from.role)
	if peer == nil {
		p.logger.Debug("relay: dropping reply for offline counterpart",
			slog.String("pair", p.id))

		return
	}

	if err := peer.write(f); err != nil {
		p.logger.Warn("relay: reply forward failed", slog.String("pair", p.id), "error", err)
	}
}

// relayTransfer forwards a background transfer when the counterpart is
// online and queues it otherwise. Either way the sender gets an ack:
// once accepted, delivery is the relay's responsibility. Only draining
// endpoints take live delivery, so a transfer cannot land on a session
// that exits without processing it.
func (p *pairState) relayTransfer(from *endpoint, f *frame) {
	dest := counterpart(from.role)

	peer := p.peerOf(from.role)
	delivered := false

	if peer != nil && peer.drain {
		delivered = peer.write(f) == nil
	}

	if !delivered {
		p.mu.Lock()
		p.queued[dest] = append(p.queued[dest], *f)
		n := len(p.queued[dest])
		p.mu.Unlock()

		p.logger.Info("relay: transfer queued",
			slog.String("pair", p.id),
			slog.String("kind", f.Kind),
			slog.Int("backlog", n),
		)
	}

	if err := from.write(&frame{Kind: kindAck, ReplyTo: f.ID}); err != nil {
		p.logger.Warn("relay: ack write failed", slog.String("pair", p.id), "error", err)
	}
}

// relayContext stores the latest context for the counterpart and
// forwards it when online. Newer contexts replace queued ones.
func (p *pairState) relayContext(from *endpoint, f *frame) {
	dest := counterpart(from.role)

	p.mu.Lock()
	p.appCtx[dest] = f.Payload
	p.mu.Unlock()

	peer := p.peerOf(from.role)
	if peer == nil {
		return
	}

	if err := peer.write(f); err != nil {
		p.logger.Warn("relay: context forward failed", slog.String("pair", p.id), "error", err)
	}
}

func (p *pairState) closeEndpoints() {
	p.mu.Lock()
	eps := make([]*endpoint, 0, len(p.endpoints))

	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mu.Unlock()

	for _, ep := range eps {
		ep.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
