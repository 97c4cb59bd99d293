// Package relay implements the websocket relay that stands in for the
// platform channel between a paired phone and wearable. The server
// pairs two endpoints by a shared pair ID and forwards frames between
// them, queueing background transfers while the counterpart is
// offline. The client side implements link.Conn so a link.Session can
// run over the relay unchanged.
package relay

import "github.com/tonimelisma/wearlink/pkg/link"

// maxFrameBytes caps inbound message size on both ends of the socket.
// File content rides base64-encoded inside a single JSON frame, so the
// cap sits far above anything a wearable realistically ships. The
// library default of 32 KiB would reject even modest files.
const maxFrameBytes = 64 << 20

// Frame kinds exchanged between client and server.
const (
	kindHello    = "hello"    // client to server: identify role and pair
	kindWelcome  = "welcome"  // server to client: counterpart snapshot
	kindPresence = "presence" // server to client: reachability flip
	kindMessage  = "message"  // live payload frame
	kindData     = "data"     // live binary frame
	kindReply    = "reply"    // answer to a frame that wanted one
	kindUserInfo = "userinfo" // queued background payload
	kindFile     = "file"     // queued file content
	kindContext  = "context"  // application context replacement
	kindAck      = "ack"      // server accepted responsibility for a transfer
	kindError    = "error"    // frame could not be delivered
)

// Endpoint roles. Each pair has at most one endpoint per role.
const (
	RolePhone = "phone"
	RoleWatch = "watch"
)

func validRole(role string) bool {
	return role == RolePhone || role == RoleWatch
}

// counterpart returns the opposite role.
func counterpart(role string) string {
	if role == RolePhone {
		return RoleWatch
	}

	return RolePhone
}

// frame is the single JSON envelope for every relay exchange. Unused
// fields are omitted on the wire.
type frame struct {
	Kind      string       `json:"kind"`
	ID        string       `json:"id,omitempty"`       // correlation handle
	ReplyTo   string       `json:"reply_to,omitempty"` // resolves the frame with this ID
	WantReply bool         `json:"want_reply,omitempty"`
	Role      string       `json:"role,omitempty"`    // hello only
	Pair      string       `json:"pair,omitempty"`    // hello only
	Observe   bool         `json:"observe,omitempty"` // hello: read-only state probe
	Drain     bool         `json:"drain,omitempty"`   // hello: replay queued transfers
	Payload   link.Payload `json:"payload,omitempty"`
	Data      []byte       `json:"data,omitempty"` // binary frames and file content
	Name      string       `json:"name,omitempty"` // file name

	// Welcome and presence fields.
	Reachable    bool `json:"reachable,omitempty"`
	Paired       bool `json:"paired,omitempty"`
	Companion    bool `json:"companion,omitempty"`
	PendingCount int  `json:"pending_count,omitempty"`

	Error string `json:"error,omitempty"`
}
