package link

// Payload is a key-value payload exchanged with the counterpart device.
// Values must be JSON-representable so providers can put them on a wire.
type Payload map[string]any

// TransferID is the opaque correlation handle a platform connection issues
// when a background transfer is initiated. Each invocation yields a unique
// handle; the matching completion callback carries the same handle.
type TransferID string

// File is a staged file handle with its sender-supplied metadata. Outgoing
// transfers reference a local path to read; received files reference the
// path the provider staged the payload at.
type File struct {
	Path     string
	Metadata Payload
}

// Provider is the entry point to a platform implementation.
type Provider interface {
	// Supported reports whether this device class can use the channel at
	// all. When false, every session-touching operation fails with
	// ErrNotSupported and the platform is never contacted.
	Supported() bool

	// Session returns the platform's communication session. The façade
	// calls it at most once and caches the result for its lifetime.
	Session() (Conn, error)
}

// Conn is the platform session surface. It mirrors the platform's own
// shape: imperative calls return immediately and outcomes arrive through
// the installed Delegate or through the per-call reply/error callbacks.
//
// Callbacks may fire from any goroutine, including concurrently; the
// installed Delegate and the per-call callbacks tolerate overlapping
// invocations. Inbound receive callbacks must preserve arrival order
// within each content kind.
type Conn interface {
	// Activate begins the activation handshake. The outcome arrives on the
	// delegate's ActivationDidComplete; there is no synchronous failure.
	Activate()

	// SendMessage delivers a live message to the counterpart. When onReply
	// is non-nil the counterpart may answer and exactly one of onReply or
	// onError fires; with a nil onReply the message is fire-and-forget and
	// both callbacks may be nil.
	SendMessage(msg Payload, onReply func(Payload), onError func(error))

	// SendData is SendMessage for raw byte payloads.
	SendData(data []byte, onReply func([]byte), onError func(error))

	// TransferUserInfo queues a user-info dictionary for guaranteed
	// eventual delivery and returns its handle. Completion (success or
	// failure) arrives on the delegate's UserInfoTransferFinished.
	TransferUserInfo(info Payload) TransferID

	// TransferFile queues a file for guaranteed eventual delivery and
	// returns its handle. Completion arrives on FileTransferFinished.
	TransferFile(file File) TransferID

	// UpdateApplicationContext overwrites the single outgoing context
	// dictionary delivered to the counterpart when convenient.
	UpdateApplicationContext(data Payload) error

	Reachable() bool
	Paired() bool
	CompanionInstalled() bool
	ContentPending() bool
	ReceivedApplicationContext() Payload
	PendingUserInfoTransfers() []TransferID
	PendingFileTransfers() []TransferID

	// SetDelegate installs the callback target for push notifications.
	// Called once, before Activate.
	SetDelegate(d Delegate)

	Close() error
}

// Delegate is the platform's push notification surface. The façade installs
// its own adapter here; providers call these methods as events occur.
type Delegate interface {
	ActivationDidComplete(state ActivationState, err error)
	SessionDeactivated()
	ReachabilityChanged(reachable bool)
	CompanionStateChanged()
	ApplicationContextReceived(data Payload)

	MessageReceived(msg Payload)
	MessageReceivedWithReply(msg Payload, reply func(Payload))
	DataReceived(data []byte)
	DataReceivedWithReply(data []byte, reply func([]byte))

	UserInfoReceived(info Payload)
	UserInfoTransferFinished(id TransferID, err error)
	FileReceived(file File)
	FileTransferFinished(id TransferID, err error)
}
