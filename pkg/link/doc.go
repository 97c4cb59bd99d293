// Package link is an asynchronous façade over a platform-provided
// bidirectional channel between two paired devices (a phone-class device and
// its companion wearable). It owns the activation lifecycle, converts the
// platform's callback-style delegate notifications into awaitable operations
// and FIFO receive queues, and serializes all session state behind a single
// Session instance.
//
// The platform boundary is the Provider/Conn/Delegate interface set. The
// façade never assumes anything about how bytes move between the devices;
// internal/relay implements the boundary over a websocket relay, and
// linktest provides in-memory implementations for tests.
//
// Known limitation: inbound messages that expect a reply are logged and
// dropped; no reply is ever sent back to the counterpart. Outbound
// request/response (RequestMessage, RequestData) works because the reply
// path there is owned by the platform connection, not by this package.
package link
