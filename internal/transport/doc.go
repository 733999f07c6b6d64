// Package transport moves text messages between switchyard processes.
//
// Two framings are provided:
//   - Sentinel framing over TCP (Conn). Every outgoing message is suffixed
//     with the end-of-message marker "<|EOM|>". The receiver accumulates bytes
//     and delivers everything before the first marker as one message. The
//     bare "<|ACK|>" and "<|SDW|>" sentinels are control signals and are never
//     delivered as messages.
//   - Length-prefixed framing over pipes (PipeConn). A two byte big-endian
//     header carries the UTF-16LE byte length of the payload, capped at 65535.
//
// The marker is an ordinary substring, not an escaped boundary: a payload
// containing "<|EOM|>" is split at that point. Callers that send JSON are
// unaffected because encoding/json escapes '<' and '>'.
//
// Send on a connection that has not been established yet drops the message
// and logs it. Messages returns a channel that is closed when the peer goes
// away; a closed connection is never resumed.
package transport
