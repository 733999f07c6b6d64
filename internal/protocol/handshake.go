package protocol

// Names of the two envelopes exchanged over the bridge's stdin/stdout when
// the orchestrator launches it. The handshake message is the front-door
// address; the ready message is free text.
const (
	NameHandshake = "handshake"
	NameReady     = "ready"
)

// NewHandshake builds the orchestrator's opening envelope.
func NewHandshake(frontDoor string) Envelope {
	return NewBase(NameHandshake, frontDoor)
}

// NewReady builds the bridge's acknowledgement.
func NewReady(detail string) Envelope {
	return NewBase(NameReady, detail)
}
