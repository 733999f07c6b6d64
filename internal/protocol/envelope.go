package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Kind is the discriminator carried in the "type" field of every envelope.
type Kind int

const (
	KindNone    Kind = 0
	KindNormal  Kind = 1
	KindDiscord Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindNormal:
		return "normal"
	case KindDiscord:
		return "discord"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// DefaultOptionSeparator joins chat command options inside a Discord envelope.
const DefaultOptionSeparator = "<|OS|>"

// DiscordPayload is the Discord arm of an envelope.
type DiscordPayload struct {
	ID              uint64
	Options         string
	OptionSeparator string
}

// NormalPayload is the Normal arm of an envelope.
type NormalPayload struct {
	GUID uuid.UUID
}

// Envelope is the unit of work and of result moved between the bridge, the
// orchestrator and the agents. It is a tagged union: kind selects which arm
// is populated. Envelopes are immutable once built; every hop builds a new
// one with Reply.
type Envelope struct {
	name    string
	message string
	kind    Kind
	discord DiscordPayload
	normal  NormalPayload
}

// NewBase builds an envelope without a variant payload.
func NewBase(name, message string) Envelope {
	return Envelope{name: name, message: message, kind: KindNone}
}

// NewDiscord builds a Discord envelope. The option separator travels in-band
// so consumers never hard-code it.
func NewDiscord(name, message string, id uint64, options, separator string) Envelope {
	return Envelope{
		name:    name,
		message: message,
		kind:    KindDiscord,
		discord: DiscordPayload{ID: id, Options: options, OptionSeparator: separator},
	}
}

// NewNormal builds a Normal envelope correlated by guid.
func NewNormal(name, message string, guid uuid.UUID) Envelope {
	return Envelope{
		name:    name,
		message: message,
		kind:    KindNormal,
		normal:  NormalPayload{GUID: guid},
	}
}

func (e Envelope) Name() string    { return e.name }
func (e Envelope) Message() string { return e.message }
func (e Envelope) Kind() Kind      { return e.kind }

// Discord returns the Discord arm; ok is false for any other kind.
func (e Envelope) Discord() (DiscordPayload, bool) {
	return e.discord, e.kind == KindDiscord
}

// Normal returns the Normal arm; ok is false for any other kind.
func (e Envelope) Normal() (NormalPayload, bool) {
	return e.normal, e.kind == KindNormal
}

// Options splits the Discord option string on its in-band separator.
func (e Envelope) Options() []string {
	d, ok := e.Discord()
	if !ok || d.Options == "" {
		return nil
	}
	if d.OptionSeparator == "" {
		return []string{d.Options}
	}
	return strings.Split(d.Options, d.OptionSeparator)
}

// JoinOptions is the inverse of Envelope.Options.
func JoinOptions(options []string, separator string) string {
	return strings.Join(options, separator)
}

// Reply builds the response envelope for e. Name, kind and correlation id
// are carried through unchanged; option fields are cleared.
func (e Envelope) Reply(message string) Envelope {
	r := Envelope{name: e.name, message: message, kind: e.kind}
	switch e.kind {
	case KindDiscord:
		r.discord = DiscordPayload{ID: e.discord.ID}
	case KindNormal:
		r.normal = e.normal
	}
	return r
}

// CorrelationKey renders the variant-specific correlation id for logs and
// the journal. Base envelopes have no key.
func (e Envelope) CorrelationKey() string {
	switch e.kind {
	case KindDiscord:
		return strconv.FormatUint(e.discord.ID, 10)
	case KindNormal:
		return e.normal.GUID.String()
	default:
		return ""
	}
}

// Validate enforces the dispatch invariants: a Discord envelope needs a
// non-zero id and a Normal envelope a non-nil guid.
func (e Envelope) Validate() error {
	switch e.kind {
	case KindDiscord:
		if e.discord.ID == 0 {
			return fmt.Errorf("%w: discord envelope %q has id 0", ErrMalformedEnvelope, e.name)
		}
	case KindNormal:
		if e.normal.GUID == uuid.Nil {
			return fmt.Errorf("%w: normal envelope %q has nil guid", ErrMalformedEnvelope, e.name)
		}
	}
	return nil
}
