package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrMalformedEnvelope reports a bad or missing discriminator or a missing
// required variant field.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// wireEnvelope is the flattened JSON shape shared by every variant.
type wireEnvelope struct {
	Name    string  `json:"name"`
	Message string  `json:"message"`
	Type    Kind    `json:"type"`
	ID      *uint64 `json:"id,omitempty"`
	Options *string `json:"options,omitempty"`
	OptSp   *string `json:"opt_sp,omitempty"`
	GUID    *string `json:"guid,omitempty"`
}

// discriminator is decoded before anything else.
type discriminator struct {
	Type *Kind `json:"type"`
}

// MarshalJSON emits the base fields plus the active arm's fields flattened.
func (e Envelope) MarshalJSON() ([]byte, error) {
	w := wireEnvelope{Name: e.name, Message: e.message, Type: e.kind}
	switch e.kind {
	case KindDiscord:
		id, opts, sp := e.discord.ID, e.discord.Options, e.discord.OptionSeparator
		w.ID, w.Options, w.OptSp = &id, &opts, &sp
	case KindNormal:
		g := e.normal.GUID.String()
		w.GUID = &g
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the discriminator first and then the matching arm.
// Unknown kinds fall back to the base shape.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var d discriminator
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if d.Type == nil {
		return fmt.Errorf("%w: missing field %q", ErrMalformedEnvelope, "type")
	}

	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	out := Envelope{name: w.Name, message: w.Message}
	switch *d.Type {
	case KindDiscord:
		required := []struct {
			field   string
			present bool
		}{
			{"id", w.ID != nil},
			{"options", w.Options != nil},
			{"opt_sp", w.OptSp != nil},
		}
		for _, r := range required {
			if !r.present {
				return fmt.Errorf("%w: discord envelope missing field %q", ErrMalformedEnvelope, r.field)
			}
		}
		out.kind = KindDiscord
		out.discord = DiscordPayload{ID: *w.ID, Options: *w.Options, OptionSeparator: *w.OptSp}
	case KindNormal:
		if w.GUID == nil {
			return fmt.Errorf("%w: normal envelope missing field %q", ErrMalformedEnvelope, "guid")
		}
		g, err := uuid.Parse(*w.GUID)
		if err != nil {
			return fmt.Errorf("%w: invalid guid: %v", ErrMalformedEnvelope, err)
		}
		out.kind = KindNormal
		out.normal = NormalPayload{GUID: g}
	default:
		out.kind = KindNone
	}

	*e = out
	return nil
}

// Encode serializes env to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b, nil
}

// EncodeString is Encode for text transports.
func EncodeString(env Envelope) (string, error) {
	b, err := Encode(env)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses one envelope. Empty input is malformed.
func Decode(data []byte) (Envelope, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty input", ErrMalformedEnvelope)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if errors.Is(err, ErrMalformedEnvelope) {
			return Envelope{}, err
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return env, nil
}

// DecodeString is Decode for text transports.
func DecodeString(s string) (Envelope, error) {
	return Decode([]byte(s))
}
