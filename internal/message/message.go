// Package message defines the JSON shapes exchanged between browser peers and
// the relay.
//
// The wire format is untagged: a message's kind is implied by which keys the
// object carries. Parse turns that into an explicit Kind so the rest of the
// relay never has to guess.
package message

import (
	"net/netip"
)

// Kind identifies which variant of the message union a value holds.
type Kind uint8

const (
	KindEncrypted Kind = iota + 1
	KindPresence
	KindPlaintext
	KindPublicKey
)

func (k Kind) String() string {
	switch k {
	case KindEncrypted:
		return "encrypted"
	case KindPresence:
		return "presence"
	case KindPlaintext:
		return "plaintext"
	case KindPublicKey:
		return "public_key"
	default:
		return "unknown"
	}
}

// Presence codes synthesized by the relay. Clients may send other values.
const (
	PresenceArrival   uint8 = 0
	PresenceDeparture uint8 = 1
)

// JSONWebKey is the subset of an EC public JWK that browsers export via
// WebCrypto. The relay treats it as opaque and only checks its shape.
type JSONWebKey struct {
	Crv    string   `json:"crv"`
	Ext    bool     `json:"ext"`
	KeyOps []string `json:"key_ops"`
	Kty    string   `json:"kty"`
	X      string   `json:"x"`
	Y      string   `json:"y"`
}

// Inbound is a message received from a peer.
//
// Only the fields belonging to Kind are meaningful. Target is set for
// KindEncrypted and names the single peer that should receive it.
type Inbound struct {
	Kind Kind

	Cipher               string
	InitializationVector string
	Target               netip.AddrPort

	Meta uint8

	Plaintext string

	// Name is the optional display name browser clients attach to plaintext
	// and presence messages. It is echoed to recipients verbatim.
	Name *string

	PublicKey *JSONWebKey
}

// Outbound is a message delivered to a peer. It mirrors Inbound but carries
// the sender's address instead of a target.
type Outbound struct {
	Kind Kind

	Cipher               string
	InitializationVector string

	Meta uint8

	Plaintext string
	Name      *string

	PublicKey *JSONWebKey

	Sender netip.AddrPort
}

// Presence returns a presence message with the given code.
func Presence(code uint8) Inbound {
	return Inbound{Kind: KindPresence, Meta: code}
}

// Target reports the peer an inbound message is addressed to. Only encrypted
// messages are directed; everything else is broadcast.
func Target(in Inbound) (netip.AddrPort, bool) {
	if in.Kind != KindEncrypted {
		return netip.AddrPort{}, false
	}
	return in.Target, true
}

// DeriveOutbound maps an inbound message to the message its recipients see.
// The target of an encrypted message is dropped; routing consumes it
// separately via Target.
func DeriveOutbound(in Inbound, sender netip.AddrPort) Outbound {
	out := Outbound{Kind: in.Kind, Sender: sender}
	switch in.Kind {
	case KindEncrypted:
		out.Cipher = in.Cipher
		out.InitializationVector = in.InitializationVector
	case KindPresence:
		out.Meta = in.Meta
		out.Name = in.Name
	case KindPlaintext:
		out.Plaintext = in.Plaintext
		out.Name = in.Name
	case KindPublicKey:
		out.PublicKey = in.PublicKey
	}
	return out
}
