package message

import (
	"encoding/json"
	"fmt"
	"net/netip"
)

type wireEncrypted struct {
	Cipher               string         `json:"cipher"`
	InitializationVector string         `json:"initialization_vector"`
	SenderAddr           netip.AddrPort `json:"sender_addr"`
}

type wirePresence struct {
	Meta       uint8          `json:"meta"`
	Name       *string        `json:"name,omitempty"`
	SenderAddr netip.AddrPort `json:"sender_addr"`
}

type wirePlaintext struct {
	Plaintext  string         `json:"plaintext"`
	Name       *string        `json:"name,omitempty"`
	SenderAddr netip.AddrPort `json:"sender_addr"`
}

type wirePublicKey struct {
	PublicKey  *JSONWebKey    `json:"public_key"`
	SenderAddr netip.AddrPort `json:"sender_addr"`
}

// MarshalJSON encodes the message in its untagged wire form. Outbound
// messages never carry recv_addr.
func (m Outbound) MarshalJSON() ([]byte, error) {
	switch m.Kind {
	case KindEncrypted:
		return json.Marshal(wireEncrypted{
			Cipher:               m.Cipher,
			InitializationVector: m.InitializationVector,
			SenderAddr:           m.Sender,
		})
	case KindPresence:
		return json.Marshal(wirePresence{Meta: m.Meta, Name: m.Name, SenderAddr: m.Sender})
	case KindPlaintext:
		return json.Marshal(wirePlaintext{Plaintext: m.Plaintext, Name: m.Name, SenderAddr: m.Sender})
	case KindPublicKey:
		if m.PublicKey == nil {
			return nil, fmt.Errorf("message: public_key message without key")
		}
		key := *m.PublicKey
		if key.KeyOps == nil {
			key.KeyOps = []string{}
		}
		return json.Marshal(wirePublicKey{PublicKey: &key, SenderAddr: m.Sender})
	default:
		return nil, fmt.Errorf("message: cannot encode kind %d", m.Kind)
	}
}

// Encode returns the frame payload for m.
func Encode(m Outbound) ([]byte, error) {
	return m.MarshalJSON()
}
