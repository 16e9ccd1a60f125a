package message

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrMalformed is returned for non-empty payloads that do not match exactly
// one message variant.
var ErrMalformed = errors.New("message: malformed")

const (
	keyCipher               = "cipher"
	keyInitializationVector = "initialization_vector"
	keyRecvAddr             = "recv_addr"
	keyMeta                 = "meta"
	keyPlaintext            = "plaintext"
	keyPublicKey            = "public_key"
	keyName                 = "name"
)

var (
	messageKeys = []string{keyCipher, keyInitializationVector, keyRecvAddr, keyMeta, keyPlaintext, keyPublicKey, keyName}
	jwkKeys     = []string{"crv", "ext", "key_ops", "kty", "x", "y"}
)

// IsBlank reports whether a frame carries no message at all. Blank frames are
// ignored rather than treated as malformed.
func IsBlank(data []byte) bool {
	return len(bytes.TrimSpace(data)) == 0
}

// Parse decodes one inbound frame.
//
// The variant is selected by key presence. An object that carries keys of
// more than one variant (e.g. both "plaintext" and "public_key") is rejected
// instead of being resolved by priority, as is a known key that appears
// twice. Keys that belong to no variant are ignored.
func Parse(data []byte) (Inbound, error) {
	if !utf8.Valid(data) {
		return Inbound{}, fmt.Errorf("%w: invalid utf-8", ErrMalformed)
	}
	if !gjson.ValidBytes(data) {
		return Inbound{}, fmt.Errorf("%w: invalid json", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Inbound{}, fmt.Errorf("%w: expected json object", ErrMalformed)
	}
	if err := rejectDuplicateKeys(root, messageKeys); err != nil {
		return Inbound{}, err
	}

	kind, err := detectKind(root)
	if err != nil {
		return Inbound{}, err
	}

	switch kind {
	case KindEncrypted:
		return parseEncrypted(root)
	case KindPresence:
		return parsePresence(root)
	case KindPlaintext:
		return parsePlaintext(root)
	default:
		return parsePublicKey(root)
	}
}

func detectKind(root gjson.Result) (Kind, error) {
	var found []Kind
	if root.Get(keyCipher).Exists() || root.Get(keyInitializationVector).Exists() || root.Get(keyRecvAddr).Exists() {
		found = append(found, KindEncrypted)
	}
	if root.Get(keyMeta).Exists() {
		found = append(found, KindPresence)
	}
	if root.Get(keyPlaintext).Exists() {
		found = append(found, KindPlaintext)
	}
	if root.Get(keyPublicKey).Exists() {
		found = append(found, KindPublicKey)
	}

	switch len(found) {
	case 0:
		return 0, fmt.Errorf("%w: no known message keys", ErrMalformed)
	case 1:
		return found[0], nil
	default:
		return 0, fmt.Errorf("%w: ambiguous message (%s and %s keys present)", ErrMalformed, found[0], found[1])
	}
}

func parseEncrypted(root gjson.Result) (Inbound, error) {
	cipher, err := requireString(root, keyCipher)
	if err != nil {
		return Inbound{}, err
	}
	iv, err := requireString(root, keyInitializationVector)
	if err != nil {
		return Inbound{}, err
	}
	rawTarget, err := requireString(root, keyRecvAddr)
	if err != nil {
		return Inbound{}, err
	}
	target, err := ParseAddr(rawTarget)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformed, keyRecvAddr, err)
	}
	return Inbound{
		Kind:                 KindEncrypted,
		Cipher:               cipher,
		InitializationVector: iv,
		Target:               target,
	}, nil
}

func parsePresence(root gjson.Result) (Inbound, error) {
	v := root.Get(keyMeta)
	if v.Type != gjson.Number {
		return Inbound{}, fmt.Errorf("%w: %s must be a number", ErrMalformed, keyMeta)
	}
	code, err := strconv.ParseUint(v.Raw, 10, 8)
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s must be an integer in [0, 255]", ErrMalformed, keyMeta)
	}
	name, err := optionalString(root, keyName)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Kind: KindPresence, Meta: uint8(code), Name: name}, nil
}

func parsePlaintext(root gjson.Result) (Inbound, error) {
	text, err := requireString(root, keyPlaintext)
	if err != nil {
		return Inbound{}, err
	}
	name, err := optionalString(root, keyName)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Kind: KindPlaintext, Plaintext: text, Name: name}, nil
}

func parsePublicKey(root gjson.Result) (Inbound, error) {
	v := root.Get(keyPublicKey)
	if !v.IsObject() {
		return Inbound{}, fmt.Errorf("%w: %s must be an object", ErrMalformed, keyPublicKey)
	}

	if err := rejectDuplicateKeys(v, jwkKeys); err != nil {
		return Inbound{}, err
	}

	var jwk JSONWebKey
	var err error
	if jwk.Crv, err = requireString(v, "crv"); err != nil {
		return Inbound{}, err
	}
	ext := v.Get("ext")
	if ext.Type != gjson.True && ext.Type != gjson.False {
		return Inbound{}, fmt.Errorf("%w: %s.ext must be a boolean", ErrMalformed, keyPublicKey)
	}
	jwk.Ext = ext.Bool()

	ops := v.Get("key_ops")
	if !ops.IsArray() {
		return Inbound{}, fmt.Errorf("%w: %s.key_ops must be an array", ErrMalformed, keyPublicKey)
	}
	elems := ops.Array()
	jwk.KeyOps = make([]string, 0, len(elems))
	for _, op := range elems {
		if op.Type != gjson.String {
			return Inbound{}, fmt.Errorf("%w: %s.key_ops must contain strings", ErrMalformed, keyPublicKey)
		}
		jwk.KeyOps = append(jwk.KeyOps, op.Str)
	}

	if jwk.Kty, err = requireString(v, "kty"); err != nil {
		return Inbound{}, err
	}
	if jwk.X, err = requireString(v, "x"); err != nil {
		return Inbound{}, err
	}
	if jwk.Y, err = requireString(v, "y"); err != nil {
		return Inbound{}, err
	}
	return Inbound{Kind: KindPublicKey, PublicKey: &jwk}, nil
}

// rejectDuplicateKeys fails when one of known appears more than once in obj.
// gjson resolves a repeated key to its first occurrence, which would relay a
// different value than a strict decoder sees.
func rejectDuplicateKeys(obj gjson.Result, known []string) error {
	seen := make(map[string]bool, len(known))
	var dup string
	obj.ForEach(func(k, _ gjson.Result) bool {
		if !slices.Contains(known, k.Str) {
			return true
		}
		if seen[k.Str] {
			dup = k.Str
			return false
		}
		seen[k.Str] = true
		return true
	})
	if dup != "" {
		return fmt.Errorf("%w: duplicate key %q", ErrMalformed, dup)
	}
	return nil
}

func requireString(obj gjson.Result, key string) (string, error) {
	v := obj.Get(key)
	if !v.Exists() {
		return "", fmt.Errorf("%w: missing %s", ErrMalformed, key)
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("%w: %s must be a string", ErrMalformed, key)
	}
	return v.Str, nil
}

func optionalString(obj gjson.Result, key string) (*string, error) {
	v := obj.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	if v.Type != gjson.String {
		return nil, fmt.Errorf("%w: %s must be a string", ErrMalformed, key)
	}
	s := v.Str
	return &s, nil
}

// ParseAddr parses a peer address in ip:port form. IPv4-mapped IPv6
// addresses are unmapped so they compare equal to the addresses the relay
// assigns to IPv4 peers.
func ParseAddr(raw string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(raw)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
