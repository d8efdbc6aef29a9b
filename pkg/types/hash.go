package types

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

type Hash [64]byte

// NilHash is the NIL pointer of the graph: a chain root has it as parent and a
// Version without open work has it as active revision.
var NilHash Hash

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsNil() bool {
	return h == NilHash
}

// Short returns the first 12 hex characters, used in log lines.
func (h Hash) Short() string {
	return h.String()[:12]
}

func (h *Hash) HashFromBytes(b []byte) error {
	if len(b) != 64 {
		return fmt.Errorf("invalid byte length for Hash: %d", len(b))
	}
	copy(h[:], b)
	return nil
}

func HashFromString(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hex for Hash: %w", err)
	}
	return h, h.HashFromBytes(b)
}

func HashBytes(data []byte) Hash {
	return sha512.Sum512(data)
}

// RandomHash returns a provisional key for nodes whose content is not final yet.
func RandomHash() Hash {
	id := uuid.New()
	return sha512.Sum512(id[:])
}

// ShortUID returns a short random identifier, used for revision ids.
func ShortUID() string {
	return uuid.NewString()[:8]
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HashFromString(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
