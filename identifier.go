package ilm

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// Identifier is a 128-bit opaque key: the physical key for an index, stable
// across name changes. It wraps github.com/google/uuid.UUID to keep this
// package decoupled from the external module.
type Identifier uuid.UUID

// ParseIdentifier converts a canonical 36-character string to an Identifier.
func ParseIdentifier(s string) (Identifier, error) {
	u, err := uuid.Parse(s)
	return Identifier(u), err
}

// NewIdentifier returns a new randomly generated Identifier. It retries on
// error with a 1ms backoff up to 10 times and panics only if all attempts
// fail, which should never happen under normal conditions.
func NewIdentifier() Identifier {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return Identifier(id)
		}
		time.Sleep(1 * time.Millisecond)
	}
	panic(err)
}

// NilIdentifier is the zero-value Identifier.
var NilIdentifier Identifier

// IsNil reports whether the Identifier equals the zero-value Identifier.
func (id Identifier) IsNil() bool {
	return bytes.Equal(id[:], NilIdentifier[:])
}

// String returns the canonical 36-character string representation.
func (id Identifier) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns the 16 raw bytes of the identifier. This is the exact
// on-disk/registry-key encoding; implementations must stay bit-exact across
// versions, and this is the one encoding used throughout this module.
func (id Identifier) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, id[:])
	return b
}

// IdentifierFromBytes decodes the 16-byte encoding produced by Bytes.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	var id Identifier
	u, err := uuid.FromBytes(b)
	if err != nil {
		return id, err
	}
	return Identifier(u), nil
}

// Compare compares two Identifiers and returns -1 if x < y, 1 if x > y, and
// 0 if they are equal.
func (x Identifier) Compare(y Identifier) int {
	return bytes.Compare(x[:], y[:])
}
