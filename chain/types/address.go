package types

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/multiformats/go-base32"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/xerrors"
)

// AddressLength is the length of an encoded ledger address.
const AddressLength = 32

const addressHashSize = 20

var addressEncoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)

var ErrInvalidAddress = xerrors.New("invalid address")

// Address is a ledger address. Every address is the hash of the definition
// (signing rule or contract) that controls it.
type Address string

var Undef Address

func (a Address) String() string {
	return string(a)
}

func (a Address) Empty() bool {
	return a == Undef
}

// Validate checks the textual form of the address.
func (a Address) Validate() error {
	if len(a) != AddressLength {
		return xerrors.Errorf("%q has wrong length: %w", string(a), ErrInvalidAddress)
	}
	if strings.ToUpper(string(a)) != string(a) {
		return xerrors.Errorf("%q is not upper case: %w", string(a), ErrInvalidAddress)
	}
	b, err := addressEncoding.DecodeString(string(a))
	if err != nil {
		return xerrors.Errorf("%q is not base32 (%s): %w", string(a), err, ErrInvalidAddress)
	}
	if len(b) != addressHashSize {
		return xerrors.Errorf("%q decodes to %d bytes: %w", string(a), len(b), ErrInvalidAddress)
	}
	return nil
}

func ParseAddress(s string) (Address, error) {
	a := Address(s)
	if err := a.Validate(); err != nil {
		return Undef, err
	}
	return a, nil
}

// AddressOf returns the address controlled by the given definition.
func AddressOf(definition interface{}) (Address, error) {
	b, err := CanonicalJSON(definition)
	if err != nil {
		return Undef, xerrors.Errorf("serializing definition: %w", err)
	}
	sum, err := blake2b.New(addressHashSize, nil)
	if err != nil {
		return Undef, err
	}
	_, _ = sum.Write(b)
	return Address(addressEncoding.EncodeToString(sum.Sum(nil))), nil
}

// CanonicalJSON serializes v with sorted object keys, no insignificant
// whitespace and numbers kept exactly as written.
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// Hash256 is the blake2b-256 digest used for anything that gets signed.
func Hash256(b []byte) []byte {
	h := blake2b.Sum256(b)
	return h[:]
}
