package sigs

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

var ErrKeyNotFound = xerrors.New("key not found")

// KeySigner keeps secp256k1 keys in memory and signs with them.
type KeySigner struct {
	lk   sync.RWMutex
	keys map[types.Address]*secp256k1.PrivateKey
}

var _ Signer = (*KeySigner)(nil)

func NewKeySigner() *KeySigner {
	return &KeySigner{keys: make(map[types.Address]*secp256k1.PrivateKey)}
}

func (ks *KeySigner) GenerateKey() (types.Address, error) {
	pk, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return types.Undef, err
	}
	return ks.add(pk)
}

// ImportHex adds a hex encoded 32 byte private key.
func (ks *KeySigner) ImportHex(s string) (types.Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return types.Undef, xerrors.Errorf("decoding private key: %w", err)
	}
	if len(b) != secp256k1.PrivKeyBytesLen {
		return types.Undef, xerrors.Errorf("private key must be %d bytes", secp256k1.PrivKeyBytesLen)
	}
	return ks.add(secp256k1.PrivKeyFromBytes(b))
}

func (ks *KeySigner) add(pk *secp256k1.PrivateKey) (types.Address, error) {
	addr, err := Definition{PubKey: pk.PubKey().SerializeCompressed()}.Address()
	if err != nil {
		return types.Undef, err
	}
	ks.lk.Lock()
	ks.keys[addr] = pk
	ks.lk.Unlock()
	return addr, nil
}

func (ks *KeySigner) get(addr types.Address) (*secp256k1.PrivateKey, error) {
	ks.lk.RLock()
	defer ks.lk.RUnlock()
	pk, ok := ks.keys[addr]
	if !ok {
		return nil, xerrors.Errorf("%s: %w", addr, ErrKeyNotFound)
	}
	return pk, nil
}

func (ks *KeySigner) WalletDefinition(_ context.Context, addr types.Address) (Definition, error) {
	pk, err := ks.get(addr)
	if err != nil {
		return Definition{}, err
	}
	return Definition{PubKey: pk.PubKey().SerializeCompressed()}, nil
}

func (ks *KeySigner) WalletSign(_ context.Context, addr types.Address, hash []byte) ([]byte, error) {
	pk, err := ks.get(addr)
	if err != nil {
		return nil, err
	}
	return ecdsa.Sign(pk, hash).Serialize(), nil
}
