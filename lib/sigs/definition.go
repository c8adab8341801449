package sigs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

const opSig = "sig"

// Definition is the single-signature address definition
// ["sig", {"pubkey": <base64 compressed secp256k1 key>}].
type Definition struct {
	PubKey []byte
}

type sigArgs struct {
	PubKey string `json:"pubkey"`
}

func (d Definition) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{opSig, sigArgs{PubKey: base64.StdEncoding.EncodeToString(d.PubKey)}})
}

func (d *Definition) UnmarshalJSON(b []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(b, &parts); err != nil {
		return err
	}
	if len(parts) != 2 {
		return xerrors.Errorf("definition must have 2 elements, got %d", len(parts))
	}
	var op string
	if err := json.Unmarshal(parts[0], &op); err != nil {
		return err
	}
	if op != opSig {
		return xerrors.Errorf("unsupported operator %q", op)
	}
	dec := json.NewDecoder(bytes.NewReader(parts[1]))
	dec.DisallowUnknownFields()
	var args sigArgs
	if err := dec.Decode(&args); err != nil {
		return err
	}
	pk, err := base64.StdEncoding.DecodeString(args.PubKey)
	if err != nil {
		return xerrors.Errorf("bad pubkey: %w", err)
	}
	if len(pk) != 33 {
		return xerrors.Errorf("pubkey must be 33 bytes, got %d", len(pk))
	}
	d.PubKey = pk
	return nil
}

func (d Definition) Address() (types.Address, error) {
	return types.AddressOf(d)
}
