package sigs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

// PackageVersion is written into every package this node signs.
const PackageVersion = "1.0"

const authentifierPath = "r"

// Signer is the part of a wallet that can produce signatures for an address
// it controls.
type Signer interface {
	WalletDefinition(ctx context.Context, addr types.Address) (Definition, error)
	WalletSign(ctx context.Context, addr types.Address, hash []byte) ([]byte, error)
}

// SignedPackage is a message body together with the single author that
// signed it.
type SignedPackage struct {
	SignedMessage json.RawMessage `json:"signed_message"`
	Authors       []Author        `json:"authors"`
	Version       string          `json:"version,omitempty"`
}

type Author struct {
	Address       types.Address     `json:"address"`
	Definition    json.RawMessage   `json:"definition,omitempty"`
	Authentifiers map[string]string `json:"authentifiers"`
}

type unsignedAuthor struct {
	Address    types.Address   `json:"address"`
	Definition json.RawMessage `json:"definition,omitempty"`
}

type unsignedPackage struct {
	SignedMessage json.RawMessage  `json:"signed_message"`
	Authors       []unsignedAuthor `json:"authors"`
	Version       string           `json:"version,omitempty"`
}

// DecodeSignedPackage parses a package, refusing fields it does not know.
func DecodeSignedPackage(b []byte) (*SignedPackage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var pkg SignedPackage
	if err := dec.Decode(&pkg); err != nil {
		return nil, xerrors.Errorf("decoding signed package: %w", err)
	}
	return &pkg, nil
}

// SigningHash is the digest the author signs: the package with the
// authentifiers removed, serialized canonically.
func (p *SignedPackage) SigningHash() ([]byte, error) {
	u := unsignedPackage{
		SignedMessage: p.SignedMessage,
		Version:       p.Version,
	}
	for _, a := range p.Authors {
		u.Authors = append(u.Authors, unsignedAuthor{Address: a.Address, Definition: a.Definition})
	}
	b, err := types.CanonicalJSON(u)
	if err != nil {
		return nil, xerrors.Errorf("serializing package: %w", err)
	}
	return types.Hash256(b), nil
}

// DecodeMessage unmarshals the signed body into out, refusing unknown fields.
func (p *SignedPackage) DecodeMessage(out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(p.SignedMessage))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// Sign wraps message into a package signed by addr.
func Sign(ctx context.Context, signer Signer, addr types.Address, message interface{}) (*SignedPackage, error) {
	body, err := types.CanonicalJSON(message)
	if err != nil {
		return nil, xerrors.Errorf("serializing message: %w", err)
	}
	def, err := signer.WalletDefinition(ctx, addr)
	if err != nil {
		return nil, xerrors.Errorf("getting definition of %s: %w", addr, err)
	}
	rawDef, err := json.Marshal(def)
	if err != nil {
		return nil, err
	}

	pkg := &SignedPackage{
		SignedMessage: body,
		Authors:       []Author{{Address: addr, Definition: rawDef}},
		Version:       PackageVersion,
	}
	hash, err := pkg.SigningHash()
	if err != nil {
		return nil, err
	}
	sig, err := signer.WalletSign(ctx, addr, hash)
	if err != nil {
		return nil, xerrors.Errorf("signing package: %w", err)
	}
	pkg.Authors[0].Authentifiers = map[string]string{authentifierPath: base64.StdEncoding.EncodeToString(sig)}
	return pkg, nil
}

// Verify checks that the package is well-formed and validly signed by exactly
// one author, and returns that author's address.
func Verify(pkg *SignedPackage) (types.Address, error) {
	if pkg == nil {
		return types.Undef, xerrors.New("no signed package")
	}
	if len(pkg.SignedMessage) == 0 || string(pkg.SignedMessage) == "null" {
		return types.Undef, xerrors.New("no signed message")
	}
	if pkg.Version != "" && pkg.Version != PackageVersion {
		return types.Undef, xerrors.Errorf("unsupported package version %q", pkg.Version)
	}
	if len(pkg.Authors) != 1 {
		return types.Undef, xerrors.Errorf("expected exactly one author, got %d", len(pkg.Authors))
	}
	author := pkg.Authors[0]
	if err := author.Address.Validate(); err != nil {
		return types.Undef, err
	}
	if len(author.Definition) == 0 {
		return types.Undef, xerrors.New("no definition")
	}
	var def Definition
	if err := json.Unmarshal(author.Definition, &def); err != nil {
		return types.Undef, xerrors.Errorf("unsupported definition: %w", err)
	}
	defAddr, err := def.Address()
	if err != nil {
		return types.Undef, err
	}
	if defAddr != author.Address {
		return types.Undef, xerrors.New("wrong definition")
	}
	if len(author.Authentifiers) != 1 {
		return types.Undef, xerrors.New("expected exactly one authentifier")
	}
	encSig, ok := author.Authentifiers[authentifierPath]
	if !ok {
		return types.Undef, xerrors.Errorf("no authentifier at path %q", authentifierPath)
	}
	sig, err := base64.StdEncoding.DecodeString(encSig)
	if err != nil {
		return types.Undef, xerrors.Errorf("bad signature encoding: %w", err)
	}
	hash, err := pkg.SigningHash()
	if err != nil {
		return types.Undef, err
	}
	if err := verifySecp(def.PubKey, hash, sig); err != nil {
		return types.Undef, err
	}
	return author.Address, nil
}

func verifySecp(pubkey []byte, hash []byte, sig []byte) error {
	pub, err := secp256k1.ParsePubKey(pubkey)
	if err != nil {
		return xerrors.Errorf("bad public key: %w", err)
	}
	s, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return xerrors.Errorf("bad signature: %w", err)
	}
	if !s.Verify(hash, pub) {
		return xerrors.New("signature verification failed")
	}
	return nil
}
