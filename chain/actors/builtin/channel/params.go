package channel

import (
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

// DefaultVersion is the contract version new channels are created with.
const DefaultVersion = "1.0"

// BounceFee is kept by the contract from any trigger it rejects, and must be
// attached to every command trigger.
const BounceFee int64 = 10000

var baseAAByVersion = map[string]types.Address{
	"1.0": "SDFSAPTYVHQ6IUNJ6NYEHH2PL544AWLQ",
}

func SupportedVersion(v string) bool {
	_, ok := baseAAByVersion[v]
	return ok
}

// Params are fixed when the channel is created and determine its address.
type Params struct {
	AddressA types.Address `json:"addressA"`
	AddressB types.Address `json:"addressB"`
	Asset    types.Asset   `json:"asset"`
	Salt     string        `json:"salt"`
	// Timeout is the number of seconds the close initiator has to wait
	// before it can confirm on its own.
	Timeout int64  `json:"timeout"`
	Version string `json:"-"`
}

func (p Params) Validate() error {
	if err := p.AddressA.Validate(); err != nil {
		return xerrors.Errorf("address A: %w", err)
	}
	if err := p.AddressB.Validate(); err != nil {
		return xerrors.Errorf("address B: %w", err)
	}
	if p.AddressA == p.AddressB {
		return xerrors.New("parties must differ")
	}
	if p.Timeout <= 0 {
		return xerrors.Errorf("timeout must be positive, got %d", p.Timeout)
	}
	if p.Salt == "" {
		return xerrors.New("no salt")
	}
	if !SupportedVersion(p.version()) {
		return xerrors.Errorf("unsupported version %q", p.Version)
	}
	return nil
}

func (p Params) version() string {
	if p.Version == "" {
		return DefaultVersion
	}
	return p.Version
}

// Other returns the counterparty of party, or Undef if party is not one of
// the two channel parties.
func (p Params) Other(party types.Address) types.Address {
	switch party {
	case p.AddressA:
		return p.AddressB
	case p.AddressB:
		return p.AddressA
	default:
		return types.Undef
	}
}

func (p Params) IsParty(a types.Address) bool {
	return a == p.AddressA || a == p.AddressB
}

type definitionBody struct {
	BaseAA types.Address `json:"base_aa"`
	Params Params        `json:"params"`
}

// Definition is the contract definition that is revealed on the ledger when
// the channel is first funded.
func (p Params) Definition() ([]interface{}, error) {
	base, ok := baseAAByVersion[p.version()]
	if !ok {
		return nil, xerrors.Errorf("unsupported version %q", p.Version)
	}
	p.Asset = types.Asset(p.Asset.String())
	return []interface{}{"autonomous agent", definitionBody{BaseAA: base, Params: p}}, nil
}

// Address computes the channel address. Both parties compute it on their own
// and refuse to proceed if they disagree.
func (p Params) Address() (types.Address, error) {
	def, err := p.Definition()
	if err != nil {
		return types.Undef, err
	}
	return types.AddressOf(def)
}
