package types

import (
	"encoding/json"
	"sort"

	"golang.org/x/xerrors"
)

type Sequence string

const (
	SequenceGood     Sequence = "good"
	SequenceTempBad  Sequence = "temp-bad"
	SequenceFinalBad Sequence = "final-bad"
)

func (s Sequence) IsBad() bool {
	return s == SequenceTempBad || s == SequenceFinalBad
}

type Output struct {
	Address Address `json:"address"`
	Asset   Asset   `json:"asset"`
	Amount  int64   `json:"amount"`
	// SendAll pays whatever is left of Asset in the sending address after the
	// other outputs. Only contract responses use it.
	SendAll bool `json:"send_all,omitempty"`
}

// Unit is a ledger transaction as observed by a watcher.
type Unit struct {
	ID        string    `json:"unit"`
	Authors   []Address `json:"authors"`
	Timestamp int64     `json:"timestamp"`
	MCI       int64     `json:"main_chain_index"`
	Sequence  Sequence  `json:"sequence"`
	Stable    bool      `json:"is_stable"`
	Outputs   []Output  `json:"outputs"`
	// Data is the unit's data message, if any.
	Data json.RawMessage `json:"data,omitempty"`
	// Definitions lists the addresses whose definitions the unit reveals.
	Definitions []Address `json:"definitions,omitempty"`
}

func (u *Unit) AuthoredBy(a Address) bool {
	for _, au := range u.Authors {
		if au == a {
			return true
		}
	}
	return false
}

// AmountTo sums what the unit pays to addr in the given asset.
func (u *Unit) AmountTo(addr Address, asset Asset) int64 {
	var sum int64
	for _, o := range u.Outputs {
		if o.Address == addr && o.Asset.String() == asset.String() {
			sum += o.Amount
		}
	}
	return sum
}

func (u *Unit) PaysTo(addr Address) bool {
	for _, o := range u.Outputs {
		if o.Address == addr {
			return true
		}
	}
	return false
}

func (u *Unit) Reveals(addr Address) bool {
	for _, d := range u.Definitions {
		if d == addr {
			return true
		}
	}
	return false
}

// SortUnits orders units the way the ledger applied them.
func SortUnits(units []Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].MCI != units[j].MCI {
			return units[i].MCI < units[j].MCI
		}
		return units[i].ID < units[j].ID
	})
}

// Transaction is what a wallet asks the ledger node to compose and broadcast.
type Transaction struct {
	From    Address         `json:"from"`
	Outputs []Output        `json:"outputs"`
	Data    json.RawMessage `json:"data,omitempty"`
	// Definition, when set, is revealed in the unit so that the paid
	// contract address becomes usable.
	Definition json.RawMessage `json:"definition,omitempty"`
}

// ErrNotEnoughFunds is returned by the ledger when a wallet cannot pay for a
// transaction.
var ErrNotEnoughFunds = xerrors.New("not enough funds")
