// Package simledger is an in-memory ledger that runs the channel contract.
// Every wallet gets its own Node, which satisfies the manager's ledger
// interface.
package simledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
)

var log = logging.Logger("simledger")

type contract struct {
	params   channel.Params
	state    channel.State
	deployed bool
}

// Ledger keeps balances and contract states. Units become stable only when
// Stabilize is called, unless the ledger runs in auto mode.
type Ledger struct {
	clock clock.Clock

	lk        sync.Mutex
	balances  map[types.Address]map[string]int64
	contracts map[types.Address]*contract
	pending   []*types.Unit
	units     map[string]*types.Unit
	mci       int64
	seq       int64
	auto      bool
	nodes     []*Node
	bad       map[string]types.Sequence
}

func New(clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.New()
	}
	return &Ledger{
		clock:     clk,
		balances:  make(map[types.Address]map[string]int64),
		contracts: make(map[types.Address]*contract),
		units:     make(map[string]*types.Unit),
		bad:       make(map[string]types.Sequence),
	}
}

// SetAuto makes every unit stable as soon as it is sent.
func (l *Ledger) SetAuto(auto bool) {
	l.lk.Lock()
	l.auto = auto
	l.lk.Unlock()
	if auto {
		l.Stabilize()
	}
}

// Mint credits amount of asset to addr out of thin air.
func (l *Ledger) Mint(addr types.Address, asset types.Asset, amount int64) {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.credit(addr, asset, amount)
}

func (l *Ledger) Balance(addr types.Address, asset types.Asset) int64 {
	l.lk.Lock()
	defer l.lk.Unlock()
	return l.balances[addr][asset.String()]
}

// State returns a copy of the contract state at ch, or nil if ch has never
// been triggered.
func (l *Ledger) State(ch types.Address) *channel.State {
	l.lk.Lock()
	defer l.lk.Unlock()
	c, ok := l.contracts[ch]
	if !ok || !c.deployed {
		return nil
	}
	st := c.state
	return &st
}

// Unit returns a unit by hash.
func (l *Ledger) Unit(id string) (types.Unit, bool) {
	l.lk.Lock()
	defer l.lk.Unlock()
	u, ok := l.units[id]
	if !ok {
		return types.Unit{}, false
	}
	return *u, true
}

// Units returns every unit the ledger has seen in ledger order. Units that
// are not stable yet come first.
func (l *Ledger) Units() []types.Unit {
	l.lk.Lock()
	defer l.lk.Unlock()
	out := make([]types.Unit, 0, len(l.units))
	for _, u := range l.units {
		out = append(out, *u)
	}
	types.SortUnits(out)
	return out
}

// MarkBadSequence makes the next delivery of the unsettled unit id carry a
// bad sequence, as a double spend would.
func (l *Ledger) MarkBadSequence(id string, seq types.Sequence) error {
	l.lk.Lock()
	defer l.lk.Unlock()
	u, ok := l.units[id]
	if !ok {
		return xerrors.Errorf("unit %s not found", id)
	}
	if u.Stable {
		return xerrors.Errorf("unit %s is already stable", id)
	}
	u.Sequence = seq
	l.broadcast(*u)
	return nil
}

func (l *Ledger) credit(addr types.Address, asset types.Asset, amount int64) {
	b, ok := l.balances[addr]
	if !ok {
		b = make(map[string]int64)
		l.balances[addr] = b
	}
	b[asset.String()] += amount
}

func (l *Ledger) newUnitID(body interface{}) string {
	l.seq++
	b, _ := json.Marshal(body)
	b = append(b, strconv.FormatInt(l.seq, 10)...)
	return base64.StdEncoding.EncodeToString(types.Hash256(b))
}

func (l *Ledger) submit(ctx context.Context, tx *types.Transaction) (string, error) {
	if len(tx.Outputs) == 0 {
		return "", xerrors.New("transaction has no outputs")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.lk.Lock()
	defer l.lk.Unlock()

	need := map[string]int64{}
	for _, o := range tx.Outputs {
		if o.Amount <= 0 {
			return "", xerrors.Errorf("output amount must be positive, got %d", o.Amount)
		}
		if err := o.Address.Validate(); err != nil {
			return "", err
		}
		need[o.Asset.String()] += o.Amount
	}
	for asset, amt := range need {
		if l.balances[tx.From][asset] < amt {
			return "", xerrors.Errorf("%s has %d of %s, needs %d: %w", tx.From, l.balances[tx.From][asset], asset, amt, types.ErrNotEnoughFunds)
		}
	}

	u := &types.Unit{
		Authors:   []types.Address{tx.From},
		Timestamp: l.clock.Now().Unix(),
		Sequence:  types.SequenceGood,
		Outputs:   tx.Outputs,
		Data:      tx.Data,
	}
	if len(tx.Definition) > 0 {
		addr, err := l.reveal(tx.Definition)
		if err != nil {
			return "", err
		}
		u.Definitions = []types.Address{addr}
	}
	u.ID = l.newUnitID(tx)

	for _, o := range tx.Outputs {
		l.credit(tx.From, o.Asset, -o.Amount)
	}
	l.units[u.ID] = u
	l.pending = append(l.pending, u)
	log.Debugw("unit submitted", "unit", u.ID, "from", tx.From)
	l.broadcast(*u)

	if l.auto {
		l.stabilize()
	}
	return u.ID, nil
}

func (l *Ledger) reveal(raw json.RawMessage) (types.Address, error) {
	var def []json.RawMessage
	if err := json.Unmarshal(raw, &def); err != nil || len(def) != 2 {
		return types.Undef, xerrors.New("definition must be a two element array")
	}
	var kind string
	if err := json.Unmarshal(def[0], &kind); err != nil || kind != "autonomous agent" {
		return types.Undef, xerrors.Errorf("unsupported definition %s", def[0])
	}
	var body struct {
		BaseAA types.Address  `json:"base_aa"`
		Params channel.Params `json:"params"`
	}
	if err := json.Unmarshal(def[1], &body); err != nil {
		return types.Undef, xerrors.Errorf("decoding definition: %w", err)
	}
	if err := body.Params.Validate(); err != nil {
		return types.Undef, err
	}
	addr, err := body.Params.Address()
	if err != nil {
		return types.Undef, err
	}
	if _, ok := l.contracts[addr]; !ok {
		l.contracts[addr] = &contract{params: body.Params, state: channel.NewState()}
	}
	return addr, nil
}

// Stabilize makes every pending unit stable in submission order and runs
// the contracts they trigger.
func (l *Ledger) Stabilize() {
	l.lk.Lock()
	defer l.lk.Unlock()
	l.stabilize()
}

func (l *Ledger) stabilize() {
	for len(l.pending) > 0 {
		u := l.pending[0]
		l.pending = l.pending[1:]

		l.mci++
		u.MCI = l.mci
		u.Stable = true
		if u.Sequence.IsBad() {
			// funds of a bad unit go back to its author
			for _, o := range u.Outputs {
				l.credit(u.Authors[0], o.Asset, o.Amount)
			}
			l.broadcast(*u)
			continue
		}
		for _, o := range u.Outputs {
			l.credit(o.Address, o.Asset, o.Amount)
		}
		l.broadcast(*u)

		seen := map[types.Address]bool{}
		for _, o := range u.Outputs {
			if seen[o.Address] {
				continue
			}
			seen[o.Address] = true
			if c, ok := l.contracts[o.Address]; ok {
				l.trigger(o.Address, c, u)
			}
		}
	}
}

func (l *Ledger) trigger(addr types.Address, c *contract, u *types.Unit) {
	tr := channel.Trigger{
		Unit:        u.ID,
		From:        u.Authors[0],
		Timestamp:   u.Timestamp,
		BaseAmount:  u.AmountTo(addr, types.AssetBase),
		AssetAmount: 0,
	}
	if !c.params.Asset.IsBase() {
		tr.AssetAmount = u.AmountTo(addr, c.params.Asset)
	}
	if len(u.Data) > 0 {
		var d channel.TriggerData
		if err := json.Unmarshal(u.Data, &d); err == nil {
			tr.Data = &d
		}
	}

	next, resp := channel.Apply(c.params, c.state, tr)
	c.state = next
	c.deployed = true

	var data interface{}
	if resp.Bounced() {
		data = &channel.BounceResponse{Error: resp.Bounce.Reason, TriggerUnit: u.ID}
		log.Infow("contract bounced", "contract", addr, "trigger", u.ID, "reason", resp.Bounce.Reason)
	} else if resp.Event != nil {
		data = resp.Event
	}
	raw, err := json.Marshal(data)
	if err != nil {
		log.Errorw("encoding contract response", "contract", addr, "error", err)
		return
	}

	outputs := l.settle(addr, resp.Payouts)
	l.mci++
	r := &types.Unit{
		Authors:   []types.Address{addr},
		Timestamp: l.clock.Now().Unix(),
		MCI:       l.mci,
		Sequence:  types.SequenceGood,
		Stable:    true,
		Outputs:   outputs,
	}
	if data != nil {
		r.Data = raw
	}
	r.ID = l.newUnitID(r)
	l.units[r.ID] = r
	l.broadcast(*r)
}

// settle pays the contract outputs, resolving send-all outputs to what is
// left of their asset.
func (l *Ledger) settle(from types.Address, payouts []types.Output) []types.Output {
	out := make([]types.Output, 0, len(payouts))
	for _, o := range payouts {
		if o.SendAll {
			continue
		}
		l.credit(from, o.Asset, -o.Amount)
		l.credit(o.Address, o.Asset, o.Amount)
		out = append(out, o)
	}
	for _, o := range payouts {
		if !o.SendAll {
			continue
		}
		amt := l.balances[from][o.Asset.String()]
		if amt <= 0 {
			continue
		}
		l.credit(from, o.Asset, -amt)
		l.credit(o.Address, o.Asset, amt)
		out = append(out, types.Output{Address: o.Address, Asset: o.Asset, Amount: amt})
	}
	return out
}

func (l *Ledger) broadcast(u types.Unit) {
	for _, n := range l.nodes {
		n.deliver(u)
	}
}
