package channel

import (
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

// Response is everything the ledger has to do after the contract has seen a
// trigger: the outputs to pay and the event to post.
type Response struct {
	Bounce  *BounceError
	Payouts []types.Output
	Event   *Event
}

func (r *Response) Bounced() bool {
	return r.Bounce != nil
}

// Apply evaluates trigger against st and returns the next state. It has no
// side effects and never fails: every invalid trigger becomes a bounce that
// leaves the state as it was.
func Apply(p Params, st State, tr Trigger) (State, Response) {
	next := st
	resp, berr := apply(p, &next, tr)
	if berr != nil {
		return st, Response{Bounce: berr, Payouts: refund(p, tr, true)}
	}
	return next, resp
}

func apply(p Params, st *State, tr Trigger) (Response, *BounceError) {
	if !p.IsParty(tr.From) {
		return Response{}, bounce(ReasonNotParty)
	}
	d := tr.Data
	switch {
	case !d.hasCommand():
		return deposit(p, st, tr)
	case d.Close == 1:
		return closeChannel(p, st, tr)
	case d.Confirm == 1:
		return confirm(p, st, tr)
	case d.FraudProof == 1:
		return fraudProof(p, st, tr)
	default:
		return Response{}, bounce(ReasonNoCommand)
	}
}

func refund(p Params, tr Trigger, keepFee bool) []types.Output {
	var out []types.Output
	base := tr.BaseAmount
	if keepFee {
		base -= BounceFee
	}
	if base > 0 {
		out = append(out, types.Output{Address: tr.From, Asset: types.AssetBase, Amount: base})
	}
	if !p.Asset.IsBase() && tr.AssetAmount > 0 {
		out = append(out, types.Output{Address: tr.From, Asset: p.Asset, Amount: tr.AssetAmount})
	}
	return out
}

func (st *State) nextEvent(typ EventType, tr Trigger) *Event {
	st.EventID++
	return &Event{
		Type:        typ,
		EventID:     st.EventID,
		Period:      st.Period,
		TriggerUnit: tr.Unit,
		Amounts:     map[types.Address]int64{},
	}
}

func deposit(p Params, st *State, tr Trigger) (Response, *BounceError) {
	var amount int64
	if p.Asset.IsBase() {
		if tr.BaseAmount < BounceFee {
			return Response{}, bounce(ReasonNoFunding)
		}
		amount = tr.BaseAmount
	} else {
		if tr.BaseAmount < BounceFee {
			return Response{}, bounce(ReasonFeeNotPaid)
		}
		if tr.AssetAmount <= 0 {
			return Response{}, bounce(ReasonNoFunding)
		}
		amount = tr.AssetAmount
	}

	if st.Status == StatusClosing {
		ev := st.nextEvent(EventRefused, tr)
		return Response{Payouts: refund(p, tr, true), Event: ev}, nil
	}

	*st.balance(p, tr.From) += amount
	st.Status = StatusOpen
	ev := st.nextEvent(EventOpen, tr)
	ev.Amounts[p.AddressA] = st.BalanceA
	ev.Amounts[p.AddressB] = st.BalanceB
	return Response{Event: ev}, nil
}

// verifyPeerPackage checks a payment package sent by signer's counterparty
// and returns the amount the package author has spent.
func verifyPeerPackage(p Params, st *State, raw []byte, author types.Address) (int64, *BounceError) {
	pkg, err := sigs.DecodeSignedPackage(raw)
	if err != nil {
		return 0, bounce(ReasonInvalidPeerSig)
	}
	msg, err := DecodePaymentMessage(pkg)
	if err != nil {
		return 0, bounce("bad package from peer: %s", err)
	}
	chAddr, err := p.Address()
	if err != nil || msg.Channel != chAddr {
		return 0, bounce(ReasonWrongSignedChannel)
	}
	if msg.Period != st.Period {
		return 0, bounce(ReasonWrongSignedPeriod)
	}
	signer, err := sigs.Verify(pkg)
	if err != nil || signer != author {
		return 0, bounce(ReasonInvalidPeerSig)
	}
	return msg.AmountSpent, nil
}

func closeChannel(p Params, st *State, tr Trigger) (Response, *BounceError) {
	d := tr.Data
	switch st.Status {
	case StatusOpen:
	case StatusClosing:
		return Response{}, bounce(ReasonAlreadyClosing)
	default:
		return Response{}, bounce(ReasonNotOpen)
	}
	if tr.BaseAmount < BounceFee {
		return Response{}, bounce(ReasonFeeNotPaid)
	}
	if d.Period != st.Period {
		return Response{}, bounce(ReasonWrongPeriod)
	}
	if d.TransferredFromMe < 0 {
		return Response{}, bounce(ReasonNegativeTransfer)
	}

	peer := p.Other(tr.From)
	var spentByPeer int64
	if len(d.SentByPeer) > 0 {
		amount, berr := verifyPeerPackage(p, st, d.SentByPeer, peer)
		if berr != nil {
			return Response{}, berr
		}
		spentByPeer = amount
	}

	next := *st
	*next.spent(p, tr.From) = d.TransferredFromMe
	*next.spent(p, peer) = spentByPeer
	if a, b := next.Finals(); a < 0 || b < 0 {
		return Response{}, bounce(ReasonNegativeBalance)
	}
	*st = next

	st.Status = StatusClosing
	st.CloseInitiatedBy = tr.From
	st.CloseStartTs = tr.Timestamp
	ev := st.nextEvent(EventClosing, tr)
	ev.InitiatedBy = tr.From
	ev.Amounts[p.AddressA] = st.SpentByA
	ev.Amounts[p.AddressB] = st.SpentByB
	return Response{Event: ev}, nil
}

func confirm(p Params, st *State, tr Trigger) (Response, *BounceError) {
	if st.Status != StatusClosing {
		return Response{}, bounce(ReasonNotClosing)
	}
	if tr.From == st.CloseInitiatedBy && tr.Timestamp < st.CloseStartTs+p.Timeout {
		return Response{}, bounce(ReasonTooEarly)
	}
	if tr.Data.Period != 0 && tr.Data.Period != st.Period {
		return Response{}, bounce(ReasonWrongPeriod)
	}
	if tr.Data.AdditionalTransferredFromMe < 0 {
		return Response{}, bounce(ReasonNegativeAdditional)
	}

	next := *st
	*next.spent(p, tr.From) += tr.Data.AdditionalTransferredFromMe
	finalA, finalB := next.Finals()
	if finalA < 0 || finalB < 0 {
		return Response{}, bounce(ReasonNegativeBalance)
	}
	*st = next
	payouts := settle(p, st.CloseInitiatedBy, finalA, finalB)

	ev := st.nextEvent(EventClosed, tr)
	ev.Amounts[p.AddressA] = finalA
	ev.Amounts[p.AddressB] = finalB
	st.resetPeriod()
	return Response{Payouts: payouts, Event: ev}, nil
}

// settle pays the smaller final exactly and sends everything else to the
// larger one, so that accumulated bounce fees and rounding never stay locked
// in the channel. The close initiator gets its close fee back.
func settle(p Params, initiator types.Address, finalA, finalB int64) []types.Output {
	larger, smaller, smallAmount := p.AddressA, p.AddressB, finalB
	if finalB > finalA {
		larger, smaller, smallAmount = p.AddressB, p.AddressA, finalA
	}

	var out []types.Output
	if p.Asset.IsBase() {
		if smaller == initiator {
			smallAmount += BounceFee
		}
		if smallAmount > 0 {
			out = append(out, types.Output{Address: smaller, Asset: types.AssetBase, Amount: smallAmount})
		}
		return append(out, types.Output{Address: larger, Asset: types.AssetBase, SendAll: true})
	}

	if smallAmount > 0 {
		out = append(out, types.Output{Address: smaller, Asset: p.Asset, Amount: smallAmount})
	}
	out = append(out, types.Output{Address: larger, Asset: p.Asset, SendAll: true})
	if smaller == initiator {
		out = append(out, types.Output{Address: smaller, Asset: types.AssetBase, Amount: BounceFee})
	}
	return append(out, types.Output{Address: larger, Asset: types.AssetBase, SendAll: true})
}

func fraudProof(p Params, st *State, tr Trigger) (Response, *BounceError) {
	d := tr.Data
	if st.Status != StatusClosing {
		return Response{}, bounce(ReasonNotClosing)
	}
	if tr.From == st.CloseInitiatedBy {
		return Response{}, bounce(ReasonInitiatorFraudProof)
	}
	if d.Period != 0 && d.Period != st.Period {
		return Response{}, bounce(ReasonWrongPeriod)
	}
	if len(d.SentByPeer) == 0 {
		return Response{}, bounce(ReasonInvalidPeerSig)
	}
	liar := st.CloseInitiatedBy
	proven, berr := verifyPeerPackage(p, st, d.SentByPeer, liar)
	if berr != nil {
		return Response{}, berr
	}
	if proven <= *st.spent(p, liar) {
		return Response{}, bounce(ReasonPeerDidNotLie)
	}

	payouts := []types.Output{{Address: tr.From, Asset: types.AssetBase, SendAll: true}}
	if !p.Asset.IsBase() {
		payouts = append([]types.Output{{Address: tr.From, Asset: p.Asset, SendAll: true}}, payouts...)
	}

	ev := st.nextEvent(EventClosed, tr)
	ev.FraudProof = true
	finalA, finalB := st.BalanceA+st.BalanceB, int64(0)
	if tr.From == p.AddressB {
		finalA, finalB = 0, st.BalanceA+st.BalanceB
	}
	ev.Amounts[p.AddressA] = finalA
	ev.Amounts[p.AddressB] = finalB
	st.resetPeriod()
	return Response{Payouts: payouts, Event: ev}, nil
}
