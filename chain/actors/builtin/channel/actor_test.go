package channel

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

type harness struct {
	t      *testing.T
	ks     *sigs.KeySigner
	params Params
	addr   types.Address
	st     State
	now    int64
	units  int
	alice  types.Address
	bob    types.Address
}

func newHarness(t *testing.T, asset types.Asset) *harness {
	ks := sigs.NewKeySigner()
	alice, err := ks.GenerateKey()
	require.NoError(t, err)
	bob, err := ks.GenerateKey()
	require.NoError(t, err)

	p := Params{AddressA: alice, AddressB: bob, Asset: asset, Salt: "salt", Timeout: 60}
	require.NoError(t, p.Validate())
	addr, err := p.Address()
	require.NoError(t, err)

	return &harness{t: t, ks: ks, params: p, addr: addr, st: NewState(), now: 1_600_000_000, alice: alice, bob: bob}
}

func (h *harness) trigger(from types.Address, base, asset int64, data *TriggerData) Response {
	h.units++
	tr := Trigger{
		Unit:        types.Address(from).String()[:4] + string(rune('a'+h.units%26)),
		From:        from,
		Timestamp:   h.now,
		BaseAmount:  base,
		AssetAmount: asset,
		Data:        data,
	}
	var resp Response
	h.st, resp = Apply(h.params, h.st, tr)
	return resp
}

func (h *harness) signed(author types.Address, spent, period int64) json.RawMessage {
	pkg, err := sigs.Sign(context.Background(), h.ks, author, PaymentMessage{
		AmountSpent:   spent,
		Period:        period,
		Channel:       h.addr,
		PaymentAmount: 1,
	})
	require.NoError(h.t, err)
	b, err := json.Marshal(pkg)
	require.NoError(h.t, err)
	return b
}

func requireBounce(t *testing.T, resp Response, reason string) {
	t.Helper()
	require.True(t, resp.Bounced(), "expected bounce %q", reason)
	require.Equal(t, reason, resp.Bounce.Reason)
}

func payoutTo(resp Response, addr types.Address, asset types.Asset) *types.Output {
	for i := range resp.Payouts {
		if resp.Payouts[i].Address == addr && resp.Payouts[i].Asset.String() == asset.String() {
			return &resp.Payouts[i]
		}
	}
	return nil
}

func TestDepositsOpenChannel(t *testing.T) {
	h := newHarness(t, types.AssetBase)

	resp := h.trigger(h.alice, 2e9, 0, nil)
	require.False(t, resp.Bounced())
	require.Equal(t, EventOpen, resp.Event.Type)
	require.EqualValues(t, 1, resp.Event.EventID)
	require.EqualValues(t, 1, resp.Event.Period)
	require.EqualValues(t, 2e9, resp.Event.Amounts[h.alice])
	require.EqualValues(t, 0, resp.Event.Amounts[h.bob])

	resp = h.trigger(h.bob, 1e9, 0, nil)
	require.EqualValues(t, 2, resp.Event.EventID)
	require.EqualValues(t, 1e9, resp.Event.Amounts[h.bob])

	resp = h.trigger(h.alice, 5e5, 0, nil)
	require.EqualValues(t, 2e9+5e5, h.st.BalanceA)
	require.EqualValues(t, 3, resp.Event.EventID)
	require.Equal(t, StatusOpen, h.st.Status)
}

func TestDepositBelowBounceFee(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	resp := h.trigger(h.alice, BounceFee-1, 0, nil)
	requireBounce(t, resp, ReasonNoFunding)
	require.Empty(t, resp.Payouts)
	require.Equal(t, NewState(), h.st)
}

func TestNonPartyBounces(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	stranger, err := h.ks.GenerateKey()
	require.NoError(t, err)

	resp := h.trigger(stranger, 50000, 0, nil)
	requireBounce(t, resp, ReasonNotParty)
	require.Len(t, resp.Payouts, 1)
	require.EqualValues(t, 50000-BounceFee, resp.Payouts[0].Amount)
	require.Equal(t, stranger, resp.Payouts[0].Address)
}

func TestCloseAndConfirmByPeer(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 2e9, 0, nil)
	h.trigger(h.bob, 1e9, 0, nil)

	// Bob spent 612000 and holds Alice's promise of 150000.
	resp := h.trigger(h.bob, BounceFee, 0, &TriggerData{
		Close:             1,
		Period:            1,
		TransferredFromMe: 612000,
		SentByPeer:        h.signed(h.alice, 150000, 1),
	})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.Equal(t, EventClosing, resp.Event.Type)
	require.Equal(t, h.bob, resp.Event.InitiatedBy)
	require.EqualValues(t, 150000, resp.Event.Amounts[h.alice])
	require.EqualValues(t, 612000, resp.Event.Amounts[h.bob])
	require.EqualValues(t, 3, resp.Event.EventID)

	// the non-initiator may confirm right away
	resp = h.trigger(h.alice, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.Equal(t, EventClosed, resp.Event.Type)
	require.EqualValues(t, 2e9-150000+612000, resp.Event.Amounts[h.alice])
	require.EqualValues(t, 1e9-612000+150000, resp.Event.Amounts[h.bob])

	toBob := payoutTo(resp, h.bob, types.AssetBase)
	require.NotNil(t, toBob)
	require.EqualValues(t, 1e9-612000+150000+BounceFee, toBob.Amount)
	toAlice := payoutTo(resp, h.alice, types.AssetBase)
	require.NotNil(t, toAlice)
	require.True(t, toAlice.SendAll)

	require.Equal(t, StatusClosed, h.st.Status)
	require.EqualValues(t, 2, h.st.Period)
	require.Zero(t, h.st.BalanceA)
	require.Zero(t, h.st.SpentByB)

	// a new deposit reopens in the next period
	resp = h.trigger(h.alice, 1e6, 0, nil)
	require.Equal(t, EventOpen, resp.Event.Type)
	require.EqualValues(t, 2, resp.Event.Period)
}

func TestCloseValidation(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 2e9, 0, nil)
	h.trigger(h.bob, 1e9, 0, nil)
	before := h.st

	resp := h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 2, SentByPeer: h.signed(h.alice, 1000, 1)})
	requireBounce(t, resp, ReasonWrongPeriod)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, SentByPeer: h.signed(h.alice, 1000, 18)})
	requireBounce(t, resp, ReasonWrongSignedPeriod)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, SentByPeer: h.signed(h.bob, 1000, 1)})
	requireBounce(t, resp, ReasonInvalidPeerSig)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, TransferredFromMe: 1e9 + 1})
	requireBounce(t, resp, ReasonNegativeBalance)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, TransferredFromMe: -1})
	requireBounce(t, resp, ReasonNegativeTransfer)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1})
	requireBounce(t, resp, ReasonNotClosing)

	require.Equal(t, before, h.st)
}

func TestInitiatorConfirmsAfterTimeout(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 1e6, 0, nil)

	resp := h.trigger(h.alice, BounceFee, 0, &TriggerData{Close: 1, Period: 1, TransferredFromMe: 1000})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)

	h.now += h.params.Timeout - 1
	resp = h.trigger(h.alice, BounceFee, 0, &TriggerData{Confirm: 1})
	requireBounce(t, resp, ReasonTooEarly)
	require.Equal(t, StatusClosing, h.st.Status)

	h.now++
	resp = h.trigger(h.alice, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.EqualValues(t, 1e6-1000, resp.Event.Amounts[h.alice])
	require.EqualValues(t, 1000, resp.Event.Amounts[h.bob])
	require.EqualValues(t, 1000, payoutTo(resp, h.bob, types.AssetBase).Amount)
	require.True(t, payoutTo(resp, h.alice, types.AssetBase).SendAll)
}

func TestConfirmWithAdditionalTransfer(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 1e6, 0, nil)
	h.trigger(h.bob, 5e5, 0, nil)

	resp := h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, TransferredFromMe: 2000, SentByPeer: h.signed(h.alice, 3000, 1)})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	h.now += h.params.Timeout

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1, AdditionalTransferredFromMe: -1})
	requireBounce(t, resp, ReasonNegativeAdditional)

	// more than bob has left after his claimed spend
	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1, AdditionalTransferredFromMe: 5e5 - 2000 + 3000 + 1})
	requireBounce(t, resp, ReasonNegativeBalance)
	require.Equal(t, StatusClosing, h.st.Status)
	require.EqualValues(t, 2000, h.st.SpentByB)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1, AdditionalTransferredFromMe: 6324})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.EqualValues(t, 1e6-3000+2000+6324, resp.Event.Amounts[h.alice])
	require.EqualValues(t, 5e5-2000-6324+3000, resp.Event.Amounts[h.bob])
	require.EqualValues(t, 5e5-2000-6324+3000+BounceFee, payoutTo(resp, h.bob, types.AssetBase).Amount)
	require.True(t, payoutTo(resp, h.alice, types.AssetBase).SendAll)
	require.Equal(t, StatusClosed, h.st.Status)
}

func TestRefusedDepositWhileClosing(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 1e6, 0, nil)
	h.trigger(h.alice, BounceFee, 0, &TriggerData{Close: 1, Period: 1})
	eventID := h.st.EventID

	resp := h.trigger(h.bob, 50000, 0, nil)
	require.False(t, resp.Bounced())
	require.Equal(t, EventRefused, resp.Event.Type)
	require.Equal(t, eventID+1, resp.Event.EventID)
	require.Len(t, resp.Payouts, 1)
	require.EqualValues(t, 50000-BounceFee, resp.Payouts[0].Amount)
	require.Zero(t, h.st.BalanceB)
}

func TestFraudProof(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	h.trigger(h.alice, 2e9, 0, nil)
	h.trigger(h.bob, 1e9, 0, nil)

	// Alice claims 652000 while Bob holds her promise of more.
	resp := h.trigger(h.alice, BounceFee, 0, &TriggerData{Close: 1, Period: 1, TransferredFromMe: 652000})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{FraudProof: 1, Period: 1, SentByPeer: h.signed(h.alice, 652000-1000, 1)})
	requireBounce(t, resp, ReasonPeerDidNotLie)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{FraudProof: 1, Period: 1, SentByPeer: h.signed(h.alice, 652000, 1)})
	requireBounce(t, resp, ReasonPeerDidNotLie)

	resp = h.trigger(h.alice, BounceFee, 0, &TriggerData{FraudProof: 1, Period: 1, SentByPeer: h.signed(h.alice, 700000, 1)})
	requireBounce(t, resp, ReasonInitiatorFraudProof)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{FraudProof: 1, Period: 1, SentByPeer: h.signed(h.alice, 652000+1000, 1)})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.True(t, resp.Event.FraudProof)
	require.EqualValues(t, 3e9, resp.Event.Amounts[h.bob])
	require.Zero(t, resp.Event.Amounts[h.alice])
	require.Len(t, resp.Payouts, 1)
	require.True(t, payoutTo(resp, h.bob, types.AssetBase).SendAll)
	require.EqualValues(t, 2, h.st.Period)
}

func TestAssetChannelSettlement(t *testing.T) {
	h := newHarness(t, types.Asset("kZQzWJT1yXn8eYoXCm+wZHmwRBEfq3x1JRMc1u1WYbI="))
	resp := h.trigger(h.alice, BounceFee, 3e9, nil)
	require.False(t, resp.Bounced())
	require.EqualValues(t, 3e9, h.st.BalanceA)

	resp = h.trigger(h.alice, 0, 5e5, nil)
	requireBounce(t, resp, ReasonFeeNotPaid)
	require.EqualValues(t, 5e5, payoutTo(resp, h.alice, h.params.Asset).Amount)

	resp = h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: 1, SentByPeer: h.signed(h.alice, 652000, 1)})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)

	// refused asset deposit is returned in full, the fee stays
	resp = h.trigger(h.bob, BounceFee, 50000, nil)
	require.Equal(t, EventRefused, resp.Event.Type)
	require.EqualValues(t, 50000, payoutTo(resp, h.bob, h.params.Asset).Amount)
	require.Nil(t, payoutTo(resp, h.bob, types.AssetBase))

	resp = h.trigger(h.alice, BounceFee, 0, &TriggerData{Confirm: 1, Period: 1})
	require.False(t, resp.Bounced(), "%v", resp.Bounce)
	require.Len(t, resp.Payouts, 4)
	require.EqualValues(t, 652000, payoutTo(resp, h.bob, h.params.Asset).Amount)
	require.EqualValues(t, BounceFee, payoutTo(resp, h.bob, types.AssetBase).Amount)
	require.True(t, payoutTo(resp, h.alice, h.params.Asset).SendAll)
	require.True(t, payoutTo(resp, h.alice, types.AssetBase).SendAll)
}

func TestEventIDsStrictlyIncrease(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	var last int64
	check := func(resp Response) {
		if resp.Event == nil {
			return
		}
		require.Greater(t, resp.Event.EventID, last)
		last = resp.Event.EventID
	}
	for period := int64(1); period <= 3; period++ {
		check(h.trigger(h.alice, 1e6, 0, nil))
		check(h.trigger(h.bob, 1e6, 0, nil))
		check(h.trigger(h.bob, BounceFee, 0, &TriggerData{Close: 1, Period: period, TransferredFromMe: 10}))
		check(h.trigger(h.alice, 1e5, 0, nil))
		check(h.trigger(h.bob, BounceFee, 0, &TriggerData{Confirm: 1}))
		check(h.trigger(h.alice, BounceFee, 0, &TriggerData{Confirm: 1}))
	}
	require.EqualValues(t, 15, last)
}

func TestEventJSON(t *testing.T) {
	h := newHarness(t, types.AssetBase)
	ev := &Event{
		Type:        EventClosing,
		EventID:     7,
		Period:      2,
		TriggerUnit: "unit",
		InitiatedBy: h.alice,
		Amounts:     map[types.Address]int64{h.alice: 5, h.bob: 0},
	}
	b, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded Event
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, *ev, decoded)

	require.Error(t, json.Unmarshal([]byte(`{"event_id": 1}`), &decoded))
}
