package paychmgr

import (
	"context"
	"encoding/json"
	"errors"

	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
	"github.com/aachannels/aachan/metrics"
	"github.com/aachannels/aachan/peer"
)

type PayOutcome string

const (
	PayAccepted PayOutcome = "accepted"
	// PayPossiblyLost means the peer may have received the package. The
	// amount stays spent and is added to AmountPossiblyLostByMe.
	PayPossiblyLost PayOutcome = "possibly_lost"
)

type PayResult struct {
	Outcome  PayOutcome      `json:"outcome"`
	Response json.RawMessage `json:"response,omitempty"`
}

var (
	ErrNotOpen           = xerrors.New("channel is not open")
	ErrClosing           = xerrors.New("channel is closing")
	ErrInsufficientFunds = xerrors.New("AA not funded enough")
)

// CreatePaymentPackage signs the cumulative claim that pays amount more than
// the current spend, without recording it.
func (pm *Manager) CreatePaymentPackage(ctx context.Context, ci *ChannelInfo, amount int64) (*sigs.SignedPackage, error) {
	return sigs.Sign(ctx, pm.ledger, ci.MyAddress, channel.PaymentMessage{
		AmountSpent:   ci.AmountSpentByMe + amount,
		Period:        ci.Period,
		Channel:       ci.Channel,
		PaymentAmount: amount,
	})
}

// Pay sends amount to the peer of ch. The channel stays locked for the whole
// round trip so that cumulative claims reach the peer in order.
func (pm *Manager) Pay(ctx context.Context, ch types.Address, amount int64, message json.RawMessage) (*PayResult, error) {
	if amount <= 0 {
		return nil, xerrors.Errorf("amount must be positive, got %d", amount)
	}
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkPayable(ci, amount); err != nil {
		return nil, err
	}
	if ci.PeerContact == "" {
		return nil, xerrors.Errorf("no contact for peer %s", ci.PeerAddress)
	}

	pkg, err := pm.CreatePaymentPackage(ctx, ci, amount)
	if err != nil {
		return nil, err
	}
	rawPkg, err := json.Marshal(pkg)
	if err != nil {
		return nil, err
	}
	req, err := peer.NewRequest(peer.CmdPay, peer.PayParams{SignedPackage: rawPkg, Message: message})
	if err != nil {
		return nil, err
	}

	ci.AmountSpentByMe += amount
	ci.MyPaymentsCount++
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return nil, xerrors.Errorf("recording payment: %w", err)
	}

	stop := metrics.Timer(ctx, metrics.PaymentRoundTrip)
	resp, err := pm.transport.Send(ctx, ci.PeerContact, req)
	stop()
	if err == nil {
		var out json.RawMessage
		err = resp.Result(&out)
		if err == nil {
			metrics.Count(ctx, metrics.PaymentsSent, metrics.Outcome, string(PayAccepted))
			stats.Record(ctx, metrics.PaymentAmountSent.M(amount))
			log.Infow("payment accepted", "channel", ch, "amount", amount, "spent", ci.AmountSpentByMe)
			return &PayResult{Outcome: PayAccepted, Response: out}, nil
		}
	}

	var re *peer.RemoteError
	if errors.As(err, &re) {
		ci.AmountSpentByMe -= amount
		ci.MyPaymentsCount--
		if perr := pm.store.putChannelInfo(ctx, ci); perr != nil {
			log.Errorw("rolling back refused payment", "channel", ch, "amount", amount, "error", perr)
			pm.recordPossiblyLost(ctx, ci, amount)
			return &PayResult{Outcome: PayPossiblyLost}, nil
		}
		metrics.Count(ctx, metrics.PaymentsSent, metrics.Outcome, "refused")
		return nil, xerrors.Errorf("payment of %d refused: %w", amount, err)
	}

	log.Warnw("payment delivery unknown", "channel", ch, "amount", amount, "error", err)
	pm.recordPossiblyLost(ctx, ci, amount)
	return &PayResult{Outcome: PayPossiblyLost}, nil
}

func checkPayable(ci *ChannelInfo, amount int64) error {
	if ci.Status != StatusOpen {
		return xerrors.Errorf("paying to %s (status %s): %w", ci.Channel, ci.Status, ErrNotOpen)
	}
	if ci.UnconfirmedStatus == StatusClosingInitiatedByMe || ci.UnconfirmedStatus == StatusClosingInitiatedByPeer {
		return xerrors.Errorf("paying to %s: %w", ci.Channel, ErrClosing)
	}
	if free := ci.Free(); amount > free {
		return xerrors.Errorf("paying %d, only %d free: %w", amount, free, ErrInsufficientFunds)
	}
	return nil
}

// IssuePaymentPackage spends amount on ch and returns the signed package
// without sending it. The caller delivers it to the peer by other means.
func (pm *Manager) IssuePaymentPackage(ctx context.Context, ch types.Address, amount int64) (*sigs.SignedPackage, error) {
	if amount <= 0 {
		return nil, xerrors.Errorf("amount must be positive, got %d", amount)
	}
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := checkPayable(ci, amount); err != nil {
		return nil, err
	}
	pkg, err := pm.CreatePaymentPackage(ctx, ci, amount)
	if err != nil {
		return nil, err
	}
	ci.AmountSpentByMe += amount
	ci.MyPaymentsCount++
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return nil, xerrors.Errorf("recording payment: %w", err)
	}
	metrics.Count(ctx, metrics.PaymentsSent, metrics.Outcome, "issued")
	stats.Record(ctx, metrics.PaymentAmountSent.M(amount))
	return pkg, nil
}

func (pm *Manager) recordPossiblyLost(ctx context.Context, ci *ChannelInfo, amount int64) {
	ci.AmountPossiblyLostByMe += amount
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		log.Errorw("recording possibly lost payment", "channel", ci.Channel, "amount", amount, "error", err)
	}
	metrics.Count(ctx, metrics.PaymentsSent, metrics.Outcome, string(PayPossiblyLost))
	stats.Record(ctx, metrics.PossiblyLost.M(amount))
}

// VerifyPaymentPackage checks a package from the peer of its channel
// against the mirror without accepting it. It returns the channel and the
// decoded message.
func (pm *Manager) VerifyPaymentPackage(ctx context.Context, pkg *sigs.SignedPackage) (*ChannelInfo, *channel.PaymentMessage, error) {
	signer, err := sigs.Verify(pkg)
	if err != nil {
		return nil, nil, xerrors.Errorf("invalid package: %w", err)
	}
	msg, err := channel.DecodePaymentMessage(pkg)
	if err != nil {
		return nil, nil, err
	}
	ci, err := pm.store.ByAddress(ctx, msg.Channel)
	if err != nil {
		return nil, nil, err
	}
	if signer != ci.PeerAddress {
		return nil, nil, xerrors.Errorf("package signed by %s, not by the peer", signer)
	}
	return ci, msg, nil
}

// receivePayment accepts a package from the peer if the claimed cumulative
// spend covers the payment and stays within what the peer can have.
func (pm *Manager) receivePayment(ctx context.Context, p *peer.PayParams) (interface{}, error) {
	pkg, err := sigs.DecodeSignedPackage(p.SignedPackage)
	if err != nil {
		return nil, err
	}
	ci, msg, err := pm.VerifyPaymentPackage(ctx, pkg)
	if err != nil {
		return nil, err
	}
	if msg.PaymentAmount <= 0 {
		return nil, xerrors.New("payment_amount must be positive")
	}

	amount, err := pm.acceptPayment(ctx, ci.Channel, pkg, msg)
	if err != nil {
		metrics.Count(ctx, metrics.PaymentsReceived, metrics.Outcome, "refused")
		return nil, err
	}
	metrics.Count(ctx, metrics.PaymentsReceived, metrics.Outcome, string(PayAccepted))
	stats.Record(ctx, metrics.PaymentAmountReceived.M(amount))

	pm.listeners.fire(Notification{
		Type:    NotifyPaymentReceived,
		Channel: ci.Channel,
		Peer:    ci.PeerAddress,
		Amount:  amount,
		Period:  msg.Period,
		Message: p.Message,
	})

	pm.lk.RLock()
	cb := pm.onPayment
	pm.lk.RUnlock()
	if cb == nil {
		return nil, nil
	}
	resp, err := cb(ctx, ci.Channel, amount, p.Message)
	if err != nil {
		log.Errorw("payment received callback", "channel", ci.Channel, "amount", amount, "error", err)
		return nil, nil
	}
	return resp, nil
}

func (pm *Manager) acceptPayment(ctx context.Context, ch types.Address, pkg *sigs.SignedPackage, msg *channel.PaymentMessage) (int64, error) {
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return 0, err
	}
	defer unlock()

	switch {
	case ci.UnconfirmedStatus == StatusClosingInitiatedByMe || ci.Status.closing():
		return 0, ErrClosing
	case ci.Status == StatusOpen:
	case ci.UnconfirmedStatus == StatusOpen:
	default:
		return 0, xerrors.Errorf("status %s: %w", ci.Status, ErrNotOpen)
	}
	if msg.Period != ci.Period {
		return 0, xerrors.Errorf("wrong period: package is for %d, channel is in %d", msg.Period, ci.Period)
	}

	pending, err := pm.store.PendingUnits(ctx, ch)
	if err != nil {
		return 0, err
	}
	usedElsewhere, err := pm.unconfirmedUsage(ctx, ci)
	if err != nil {
		return 0, err
	}
	allowed := pm.exposure.Allowed(ci, pending, usedElsewhere)
	if limit := ci.peerCapacity() + allowed; msg.AmountSpent > limit {
		return 0, xerrors.Errorf("peer claims to have spent %d, at most %d available: %w", msg.AmountSpent, limit, ErrInsufficientFunds)
	}

	delta := max(msg.AmountSpent-ci.AmountSpentByPeer, 0)
	credit := delta + ci.OverpaymentFromPeer
	if msg.PaymentAmount > credit {
		return 0, xerrors.Errorf("payment amount %d is over the %d credited by this package", msg.PaymentAmount, credit)
	}

	// a smaller cumulative claim paid from overpayment never replaces the
	// package proving the peer's highest spend
	if msg.AmountSpent >= ci.AmountSpentByPeer {
		rawPkg, err := json.Marshal(pkg)
		if err != nil {
			return 0, err
		}
		ci.LastMessageFromPeer = rawPkg
	}
	ci.AmountSpentByPeer += delta
	ci.OverpaymentFromPeer = credit - msg.PaymentAmount
	ci.PeerPaymentsCount++
	ci.refreshUnconfirmedUsage()
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return 0, xerrors.Errorf("recording received payment: %w", err)
	}
	log.Infow("payment received", "channel", ch, "amount", msg.PaymentAmount, "spent_by_peer", ci.AmountSpentByPeer)
	return msg.PaymentAmount, nil
}

// unconfirmedUsage sums the unconfirmed credit used by other channels in the
// same asset.
func (pm *Manager) unconfirmedUsage(ctx context.Context, ci *ChannelInfo) (int64, error) {
	others, err := pm.store.findChans(ctx, func(other *ChannelInfo) bool {
		return other.Channel != ci.Channel && other.Asset.String() == ci.Asset.String() && other.UnconfirmedAmountSpentByPeer > 0
	}, 0)
	if err != nil {
		return 0, err
	}
	var used int64
	for _, o := range others {
		used += o.UnconfirmedAmountSpentByPeer
	}
	return used, nil
}
