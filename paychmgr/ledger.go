package paychmgr

import (
	"context"
	"encoding/json"
	"errors"

	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/metrics"
)

// sendToChannel submits a transaction from this wallet to the channel.
func (pm *Manager) sendToChannel(ctx context.Context, action string, ci *ChannelInfo, outputs []types.Output, data *channel.TriggerData, withDefinition bool) (string, error) {
	tx := &types.Transaction{From: ci.MyAddress, Outputs: outputs}
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return "", err
		}
		tx.Data = b
	}
	if withDefinition {
		def, err := ci.Params().Definition()
		if err != nil {
			return "", err
		}
		b, err := json.Marshal(def)
		if err != nil {
			return "", err
		}
		tx.Definition = b
	}

	unit, err := pm.ledger.SendTransaction(ctx, tx)
	outcome := "ok"
	switch {
	case errors.Is(err, types.ErrNotEnoughFunds):
		outcome = "no_funds"
	case err != nil:
		outcome = "error"
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{
		tag.Upsert(metrics.Action, action),
		tag.Upsert(metrics.Outcome, outcome),
	}, metrics.LedgerActions.M(1))
	if err != nil {
		return "", xerrors.Errorf("sending %s to %s: %w", action, ci.Channel, err)
	}
	log.Infow("sent to channel", "action", action, "channel", ci.Channel, "unit", unit)
	return unit, nil
}

func feeOutput(ch types.Address) types.Output {
	return types.Output{Address: ch, Asset: types.AssetBase, Amount: channel.BounceFee}
}

// Deposit adds amount to our side of ch.
func (pm *Manager) Deposit(ctx context.Context, ch types.Address, amount int64) (string, error) {
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return "", err
	}
	defer unlock()
	return pm.deposit(ctx, ci, amount)
}

func (pm *Manager) deposit(ctx context.Context, ci *ChannelInfo, amount int64) (string, error) {
	if ci.Asset.IsBase() && amount < pm.cfg.MinDeposit {
		return "", xerrors.Errorf("deposit must be at least %d, got %d", pm.cfg.MinDeposit, amount)
	}
	if amount <= 0 {
		return "", xerrors.Errorf("deposit must be positive, got %d", amount)
	}
	if ci.Status.closing() || ci.UnconfirmedStatus == StatusClosingInitiatedByMe {
		return "", xerrors.Errorf("depositing to %s: %w", ci.Channel, ErrClosing)
	}

	var outputs []types.Output
	if ci.Asset.IsBase() {
		outputs = []types.Output{{Address: ci.Channel, Asset: types.AssetBase, Amount: amount}}
	} else {
		outputs = []types.Output{{Address: ci.Channel, Asset: ci.Asset, Amount: amount}, feeOutput(ci.Channel)}
	}

	unit, err := pm.sendToChannel(ctx, "deposit", ci, outputs, nil, !ci.IsDefinitionConfirmed)
	if err != nil {
		return "", err
	}
	if err := pm.store.AddMyDeposit(ctx, &MyDeposit{
		Channel:   ci.Channel,
		Unit:      unit,
		Amount:    amount,
		CreatedAt: pm.clock.Now(),
	}); err != nil {
		return unit, xerrors.Errorf("recording deposit %s: %w", unit, err)
	}
	return unit, nil
}

// Close asks the contract to settle the current period with our claims.
func (pm *Manager) Close(ctx context.Context, ch types.Address) (string, error) {
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return "", err
	}
	defer unlock()

	if ci.Status != StatusOpen {
		return "", xerrors.Errorf("closing %s (status %s): %w", ch, ci.Status, ErrNotOpen)
	}
	if ci.UnconfirmedStatus == StatusClosingInitiatedByMe {
		return "", xerrors.Errorf("closing %s: %w", ch, ErrClosing)
	}

	data := &channel.TriggerData{
		Close:             1,
		Period:            ci.Period,
		TransferredFromMe: ci.AmountSpentByMe,
	}
	if ci.AmountSpentByPeer > 0 {
		data.SentByPeer = ci.LastMessageFromPeer
	}

	// no more payments in either direction once our claims are fixed
	prevStatus := ci.UnconfirmedStatus
	ci.UnconfirmedStatus = StatusClosingInitiatedByMe
	ci.ClosingAuthored = true
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return "", err
	}

	unit, err := pm.sendToChannel(ctx, "close", ci, []types.Output{feeOutput(ch)}, data, false)
	if err != nil {
		ci.UnconfirmedStatus = prevStatus
		ci.ClosingAuthored = false
		if perr := pm.store.putChannelInfo(ctx, ci); perr != nil {
			log.Errorw("restoring channel after failed close", "channel", ch, "error", perr)
		}
		return "", err
	}
	return unit, nil
}

// submitPendingAction sends the confirm or fraud proof recorded in ci unless
// it was already sent. Must be called with the channel lock held.
func (pm *Manager) submitPendingAction(ctx context.Context, ci *ChannelInfo) error {
	act := ci.PendingAction
	if act == nil || act.Unit != "" {
		return nil
	}
	if act.Period != ci.Period {
		ci.PendingAction = nil
		return pm.store.putChannelInfo(ctx, ci)
	}

	data := &channel.TriggerData{Period: act.Period}
	switch act.Kind {
	case ActionConfirm:
		data.Confirm = 1
	case ActionFraudProof:
		data.FraudProof = 1
		data.SentByPeer = ci.LastMessageFromPeer
	default:
		return xerrors.Errorf("unknown action %q", act.Kind)
	}

	unit, err := pm.sendToChannel(ctx, string(act.Kind), ci, []types.Output{feeOutput(ci.Channel)}, data, false)
	if err != nil {
		if errors.Is(err, types.ErrNotEnoughFunds) {
			log.Warnw("cannot pay for settlement yet, will retry", "channel", ci.Channel, "action", act.Kind)
		}
		return err
	}
	act.Unit = unit
	act.PrevStatus = ci.Status
	ci.Status = StatusConfirmedByMe
	return pm.store.putChannelInfo(ctx, ci)
}

// onSettlementBounced puts ci back where it was before the bounced
// settlement. A confirm of our own expired close is sent again by the
// sweeper; anything else is left to the operator.
func (pm *Manager) onSettlementBounced(ctx context.Context, ci *ChannelInfo, b *channel.BounceResponse) (*Notification, error) {
	act := ci.PendingAction
	if act == nil || act.Unit == "" || act.Unit != b.TriggerUnit {
		return nil, nil
	}
	log.Errorw("settlement bounced", "channel", ci.Channel, "action", act.Kind, "unit", act.Unit, "reason", b.Error)
	ci.Status = act.PrevStatus
	ci.PendingAction = nil
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return nil, err
	}
	return &Notification{
		Type:    NotifySettlementBounced,
		Channel: ci.Channel,
		Peer:    ci.PeerAddress,
		Period:  act.Period,
		Unit:    act.Unit,
		Reason:  b.Error,
	}, nil
}
