package paychmgr

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/samber/lo"
	"go.opencensus.io/stats"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/retry"
	"github.com/aachannels/aachan/metrics"
)

// watch asks the ledger to report units touching ch. Failures are left to
// the sweeper.
func (pm *Manager) watch(ctx context.Context, ch types.Address) {
	pm.lk.RLock()
	_, ok := pm.watched[ch]
	pm.lk.RUnlock()
	if ok {
		return
	}

	_, err := retry.Retry(ctx, 3, 100*time.Millisecond, isTransient, func() (struct{}, error) {
		return struct{}{}, pm.ledger.WatchAddress(ctx, ch)
	})
	if err != nil {
		log.Warnw("watching channel address", "channel", ch, "error", err)
		return
	}
	pm.lk.Lock()
	pm.watched[ch] = struct{}{}
	pm.lk.Unlock()
}

func isTransient(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, types.ErrNotEnoughFunds)
}

// HandleStableUnits applies the contract responses among units, in ledger
// order.
func (pm *Manager) HandleStableUnits(ctx context.Context, units []types.Unit) error {
	sorted := append([]types.Unit(nil), units...)
	types.SortUnits(sorted)

	for i := range sorted {
		u := &sorted[i]
		if err := pm.settleTrigger(ctx, u); err != nil {
			return xerrors.Errorf("settling trigger %s: %w", u.ID, err)
		}
		for _, author := range u.Authors {
			if err := pm.applyResponse(ctx, author, u); err != nil {
				return xerrors.Errorf("applying unit %s: %w", u.ID, err)
			}
		}
	}
	return nil
}

// seqSettled marks a unit in the seen cache once it is stable, so that a
// late unstable sighting cannot make it pending again.
const seqSettled types.Sequence = "settled"

// settleTrigger forgets a stable unit paying to one of our channels as
// pending. Whatever it did is now reflected by the contract response, even
// if that response is a bounce without an event.
func (pm *Manager) settleTrigger(ctx context.Context, u *types.Unit) error {
	for _, ch := range lo.Uniq(lo.Map(u.Outputs, func(o types.Output, _ int) types.Address { return o.Address })) {
		if err := pm.settleTriggerOn(ctx, ch, u); err != nil {
			return err
		}
	}
	return nil
}

func (pm *Manager) settleTriggerOn(ctx context.Context, ch types.Address, u *types.Unit) error {
	if _, err := pm.store.ByAddress(ctx, ch); errors.Is(err, ErrChannelNotTracked) {
		return nil
	} else if err != nil {
		return err
	}

	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	defer unlock()

	if u.AuthoredBy(ci.MyAddress) {
		if _, err := pm.store.ConfirmMyDeposit(ctx, ch, u.ID); err != nil {
			return err
		}
	}
	if err := pm.store.DeletePendingUnit(ctx, ch, u.ID); err != nil {
		return err
	}
	pm.seen.Add(string(ch)+"/"+u.ID, seqSettled)
	return nil
}

func (pm *Manager) applyResponse(ctx context.Context, ch types.Address, u *types.Unit) error {
	if len(u.Data) == 0 {
		return nil
	}
	if _, err := pm.store.ByAddress(ctx, ch); errors.Is(err, ErrChannelNotTracked) {
		return nil
	} else if err != nil {
		return err
	}

	var b channel.BounceResponse
	if err := json.Unmarshal(u.Data, &b); err == nil && b.Error != "" {
		return pm.applyBounce(ctx, ch, &b)
	}

	var ev channel.Event
	if err := json.Unmarshal(u.Data, &ev); err != nil {
		log.Debugw("ignoring unit without a channel event", "channel", ch, "unit", u.ID, "error", err)
		return nil
	}

	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	defer unlock()

	if ev.EventID <= ci.LastEventID {
		stats.Record(ctx, metrics.EventsSkipped.M(1))
		log.Debugw("skipping applied event", "channel", ch, "event_id", ev.EventID, "last_event_id", ci.LastEventID)
		return nil
	}

	var notes []Notification
	switch ev.Type {
	case channel.EventOpen:
		notes, err = pm.onOpen(ctx, ci, &ev)
	case channel.EventClosing:
		err = pm.onClosing(ci, &ev, u)
	case channel.EventClosed:
		notes, err = pm.onClosed(ctx, ci, &ev)
	case channel.EventRefused:
		notes, err = pm.onRefused(ctx, ci, &ev)
	}
	if err != nil {
		return err
	}

	ci.LastEventID = ev.EventID
	ci.LastUpdatedMCI = u.MCI
	if err := pm.store.putChannelInfo(ctx, ci); err != nil {
		return err
	}
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(metrics.EventType, string(ev.Type))}, metrics.EventsApplied.M(1))
	log.Infow("applied channel event", "channel", ch, "type", ev.Type, "event_id", ev.EventID, "period", ev.Period, "status", ci.Status)

	if ci.PendingAction != nil {
		if err := pm.submitPendingAction(ctx, ci); err != nil {
			log.Errorw("submitting settlement", "channel", ch, "action", ci.PendingAction.Kind, "error", err)
		}
	}
	for _, n := range notes {
		pm.listeners.fire(n)
	}
	return nil
}

func (pm *Manager) applyBounce(ctx context.Context, ch types.Address, b *channel.BounceResponse) error {
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	n, err := pm.onSettlementBounced(ctx, ci, b)
	unlock()
	if err != nil {
		return err
	}
	if n == nil {
		log.Debugw("contract bounced a trigger", "channel", ch, "trigger", b.TriggerUnit, "reason", b.Error)
		return nil
	}
	pm.listeners.fire(*n)
	return nil
}

func (pm *Manager) onOpen(ctx context.Context, ci *ChannelInfo, ev *channel.Event) ([]Notification, error) {
	prevMine := ci.AmountDepositedByMe
	mine, err := pm.store.ConfirmMyDeposit(ctx, ci.Channel, ev.TriggerUnit)
	if err != nil {
		return nil, err
	}
	if err := pm.store.DeletePendingUnit(ctx, ci.Channel, ev.TriggerUnit); err != nil {
		return nil, err
	}

	ci.AmountDepositedByMe = ev.Amounts[ci.MyAddress]
	ci.AmountDepositedByPeer = ev.Amounts[ci.PeerAddress]
	ci.Period = ev.Period
	ci.Status = StatusOpen
	ci.IsDefinitionConfirmed = true
	if ci.UnconfirmedStatus == StatusOpen {
		ci.UnconfirmedStatus = ""
	}
	ci.refreshUnconfirmedUsage()

	n := Notification{Type: NotifyPeerDepositStable, Channel: ci.Channel, Peer: ci.PeerAddress, Period: ev.Period, Unit: ev.TriggerUnit}
	n.Amount = ci.AmountDepositedByPeer
	if mine || ci.AmountDepositedByMe > prevMine {
		n.Type = NotifyMyDepositStable
		n.Amount = ci.AmountDepositedByMe
	}
	return []Notification{n}, nil
}

func (pm *Manager) onClosing(ci *ChannelInfo, ev *channel.Event, u *types.Unit) error {
	ci.Period = ev.Period
	ci.CloseTimestamp = u.Timestamp
	if ev.InitiatedBy == ci.MyAddress {
		ci.Status = StatusClosingInitiatedByMe
		ci.UnconfirmedStatus = ""
		return nil
	}

	ci.Status = StatusClosingInitiatedByPeer
	ci.UnconfirmedStatus = ""
	claimed := ev.Amounts[ci.PeerAddress]
	if claimed >= ci.AmountSpentByPeer {
		ci.PendingAction = &PendingAction{Kind: ActionConfirm, Period: ev.Period}
		return nil
	}
	log.Warnw("peer under-reported its spend, proving fraud", "channel", ci.Channel, "claimed", claimed, "signed", ci.AmountSpentByPeer)
	ci.PendingAction = &PendingAction{Kind: ActionFraudProof, Period: ev.Period}
	return nil
}

func (pm *Manager) onClosed(ctx context.Context, ci *ChannelInfo, ev *channel.Event) ([]Notification, error) {
	n := Notification{
		Type:    NotifyClosed,
		Channel: ci.Channel,
		Peer:    ci.PeerAddress,
		Amount:  ev.Amounts[ci.MyAddress],
		Period:  ev.Period,
		Unit:    ev.TriggerUnit,
	}
	if ev.FraudProof {
		n.Type = NotifyClosedWithFraud
	}
	if err := pm.store.ClearPendingUnits(ctx, ci.Channel); err != nil {
		return nil, err
	}
	ci.resetPeriod(ev.Period + 1)
	return []Notification{n}, nil
}

func (pm *Manager) onRefused(ctx context.Context, ci *ChannelInfo, ev *channel.Event) ([]Notification, error) {
	mine, err := pm.store.ConfirmMyDeposit(ctx, ci.Channel, ev.TriggerUnit)
	if err != nil {
		return nil, err
	}
	if err := pm.store.DeletePendingUnit(ctx, ci.Channel, ev.TriggerUnit); err != nil {
		return nil, err
	}
	if !mine {
		return nil, nil
	}
	return []Notification{{Type: NotifyRefusedDeposit, Channel: ci.Channel, Peer: ci.PeerAddress, Period: ev.Period, Unit: ev.TriggerUnit}}, nil
}

// HandleUnconfirmedUnit records a peer unit to one of our channels that is
// not stable yet. It never touches confirmed balances.
func (pm *Manager) HandleUnconfirmedUnit(ctx context.Context, u types.Unit) error {
	if u.Stable {
		return pm.HandleStableUnits(ctx, []types.Unit{u})
	}

	seen := map[types.Address]struct{}{}
	for _, o := range u.Outputs {
		if _, ok := seen[o.Address]; ok {
			continue
		}
		seen[o.Address] = struct{}{}
		if err := pm.recordPending(ctx, o.Address, &u); err != nil {
			return xerrors.Errorf("recording pending unit %s: %w", u.ID, err)
		}
	}
	return nil
}

func (pm *Manager) recordPending(ctx context.Context, ch types.Address, u *types.Unit) error {
	cacheKey := string(ch) + "/" + u.ID
	if seq, ok := pm.seen.Get(cacheKey); ok && (seq == u.Sequence || seq == seqSettled) {
		return nil
	}

	ci, err := pm.store.ByAddress(ctx, ch)
	if errors.Is(err, ErrChannelNotTracked) {
		return nil
	}
	if err != nil {
		return err
	}
	if !u.AuthoredBy(ci.PeerAddress) {
		return nil
	}

	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	defer unlock()

	if seq, ok := pm.seen.Get(cacheKey); ok && seq == seqSettled {
		return nil
	}

	var data channel.TriggerData
	if len(u.Data) > 0 {
		if err := json.Unmarshal(u.Data, &data); err != nil {
			log.Debugw("undecodable trigger data", "unit", u.ID, "error", err)
		}
	}

	existing, err := pm.store.PendingUnit(ctx, ch, u.ID)
	if err != nil {
		return err
	}
	pu := &PendingUnit{
		Channel:       ch,
		Unit:          u.ID,
		CloseChannel:  data.Close == 1,
		HasDefinition: u.Reveals(ch),
		IsBadSequence: u.Sequence.IsBad(),
		ObservedAt:    pm.clock.Now(),
	}
	if !pu.CloseChannel {
		pu.Amount = u.AmountTo(ch, ci.Asset)
	}
	if existing != nil {
		pu.ObservedAt = existing.ObservedAt
		pu.IsBadSequence = pu.IsBadSequence || existing.IsBadSequence
	}
	if err := pm.store.PutPendingUnit(ctx, pu); err != nil {
		return err
	}
	pm.seen.Add(cacheKey, u.Sequence)
	stats.Record(ctx, metrics.PendingUnits.M(1))

	switch {
	case pu.CloseChannel:
		ci.UnconfirmedStatus = StatusClosingInitiatedByPeer
	case pu.Amount > 0 && ci.UnconfirmedStatus == "":
		ci.UnconfirmedStatus = StatusOpen
	default:
		return nil
	}
	log.Infow("unconfirmed peer activity", "channel", ch, "unit", u.ID, "amount", pu.Amount, "close", pu.CloseChannel, "bad_sequence", pu.IsBadSequence)
	return pm.store.putChannelInfo(ctx, ci)
}
