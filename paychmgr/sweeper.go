package paychmgr

import (
	"context"
	"errors"
	"time"

	"go.opencensus.io/stats"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/metrics"
)

func (pm *Manager) runSweeper() {
	defer pm.wg.Done()

	ticker := pm.clock.Ticker(pm.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
			if err := pm.Sweep(pm.ctx); err != nil {
				log.Warnw("sweep finished with errors", "error", err)
			}
		}
	}
}

// Sweep runs the periodic duties for every tracked channel: confirming our
// own expired closes, retrying settlements, re-watching addresses and
// refilling channels that run low.
func (pm *Manager) Sweep(ctx context.Context) error {
	stop := metrics.Timer(ctx, metrics.SweepDuration)
	defer stop()

	chans, err := pm.store.AllChannels(ctx)
	if err != nil {
		return xerrors.Errorf("listing channels: %w", err)
	}
	stats.Record(ctx, metrics.TrackedChannels.M(int64(len(chans))))

	var (
		errs = make([]error, len(chans))
		eg   errgroup.Group
	)
	eg.SetLimit(pm.cfg.SweepParallelism)
	for i, ci := range chans {
		eg.Go(func() error {
			errs[i] = pm.sweepChannel(ctx, ci.Channel)
			return nil
		})
	}
	_ = eg.Wait()
	return multierr.Combine(errs...)
}

func (pm *Manager) sweepChannel(ctx context.Context, ch types.Address) error {
	pm.watch(ctx, ch)

	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	defer unlock()

	switch {
	case ci.PendingAction != nil:
		if err := pm.submitPendingAction(ctx, ci); err != nil {
			return xerrors.Errorf("retrying %s on %s: %w", ci.PendingAction.Kind, ch, err)
		}
	case ci.Status == StatusClosingInitiatedByMe:
		if !pm.closeExpired(ci) {
			return nil
		}
		log.Infow("close timeout passed, confirming", "channel", ch, "period", ci.Period)
		ci.PendingAction = &PendingAction{Kind: ActionConfirm, Period: ci.Period}
		if err := pm.store.putChannelInfo(ctx, ci); err != nil {
			return err
		}
		if err := pm.submitPendingAction(ctx, ci); err != nil {
			return xerrors.Errorf("confirming own close of %s: %w", ch, err)
		}
	case ci.Status == StatusOpen:
		return pm.maybeRefill(ctx, ci)
	}
	return nil
}

func (pm *Manager) closeExpired(ci *ChannelInfo) bool {
	if ci.CloseTimestamp == 0 {
		return false
	}
	deadline := time.Unix(ci.CloseTimestamp+ci.Timeout, 0).Add(pm.cfg.CloseGrace)
	return !pm.clock.Now().Before(deadline)
}

// maybeRefill tops ci up when auto refill is on, the free balance is under
// the threshold and no earlier deposit of ours is still unanswered.
func (pm *Manager) maybeRefill(ctx context.Context, ci *ChannelInfo) error {
	if ci.AutoRefillThreshold == 0 || ci.UnconfirmedStatus == StatusClosingInitiatedByMe {
		return nil
	}
	if ci.Free() >= ci.AutoRefillThreshold {
		return nil
	}
	deposits, err := pm.store.MyDeposits(ctx, ci.Channel)
	if err != nil {
		return err
	}
	for _, d := range deposits {
		if !d.IsConfirmedByAA {
			return nil
		}
	}

	unit, err := pm.deposit(ctx, ci, ci.AutoRefillAmount)
	if errors.Is(err, types.ErrNotEnoughFunds) {
		log.Warnw("not enough funds to refill channel", "channel", ci.Channel, "amount", ci.AutoRefillAmount)
		return nil
	}
	if err != nil {
		return xerrors.Errorf("refilling %s: %w", ci.Channel, err)
	}
	pm.listeners.fire(Notification{
		Type:    NotifyChannelRefilled,
		Channel: ci.Channel,
		Peer:    ci.PeerAddress,
		Amount:  ci.AutoRefillAmount,
		Period:  ci.Period,
		Unit:    unit,
	})
	return nil
}
