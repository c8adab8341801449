package paychmgr

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/ipfs/go-log/v2"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/addrlock"
)

var log = logging.Logger("paychmgr")

// Config holds the manager's tunables. Zero values are replaced by
// DefaultConfig's.
type Config struct {
	// ContactURL is where peers reach this node. It is sent to peers we open
	// channels with.
	ContactURL string
	// MinDeposit is the smallest deposit accepted for channels in the native
	// currency.
	MinDeposit int64
	// DefaultTimeout is the close timeout, in seconds, of channels we create.
	DefaultTimeout int64
	AAVersion      string

	SweepInterval    time.Duration
	SweepParallelism int
	// CloseGrace is waited on top of the channel timeout before confirming
	// our own close, to absorb clock differences with the ledger. A negative
	// value means no grace at all.
	CloseGrace time.Duration

	SeenUnitsCacheSize int
}

func DefaultConfig() Config {
	return Config{
		MinDeposit:         1e5,
		DefaultTimeout:     24 * 3600,
		AAVersion:          channel.DefaultVersion,
		SweepInterval:      5 * time.Second,
		SweepParallelism:   8,
		CloseGrace:         5 * time.Minute,
		SeenUnitsCacheSize: 4096,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinDeposit == 0 {
		c.MinDeposit = d.MinDeposit
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}
	if c.AAVersion == "" {
		c.AAVersion = d.AAVersion
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SweepParallelism == 0 {
		c.SweepParallelism = d.SweepParallelism
	}
	if c.SeenUnitsCacheSize == 0 {
		c.SeenUnitsCacheSize = d.SeenUnitsCacheSize
	}
	switch {
	case c.CloseGrace == 0:
		c.CloseGrace = d.CloseGrace
	case c.CloseGrace < 0:
		c.CloseGrace = 0
	}
	return c
}

// PaymentReceivedFunc is called for every accepted incoming payment. Its
// result is sent back to the payer. The payment stands even if it fails.
type PaymentReceivedFunc func(ctx context.Context, ch types.Address, amount int64, message json.RawMessage) (interface{}, error)

type Manager struct {
	// The Manager context is used to terminate background work on shutdown
	ctx      context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	cfg       Config
	store     *Store
	ledger    LedgerAPI
	transport PeerTransport
	locks     addrlock.Locker
	exposure  *ExposurePolicy
	clock     clock.Clock
	listeners notifyListeners
	seen      *lru.Cache[string, types.Sequence]

	myAddress types.Address

	lk        sync.RWMutex
	onPayment PaymentReceivedFunc
	watched   map[types.Address]struct{}
}

type ManagerParams struct {
	Config    Config
	Store     *Store
	Ledger    LedgerAPI
	Transport PeerTransport
	Locks     addrlock.Locker
	Exposure  *ExposurePolicy
	Clock     clock.Clock
}

func NewManager(ctx context.Context, p ManagerParams) (*Manager, error) {
	cfg := p.Config.withDefaults()
	seen, err := lru.New[string, types.Sequence](cfg.SeenUnitsCacheSize)
	if err != nil {
		return nil, err
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.Locks == nil {
		p.Locks = addrlock.NewLocal()
	}
	if p.Exposure == nil {
		p.Exposure = NewExposurePolicy(ExposureConfig{}, p.Clock)
	}

	pm := &Manager{
		cfg:       cfg,
		store:     p.Store,
		ledger:    p.Ledger,
		transport: p.Transport,
		locks:     p.Locks,
		exposure:  p.Exposure,
		clock:     p.Clock,
		listeners: newNotifyListeners(),
		seen:      seen,
		watched:   make(map[types.Address]struct{}),
	}
	pm.ctx, pm.shutdown = context.WithCancel(ctx)
	return pm, nil
}

// Start resolves the wallet address, subscribes to ledger units and starts
// the background sweeper.
func (pm *Manager) Start(ctx context.Context) error {
	addr, err := pm.ledger.MyAddress(ctx)
	if err != nil {
		return xerrors.Errorf("getting wallet address: %w", err)
	}
	pm.myAddress = addr

	units, err := pm.ledger.SubscribeUnits(pm.ctx)
	if err != nil {
		return xerrors.Errorf("subscribing to ledger units: %w", err)
	}

	pm.wg.Add(2)
	go pm.processUnits(units)
	go pm.runSweeper()

	log.Infow("payment channel manager started", "address", addr)
	return nil
}

// Stop shuts down any processes used by the manager
func (pm *Manager) Stop() error {
	pm.shutdown()
	pm.wg.Wait()
	return nil
}

func (pm *Manager) MyAddress() types.Address {
	return pm.myAddress
}

func (pm *Manager) processUnits(units <-chan types.Unit) {
	defer pm.wg.Done()
	for {
		select {
		case <-pm.ctx.Done():
			return
		case u, ok := <-units:
			if !ok {
				log.Warn("ledger unit subscription closed")
				return
			}
			var err error
			if u.Stable {
				err = pm.HandleStableUnits(pm.ctx, []types.Unit{u})
			} else {
				err = pm.HandleUnconfirmedUnit(pm.ctx, u)
			}
			if err != nil {
				log.Errorw("processing ledger unit", "unit", u.ID, "stable", u.Stable, "error", err)
			}
		}
	}
}

// lockChannel takes the channel lock and loads the record under it.
func (pm *Manager) lockChannel(ctx context.Context, ch types.Address) (*ChannelInfo, func(), error) {
	unlock, err := pm.locks.Lock(ctx, ch)
	if err != nil {
		return nil, nil, xerrors.Errorf("locking channel %s: %w", ch, err)
	}
	ci, err := pm.store.ByAddress(ctx, ch)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return ci, unlock, nil
}

func (pm *Manager) SetPaymentReceivedCallback(cb PaymentReceivedFunc) {
	pm.lk.Lock()
	defer pm.lk.Unlock()
	pm.onPayment = cb
}

// Subscribe registers cb for every notification. Call the returned function
// to unsubscribe.
func (pm *Manager) Subscribe(cb func(Notification)) func() {
	return pm.listeners.subscribe(cb)
}

func (pm *Manager) GetStatus(ctx context.Context, ch types.Address) (*ChannelInfo, error) {
	return pm.store.ByAddress(ctx, ch)
}

func (pm *Manager) ListChannels(ctx context.Context) ([]types.Address, error) {
	return pm.store.ListChannels(ctx)
}

// SetAutoRefill makes the sweeper deposit amount whenever the free balance
// drops below threshold. A zero threshold disables refilling.
func (pm *Manager) SetAutoRefill(ctx context.Context, ch types.Address, threshold, amount int64) error {
	if threshold < 0 || amount < 0 {
		return xerrors.New("threshold and amount must be non-negative")
	}
	if threshold > 0 && amount == 0 {
		return xerrors.New("refill amount required")
	}
	ci, unlock, err := pm.lockChannel(ctx, ch)
	if err != nil {
		return err
	}
	defer unlock()

	ci.AutoRefillThreshold = threshold
	ci.AutoRefillAmount = amount
	return pm.store.putChannelInfo(ctx, ci)
}
