package paychmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"github.com/multiformats/go-base32"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

var ErrChannelNotTracked = errors.New("channel not tracked")

var (
	channelsPrefix = datastore.NewKey("/channels")
	depositsPrefix = datastore.NewKey("/deposits")
	pendingPrefix  = datastore.NewKey("/pending")
)

// Store persists channel mirrors and the records that hang off them.
type Store struct {
	lk sync.Mutex

	ds datastore.Batching
}

func NewStore(ds datastore.Batching) *Store {
	ds = namespace.Wrap(ds, datastore.NewKey("/aachan/"))
	return &Store{
		ds: ds,
	}
}

func dskeyForChannel(addr types.Address) datastore.Key {
	return channelsPrefix.ChildString(string(addr))
}

// unit hashes may contain '/', which datastore keys treat as a separator
func unitKeyPart(unit string) string {
	return base32.RawStdEncoding.EncodeToString([]byte(unit))
}

func dskeyForDeposit(ch types.Address, unit string) datastore.Key {
	return depositsPrefix.ChildString(string(ch)).ChildString(unitKeyPart(unit))
}

func dskeyForPending(ch types.Address, unit string) datastore.Key {
	return pendingPrefix.ChildString(string(ch)).ChildString(unitKeyPart(unit))
}

func (ps *Store) put(ctx context.Context, k datastore.Key, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ps.ds.Put(ctx, k, b)
}

func (ps *Store) putChannelInfo(ctx context.Context, ci *ChannelInfo) error {
	return ps.put(ctx, dskeyForChannel(ci.Channel), ci)
}

func (ps *Store) getChannelInfo(ctx context.Context, addr types.Address) (*ChannelInfo, error) {
	b, err := ps.ds.Get(ctx, dskeyForChannel(addr))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrChannelNotTracked
	}
	if err != nil {
		return nil, err
	}

	var ci ChannelInfo
	if err := json.Unmarshal(b, &ci); err != nil {
		return nil, xerrors.Errorf("unmarshaling channel %s: %w", addr, err)
	}
	return &ci, nil
}

// ByAddress gets the channel that matches the given address
func (ps *Store) ByAddress(ctx context.Context, addr types.Address) (*ChannelInfo, error) {
	return ps.getChannelInfo(ctx, addr)
}

// TrackChannel starts mirroring a channel. A channel is tracked once.
func (ps *Store) TrackChannel(ctx context.Context, ci *ChannelInfo) error {
	ps.lk.Lock()
	defer ps.lk.Unlock()

	_, err := ps.getChannelInfo(ctx, ci.Channel)
	switch {
	case err == nil:
		return fmt.Errorf("already tracking channel: %s", ci.Channel)
	case errors.Is(err, ErrChannelNotTracked):
		return ps.putChannelInfo(ctx, ci)
	default:
		return err
	}
}

// ListChannels returns the addresses of all tracked channels
func (ps *Store) ListChannels(ctx context.Context) ([]types.Address, error) {
	res, err := ps.ds.Query(ctx, dsq.Query{Prefix: channelsPrefix.String(), KeysOnly: true})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var out []types.Address
	for {
		res, ok := res.NextSync()
		if !ok {
			break
		}
		if res.Error != nil {
			return nil, res.Error
		}
		addr, err := types.ParseAddress(datastore.RawKey(res.Key).Name())
		if err != nil {
			return nil, xerrors.Errorf("failed reading channel key (%q) from datastore: %w", res.Key, err)
		}
		out = append(out, addr)
	}
	return out, nil
}

// AllChannels returns every tracked channel
func (ps *Store) AllChannels(ctx context.Context) ([]*ChannelInfo, error) {
	return ps.findChans(ctx, func(*ChannelInfo) bool { return true }, 0)
}

func (ps *Store) findChans(ctx context.Context, filter func(*ChannelInfo) bool, maxResults int) ([]*ChannelInfo, error) {
	res, err := ps.ds.Query(ctx, dsq.Query{Prefix: channelsPrefix.String()})
	if err != nil {
		return nil, err
	}
	defer res.Close() //nolint:errcheck

	var matches []*ChannelInfo
	for {
		res, ok := res.NextSync()
		if !ok {
			break
		}
		if res.Error != nil {
			return nil, res.Error
		}

		var ci ChannelInfo
		if err := json.Unmarshal(res.Value, &ci); err != nil {
			return nil, xerrors.Errorf("unmarshaling %s: %w", res.Key, err)
		}
		if !filter(&ci) {
			continue
		}
		matches = append(matches, &ci)
		if maxResults > 0 && len(matches) == maxResults {
			break
		}
	}
	return matches, nil
}

// ByPeerSalt finds the channel a peer proposed with the given salt.
func (ps *Store) ByPeerSalt(ctx context.Context, peer types.Address, salt string) (*ChannelInfo, error) {
	cis, err := ps.findChans(ctx, func(ci *ChannelInfo) bool {
		return ci.PeerAddress == peer && ci.Salt == salt
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(cis) == 0 {
		return nil, ErrChannelNotTracked
	}
	return cis[0], nil
}

func (ps *Store) AddMyDeposit(ctx context.Context, d *MyDeposit) error {
	return ps.put(ctx, dskeyForDeposit(d.Channel, d.Unit), d)
}

// ConfirmMyDeposit marks the deposit made by unit as answered by the
// contract. It reports whether the unit was one of ours.
func (ps *Store) ConfirmMyDeposit(ctx context.Context, ch types.Address, unit string) (bool, error) {
	k := dskeyForDeposit(ch, unit)
	b, err := ps.ds.Get(ctx, k)
	if errors.Is(err, datastore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var d MyDeposit
	if err := json.Unmarshal(b, &d); err != nil {
		return false, err
	}
	d.IsConfirmedByAA = true
	return true, ps.put(ctx, k, &d)
}

func (ps *Store) MyDeposits(ctx context.Context, ch types.Address) ([]*MyDeposit, error) {
	var out []*MyDeposit
	err := ps.each(ctx, depositsPrefix.ChildString(string(ch)), func(b []byte) error {
		var d MyDeposit
		if err := json.Unmarshal(b, &d); err != nil {
			return err
		}
		out = append(out, &d)
		return nil
	})
	return out, err
}

func (ps *Store) PutPendingUnit(ctx context.Context, pu *PendingUnit) error {
	return ps.put(ctx, dskeyForPending(pu.Channel, pu.Unit), pu)
}

func (ps *Store) PendingUnit(ctx context.Context, ch types.Address, unit string) (*PendingUnit, error) {
	b, err := ps.ds.Get(ctx, dskeyForPending(ch, unit))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var pu PendingUnit
	if err := json.Unmarshal(b, &pu); err != nil {
		return nil, err
	}
	return &pu, nil
}

func (ps *Store) PendingUnits(ctx context.Context, ch types.Address) ([]*PendingUnit, error) {
	var out []*PendingUnit
	err := ps.each(ctx, pendingPrefix.ChildString(string(ch)), func(b []byte) error {
		var pu PendingUnit
		if err := json.Unmarshal(b, &pu); err != nil {
			return err
		}
		out = append(out, &pu)
		return nil
	})
	return out, err
}

func (ps *Store) DeletePendingUnit(ctx context.Context, ch types.Address, unit string) error {
	return ps.ds.Delete(ctx, dskeyForPending(ch, unit))
}

// ClearPendingUnits drops everything pending for ch.
func (ps *Store) ClearPendingUnits(ctx context.Context, ch types.Address) error {
	pending, err := ps.PendingUnits(ctx, ch)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	batch, err := ps.ds.Batch(ctx)
	if err != nil {
		return err
	}
	for _, pu := range pending {
		if err := batch.Delete(ctx, dskeyForPending(ch, pu.Unit)); err != nil {
			return err
		}
	}
	return batch.Commit(ctx)
}

func (ps *Store) each(ctx context.Context, prefix datastore.Key, cb func([]byte) error) error {
	res, err := ps.ds.Query(ctx, dsq.Query{Prefix: prefix.String()})
	if err != nil {
		return err
	}
	defer res.Close() //nolint:errcheck

	for {
		r, ok := res.NextSync()
		if !ok {
			return nil
		}
		if r.Error != nil {
			return r.Error
		}
		if err := cb(r.Value); err != nil {
			return xerrors.Errorf("reading %s: %w", strings.TrimPrefix(r.Key, "/"), err)
		}
	}
}
