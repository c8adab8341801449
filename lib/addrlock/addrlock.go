// Package addrlock serializes work on a ledger address. Every read-modify-write
// of a channel record happens while holding the lock of the channel address.
package addrlock

import (
	"context"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/aachannels/aachan/chain/types"
)

var log = logging.Logger("addrlock")

// Locker hands out exclusive locks keyed by address. The returned function
// releases the lock and must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, addr types.Address) (func(), error)
}

// cntMutex is a mutex that can be abandoned by a waiter whose context ends.
type cntMutex struct {
	ch  chan struct{}
	cnt int
}

// Local is an in-process Locker. Entries are dropped once nobody holds or
// waits for them.
type Local struct {
	mapMtx  sync.Mutex
	mutexes map[types.Address]*cntMutex
}

var _ Locker = (*Local)(nil)

func NewLocal() *Local {
	return &Local{mutexes: make(map[types.Address]*cntMutex)}
}

func (l *Local) Lock(ctx context.Context, addr types.Address) (func(), error) {
	l.mapMtx.Lock()
	mtx, ok := l.mutexes[addr]
	if ok {
		mtx.cnt++
	} else {
		mtx = &cntMutex{ch: make(chan struct{}, 1), cnt: 1}
		l.mutexes[addr] = mtx
	}
	l.mapMtx.Unlock()

	select {
	case mtx.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(addr, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(addr, true) })
	}, nil
}

func (l *Local) release(addr types.Address, held bool) {
	l.mapMtx.Lock()
	mtx, ok := l.mutexes[addr]
	if !ok {
		l.mapMtx.Unlock()
		panic(fmt.Sprintf("double unlock for address %s", addr))
	}
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(l.mutexes, addr)
	}
	l.mapMtx.Unlock()

	if held {
		<-mtx.ch
	}
}

// Stacked takes the locks in order and releases them in reverse.
type Stacked []Locker

func (s Stacked) Lock(ctx context.Context, addr types.Address) (func(), error) {
	unlocks := make([]func(), 0, len(s))
	unlockAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range s {
		u, err := l.Lock(ctx, addr)
		if err != nil {
			unlockAll()
			return nil, err
		}
		unlocks = append(unlocks, u)
	}
	return unlockAll, nil
}
