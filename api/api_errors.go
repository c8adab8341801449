package api

import (
	"errors"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/paychmgr"
)

const (
	EChannelNotTracked = iota + jsonrpc.FirstUserCode
	EChannelNotOpen
	EChannelClosing
	EInsufficientFunds
	ENotEnoughFunds
)

var (
	RPCErrors = jsonrpc.NewErrors()

	_ error = (*ErrChannelNotTracked)(nil)
	_ error = (*ErrChannelNotOpen)(nil)
	_ error = (*ErrChannelClosing)(nil)
	_ error = (*ErrInsufficientFunds)(nil)
	_ error = (*ErrNotEnoughFunds)(nil)
)

func init() {
	RPCErrors.Register(EChannelNotTracked, new(*ErrChannelNotTracked))
	RPCErrors.Register(EChannelNotOpen, new(*ErrChannelNotOpen))
	RPCErrors.Register(EChannelClosing, new(*ErrChannelClosing))
	RPCErrors.Register(EInsufficientFunds, new(*ErrInsufficientFunds))
	RPCErrors.Register(ENotEnoughFunds, new(*ErrNotEnoughFunds))
}

// ErrChannelNotTracked signals that the node does not know the channel.
type ErrChannelNotTracked struct{}

func (ErrChannelNotTracked) Error() string { return paychmgr.ErrChannelNotTracked.Error() }

func (ErrChannelNotTracked) Is(target error) bool { return target == paychmgr.ErrChannelNotTracked }

type ErrChannelNotOpen struct{}

func (ErrChannelNotOpen) Error() string { return paychmgr.ErrNotOpen.Error() }

func (ErrChannelNotOpen) Is(target error) bool { return target == paychmgr.ErrNotOpen }

type ErrChannelClosing struct{}

func (ErrChannelClosing) Error() string { return paychmgr.ErrClosing.Error() }

func (ErrChannelClosing) Is(target error) bool { return target == paychmgr.ErrClosing }

// ErrInsufficientFunds signals that our free balance in the channel does not
// cover the payment.
type ErrInsufficientFunds struct{}

func (ErrInsufficientFunds) Error() string { return paychmgr.ErrInsufficientFunds.Error() }

func (ErrInsufficientFunds) Is(target error) bool { return target == paychmgr.ErrInsufficientFunds }

// ErrNotEnoughFunds signals that the wallet cannot pay for a deposit.
type ErrNotEnoughFunds struct{}

func (ErrNotEnoughFunds) Error() string { return types.ErrNotEnoughFunds.Error() }

func (ErrNotEnoughFunds) Is(target error) bool { return target == types.ErrNotEnoughFunds }

var typedErrors = []struct {
	sentinel error
	typed    error
}{
	{paychmgr.ErrChannelNotTracked, &ErrChannelNotTracked{}},
	{paychmgr.ErrNotOpen, &ErrChannelNotOpen{}},
	{paychmgr.ErrClosing, &ErrChannelClosing{}},
	{paychmgr.ErrInsufficientFunds, &ErrInsufficientFunds{}},
	{types.ErrNotEnoughFunds, &ErrNotEnoughFunds{}},
}

// TypedError replaces errors clients may want to match on with their
// registered type. The RPC server only encodes the code of the outermost
// error, so the wrapped context is given up.
func TypedError(err error) error {
	if err == nil {
		return nil
	}
	for _, te := range typedErrors {
		if errors.Is(err, te.sentinel) {
			return te.typed
		}
	}
	return err
}
