package paychmgr

import (
	"context"
	"errors"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/peer"
)

var _ peer.Handler = (*Manager)(nil)

// HandlePeerRequest serves requests arriving from channel peers.
func (pm *Manager) HandlePeerRequest(ctx context.Context, req *peer.Request) *peer.Response {
	switch req.Command {
	case peer.CmdCreateChannel:
		var p peer.CreateChannelParams
		if err := req.DecodeParams(&p); err != nil {
			return peer.Fail(req, err)
		}
		resp, err := pm.handleCreateChannel(ctx, &p)
		if err != nil {
			return peer.Fail(req, err)
		}
		return peer.OK(req, resp)

	case peer.CmdPay:
		var p peer.PayParams
		if err := req.DecodeParams(&p); err != nil {
			return peer.Fail(req, err)
		}
		resp, err := pm.receivePayment(ctx, &p)
		if err != nil {
			return peer.Fail(req, err)
		}
		return peer.OK(req, resp)

	case peer.CmdIsReady, peer.CmdIsOpen:
		var q peer.ChannelQuery
		if err := req.DecodeParams(&q); err != nil {
			return peer.Fail(req, err)
		}
		ci, err := pm.store.ByAddress(ctx, q.AAAddress)
		if errors.Is(err, ErrChannelNotTracked) {
			return peer.OK(req, false)
		}
		if err != nil {
			return peer.Fail(req, err)
		}
		if req.Command == peer.CmdIsReady {
			return peer.OK(req, true)
		}
		return peer.OK(req, ci.Status == StatusOpen)

	default:
		return peer.Fail(req, &peer.RemoteError{
			Message: xerrors.Errorf("unknown command %q", req.Command).Error(),
			Code:    "unknown_command",
		})
	}
}
