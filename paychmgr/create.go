package paychmgr

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/url"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/peer"
)

const saltLength = 60

type CreateOpts struct {
	// Timeout in seconds, DefaultTimeout if zero.
	Timeout int64
	Asset   types.Asset
}

func newSalt() (string, error) {
	b := make([]byte, saltLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// CreateChannel proposes a channel to the peer reachable at peerContact, and
// deploys and funds it once both sides agree on its address.
func (pm *Manager) CreateChannel(ctx context.Context, peerContact string, initialAmount int64, opts CreateOpts) (types.Address, error) {
	if opts.Timeout == 0 {
		opts.Timeout = pm.cfg.DefaultTimeout
	}
	if opts.Asset == "" {
		opts.Asset = types.AssetBase
	}
	if opts.Timeout <= 0 {
		return types.Undef, xerrors.Errorf("timeout must be positive, got %d", opts.Timeout)
	}
	if opts.Asset.IsBase() && initialAmount < pm.cfg.MinDeposit {
		return types.Undef, xerrors.Errorf("initial deposit must be at least %d, got %d", pm.cfg.MinDeposit, initialAmount)
	}
	if initialAmount <= 0 {
		return types.Undef, xerrors.Errorf("initial deposit must be positive, got %d", initialAmount)
	}

	salt, err := newSalt()
	if err != nil {
		return types.Undef, err
	}
	req, err := peer.NewRequest(peer.CmdCreateChannel, peer.CreateChannelParams{
		Address:   pm.myAddress,
		Timeout:   opts.Timeout,
		Asset:     opts.Asset,
		Salt:      salt,
		AAVersion: pm.cfg.AAVersion,
		URL:       pm.cfg.ContactURL,
	})
	if err != nil {
		return types.Undef, err
	}
	resp, err := pm.transport.Send(ctx, peerContact, req)
	if err != nil {
		return types.Undef, xerrors.Errorf("proposing channel: %w", err)
	}
	var created peer.CreateChannelResponse
	if err := resp.Result(&created); err != nil {
		return types.Undef, xerrors.Errorf("proposing channel: %w", err)
	}
	if err := created.AddressA.Validate(); err != nil {
		return types.Undef, xerrors.Errorf("peer address: %w", err)
	}
	if created.Version == "" {
		created.Version = pm.cfg.AAVersion
	}

	params := channel.Params{
		AddressA: created.AddressA,
		AddressB: pm.myAddress,
		Asset:    opts.Asset,
		Salt:     salt,
		Timeout:  opts.Timeout,
		Version:  created.Version,
	}
	if err := params.Validate(); err != nil {
		return types.Undef, err
	}
	addr, err := params.Address()
	if err != nil {
		return types.Undef, err
	}
	if addr != created.AAAddress {
		return types.Undef, xerrors.Errorf("peer calculated different aa address: %s, expected %s", created.AAAddress, addr)
	}

	ci := &ChannelInfo{
		Channel:       addr,
		Salt:          salt,
		Version:       created.Version,
		Asset:         opts.Asset,
		Timeout:       opts.Timeout,
		MyAddress:     pm.myAddress,
		PeerAddress:   created.AddressA,
		PeerContact:   peerContact,
		IsKnownByPeer: true,
		Status:        StatusCreated,
		Period:        1,
		CreatedAt:     pm.clock.Now(),
	}
	if err := pm.store.TrackChannel(ctx, ci); err != nil {
		return types.Undef, err
	}
	pm.watch(ctx, addr)

	if _, err := pm.Deposit(ctx, addr, initialAmount); err != nil {
		return addr, xerrors.Errorf("funding new channel %s: %w", addr, err)
	}
	log.Infow("created channel", "channel", addr, "peer", created.AddressA, "amount", initialAmount)
	return addr, nil
}

// handleCreateChannel answers a peer's proposal. The proposing side becomes
// party B.
func (pm *Manager) handleCreateChannel(ctx context.Context, p *peer.CreateChannelParams) (*peer.CreateChannelResponse, error) {
	if len(p.Salt) != saltLength {
		return nil, xerrors.Errorf("salt must be %d characters", saltLength)
	}
	if p.AAVersion == "" {
		p.AAVersion = channel.DefaultVersion
	}
	if !channel.SupportedVersion(p.AAVersion) {
		return nil, xerrors.Errorf("unsupported aa version %q", p.AAVersion)
	}
	if err := p.Address.Validate(); err != nil {
		return nil, err
	}
	if p.Address == pm.myAddress {
		return nil, xerrors.New("cannot open a channel with myself")
	}
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, xerrors.Errorf("invalid url %q", p.URL)
		}
	}
	if p.Asset == "" {
		p.Asset = types.AssetBase
	}

	switch _, err := pm.store.ByPeerSalt(ctx, p.Address, p.Salt); {
	case err == nil:
		return nil, xerrors.New("this salt already exists")
	case !errors.Is(err, ErrChannelNotTracked):
		return nil, err
	}

	params := channel.Params{
		AddressA: pm.myAddress,
		AddressB: p.Address,
		Asset:    p.Asset,
		Salt:     p.Salt,
		Timeout:  p.Timeout,
		Version:  p.AAVersion,
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	addr, err := params.Address()
	if err != nil {
		return nil, err
	}

	ci := &ChannelInfo{
		Channel:       addr,
		Salt:          p.Salt,
		Version:       p.AAVersion,
		Asset:         p.Asset,
		Timeout:       p.Timeout,
		MyAddress:     pm.myAddress,
		PeerAddress:   p.Address,
		IsPartyA:      true,
		PeerContact:   p.URL,
		IsKnownByPeer: true,
		Status:        StatusCreated,
		Period:        1,
		CreatedAt:     pm.clock.Now(),
	}
	if err := pm.store.TrackChannel(ctx, ci); err != nil {
		return nil, err
	}
	pm.watch(ctx, addr)

	pm.listeners.fire(Notification{Type: NotifyChannelCreatedByPeer, Channel: addr, Peer: p.Address})
	return &peer.CreateChannelResponse{
		AddressA:  pm.myAddress,
		AddressB:  p.Address,
		AAAddress: addr,
		Version:   p.AAVersion,
	}, nil
}
