package paychmgr

import (
	"encoding/json"

	"github.com/hannahhoward/go-pubsub"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

type NotificationType string

const (
	NotifyMyDepositStable      NotificationType = "my_deposit_became_stable"
	NotifyPeerDepositStable    NotificationType = "peer_deposit_became_stable"
	NotifyClosedWithFraud      NotificationType = "channel_closed_with_fraud_proof"
	NotifyClosed               NotificationType = "channel_closed"
	NotifyRefusedDeposit       NotificationType = "refused_deposit"
	NotifyChannelCreatedByPeer NotificationType = "channel_created_by_peer"
	NotifyChannelRefilled      NotificationType = "channel_refilled"
	NotifyPaymentReceived      NotificationType = "payment_received"
	NotifySettlementBounced    NotificationType = "settlement_bounced"
)

// Notification tells the application something happened to a channel.
type Notification struct {
	Type    NotificationType `json:"type"`
	Channel types.Address    `json:"aa_address"`
	Peer    types.Address    `json:"peer_address,omitempty"`
	Amount  int64            `json:"amount,omitempty"`
	Period  int64            `json:"period,omitempty"`
	Unit    string           `json:"unit,omitempty"`
	Message json.RawMessage  `json:"message,omitempty"`
	// Reason is the contract's bounce reason for settlement_bounced.
	Reason string `json:"reason,omitempty"`
}

type notifyListeners struct {
	ps *pubsub.PubSub
}

type subscriberFn func(Notification)

func newNotifyListeners() notifyListeners {
	ps := pubsub.New(func(event pubsub.Event, subFn pubsub.SubscriberFn) error {
		evt, ok := event.(Notification)
		if !ok {
			return xerrors.Errorf("wrong type of event")
		}
		sub, ok := subFn.(subscriberFn)
		if !ok {
			return xerrors.Errorf("wrong type of subscriber")
		}
		sub(evt)
		return nil
	})
	return notifyListeners{ps: ps}
}

func (nl *notifyListeners) subscribe(cb func(Notification)) pubsub.Unsubscribe {
	return nl.ps.Subscribe(subscriberFn(cb))
}

func (nl *notifyListeners) fire(n Notification) {
	log.Infow("channel notification", "type", n.Type, "channel", n.Channel, "amount", n.Amount)
	if err := nl.ps.Publish(n); err != nil {
		// In theory we shouldn't ever get an error here
		log.Errorf("unexpected error publishing notification: %s", err)
	}
}
