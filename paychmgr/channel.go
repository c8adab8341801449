package paychmgr

import (
	"encoding/json"
	"time"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
	"github.com/aachannels/aachan/chain/types"
)

type Status string

const (
	StatusCreated                Status = "created"
	StatusOpen                   Status = "open"
	StatusClosingInitiatedByMe   Status = "closing_initiated_by_me"
	StatusClosingInitiatedByPeer Status = "closing_initiated_by_peer"
	StatusConfirmedByMe          Status = "confirmed_by_me"
	StatusClosed                 Status = "closed"
)

func (s Status) closing() bool {
	return s == StatusClosingInitiatedByMe || s == StatusClosingInitiatedByPeer || s == StatusConfirmedByMe
}

type ActionKind string

const (
	ActionConfirm    ActionKind = "confirm"
	ActionFraudProof ActionKind = "fraud_proof"
)

// PendingAction is a settlement transaction this node owes the ledger. Once
// sent, Unit is set and the action stays until the contract answers it.
type PendingAction struct {
	Kind   ActionKind `json:"kind"`
	Period int64      `json:"period"`
	Unit   string     `json:"unit,omitempty"`
	// PrevStatus is the status to go back to if the contract bounces Unit.
	PrevStatus Status `json:"prev_status,omitempty"`
}

// ChannelInfo is the local mirror of a channel plus the bookkeeping that only
// this side knows about.
type ChannelInfo struct {
	Channel       types.Address `json:"aa_address"`
	Salt          string        `json:"salt"`
	Version       string        `json:"version"`
	Asset         types.Asset   `json:"asset"`
	Timeout       int64         `json:"timeout"`
	MyAddress     types.Address `json:"my_address"`
	PeerAddress   types.Address `json:"peer_address"`
	IsPartyA      bool          `json:"is_party_a"`
	PeerContact   string        `json:"peer_contact,omitempty"`
	IsKnownByPeer bool          `json:"is_known_by_peer"`

	Status            Status `json:"status"`
	UnconfirmedStatus Status `json:"unconfirmed_status,omitempty"`
	Period            int64  `json:"period"`

	AmountDepositedByMe          int64 `json:"amount_deposited_by_me"`
	AmountDepositedByPeer        int64 `json:"amount_deposited_by_peer"`
	AmountSpentByMe              int64 `json:"amount_spent_by_me"`
	AmountSpentByPeer            int64 `json:"amount_spent_by_peer"`
	UnconfirmedAmountSpentByPeer int64 `json:"unconfirmed_amount_spent_by_peer"`
	AmountPossiblyLostByMe       int64 `json:"amount_possibly_lost_by_me"`
	OverpaymentFromPeer          int64 `json:"overpayment_from_peer"`

	// LastMessageFromPeer is the package with the highest amount_spent the
	// peer signed this period. It is what proves the peer's spend if it lies
	// when closing.
	LastMessageFromPeer json.RawMessage `json:"last_message_from_peer,omitempty"`

	LastEventID           int64 `json:"last_event_id"`
	LastUpdatedMCI        int64 `json:"last_updated_mci"`
	IsDefinitionConfirmed bool  `json:"is_definition_confirmed"`
	CloseTimestamp        int64 `json:"close_timestamp,omitempty"`
	ClosingAuthored       bool  `json:"closing_authored"`

	AutoRefillThreshold int64 `json:"auto_refill_threshold,omitempty"`
	AutoRefillAmount    int64 `json:"auto_refill_amount,omitempty"`

	MyPaymentsCount   int64 `json:"my_payments_count"`
	PeerPaymentsCount int64 `json:"peer_payments_count"`

	PendingAction *PendingAction `json:"pending_action,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

func (ci *ChannelInfo) Params() channel.Params {
	p := channel.Params{
		Asset:   ci.Asset,
		Salt:    ci.Salt,
		Timeout: ci.Timeout,
		Version: ci.Version,
	}
	if ci.IsPartyA {
		p.AddressA, p.AddressB = ci.MyAddress, ci.PeerAddress
	} else {
		p.AddressA, p.AddressB = ci.PeerAddress, ci.MyAddress
	}
	return p
}

// Free is what this side can still pay to the peer out of confirmed funds.
func (ci *ChannelInfo) Free() int64 {
	return ci.AmountDepositedByMe - ci.AmountSpentByMe + ci.AmountSpentByPeer
}

// peerCapacity is the most the peer can have spent in total without relying
// on unconfirmed deposits.
func (ci *ChannelInfo) peerCapacity() int64 {
	return ci.AmountDepositedByPeer + ci.AmountSpentByMe
}

func (ci *ChannelInfo) refreshUnconfirmedUsage() {
	ci.UnconfirmedAmountSpentByPeer = 0
	if over := ci.AmountSpentByPeer - ci.peerCapacity(); over > 0 {
		ci.UnconfirmedAmountSpentByPeer = over
	}
}

func (ci *ChannelInfo) resetPeriod(next int64) {
	ci.Status = StatusClosed
	ci.UnconfirmedStatus = ""
	ci.Period = next
	ci.AmountDepositedByMe = 0
	ci.AmountDepositedByPeer = 0
	ci.AmountSpentByMe = 0
	ci.AmountSpentByPeer = 0
	ci.UnconfirmedAmountSpentByPeer = 0
	ci.AmountPossiblyLostByMe = 0
	ci.OverpaymentFromPeer = 0
	ci.LastMessageFromPeer = nil
	ci.CloseTimestamp = 0
	ci.ClosingAuthored = false
	ci.PendingAction = nil
}

// MyDeposit is a deposit this node sent and the contract has not answered
// yet.
type MyDeposit struct {
	Channel         types.Address `json:"aa_address"`
	Unit            string        `json:"unit"`
	Amount          int64         `json:"amount"`
	IsConfirmedByAA bool          `json:"is_confirmed_by_aa"`
	CreatedAt       time.Time     `json:"created_at"`
}

// PendingUnit is a unit from the peer to the channel that is not stable yet.
type PendingUnit struct {
	Channel       types.Address `json:"aa_address"`
	Unit          string        `json:"unit"`
	Amount        int64         `json:"amount"`
	CloseChannel  bool          `json:"close_channel"`
	HasDefinition bool          `json:"has_definition"`
	IsBadSequence bool          `json:"is_bad_sequence"`
	ObservedAt    time.Time     `json:"observed_at"`
}
