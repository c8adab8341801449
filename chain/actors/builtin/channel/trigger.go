package channel

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
	"github.com/aachannels/aachan/lib/sigs"
)

// Trigger is a ledger unit paying to the channel address, as seen by the
// contract.
type Trigger struct {
	Unit      string
	From      types.Address
	Timestamp int64
	// BaseAmount is what the trigger paid in the native currency.
	BaseAmount int64
	// AssetAmount is what the trigger paid in the channel asset. Always zero
	// for channels in the native currency.
	AssetAmount int64
	Data        *TriggerData
}

// TriggerData is the data message attached to a trigger. Flags are 0 or 1.
type TriggerData struct {
	Close             int             `json:"close,omitempty"`
	Confirm           int             `json:"confirm,omitempty"`
	FraudProof        int             `json:"fraud_proof,omitempty"`
	Period            int64           `json:"period,omitempty"`
	TransferredFromMe int64           `json:"transferredFromMe,omitempty"`
	SentByPeer        json.RawMessage `json:"sentByPeer,omitempty"`
	// AdditionalTransferredFromMe is added to the sender's claimed spend when
	// it confirms a close.
	AdditionalTransferredFromMe int64 `json:"additionnalTransferredFromMe,omitempty"`
}

func (d *TriggerData) hasCommand() bool {
	return d != nil && (d.Close != 0 || d.Confirm != 0 || d.FraudProof != 0)
}

// PaymentMessage is the body of a payment package. AmountSpent is cumulative
// over the period.
type PaymentMessage struct {
	AmountSpent   int64         `json:"amount_spent"`
	Period        int64         `json:"period"`
	Channel       types.Address `json:"channel"`
	PaymentAmount int64         `json:"payment_amount"`
}

// DecodePaymentMessage extracts and sanity checks the body of a package. It
// does not verify the signature.
func DecodePaymentMessage(pkg *sigs.SignedPackage) (*PaymentMessage, error) {
	var msg PaymentMessage
	if err := pkg.DecodeMessage(&msg); err != nil {
		return nil, xerrors.Errorf("decoding payment message: %w", err)
	}
	if msg.AmountSpent < 0 {
		return nil, xerrors.Errorf("amount_spent must be non-negative, got %d", msg.AmountSpent)
	}
	if msg.PaymentAmount < 0 {
		return nil, xerrors.Errorf("payment_amount must be non-negative, got %d", msg.PaymentAmount)
	}
	return &msg, nil
}
