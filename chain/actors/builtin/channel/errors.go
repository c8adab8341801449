package channel

import "fmt"

// Bounce reasons that callers match on.
const (
	ReasonWrongPeriod         = "wrong period"
	ReasonWrongSignedPeriod   = "signed for a different period of this channel"
	ReasonWrongSignedChannel  = "signed for another channel"
	ReasonInvalidPeerSig      = "invalid signature by peer"
	ReasonNegativeBalance     = "one of the balances would become negative"
	ReasonTooEarly            = "too early"
	ReasonPeerDidNotLie       = "the peer didn't lie in his favor"
	ReasonNotClosing          = "no closing in progress"
	ReasonAlreadyClosing      = "already closing"
	ReasonNotOpen             = "channel is not open"
	ReasonNotParty            = "you are not a party to this channel"
	ReasonNoFunding           = "nothing to deposit"
	ReasonNoCommand           = "unrecognized command"
	ReasonFeeNotPaid          = "bounce fee not paid"
	ReasonNegativeTransfer    = "transferredFromMe must be non-negative"
	ReasonNegativeAdditional  = "additionnalTransferredFromMe must be non-negative"
	ReasonInitiatorFraudProof = "the close initiator cannot prove fraud"
)

// BounceError is a trigger rejected by the contract. The ledger refunds the
// trigger minus BounceFee.
type BounceError struct {
	Reason string
}

func (e *BounceError) Error() string {
	return fmt.Sprintf("bounced: %s", e.Reason)
}

// BounceResponse is the data message of the ledger unit answering a bounced
// trigger.
type BounceResponse struct {
	Error       string `json:"error"`
	TriggerUnit string `json:"trigger_unit"`
}

func bounce(format string, args ...interface{}) *BounceError {
	return &BounceError{Reason: fmt.Sprintf(format, args...)}
}
