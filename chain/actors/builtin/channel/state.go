package channel

import "github.com/aachannels/aachan/chain/types"

type Status string

const (
	StatusNone    Status = ""
	StatusOpen    Status = "open"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

// State is what the ledger keeps for a channel between triggers.
type State struct {
	Status  Status `json:"status"`
	Period  int64  `json:"period"`
	EventID int64  `json:"event_id"`

	BalanceA int64 `json:"balanceA"`
	BalanceB int64 `json:"balanceB"`
	SpentByA int64 `json:"spentByA"`
	SpentByB int64 `json:"spentByB"`

	CloseInitiatedBy types.Address `json:"close_initiated_by,omitempty"`
	CloseStartTs     int64         `json:"close_start_ts,omitempty"`
}

// NewState is the state of a channel that has never received anything.
func NewState() State {
	return State{Status: StatusNone, Period: 1}
}

func (st *State) balance(p Params, party types.Address) *int64 {
	if party == p.AddressA {
		return &st.BalanceA
	}
	return &st.BalanceB
}

func (st *State) spent(p Params, party types.Address) *int64 {
	if party == p.AddressA {
		return &st.SpentByA
	}
	return &st.SpentByB
}

// Finals are the balances the parties would receive if the current close
// settled as claimed.
func (st *State) Finals() (a, b int64) {
	a = st.BalanceA - st.SpentByA + st.SpentByB
	b = st.BalanceB - st.SpentByB + st.SpentByA
	return a, b
}

func (st *State) resetPeriod() {
	st.Period++
	st.BalanceA, st.BalanceB = 0, 0
	st.SpentByA, st.SpentByB = 0, 0
	st.CloseInitiatedBy = types.Undef
	st.CloseStartTs = 0
	st.Status = StatusClosed
}
