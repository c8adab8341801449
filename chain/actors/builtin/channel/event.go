package channel

import (
	"encoding/json"

	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

type EventType string

const (
	EventOpen    EventType = "open"
	EventClosing EventType = "closing"
	EventClosed  EventType = "closed"
	EventRefused EventType = "refused"
)

// Event is the data message the contract posts with every state change.
// Amounts holds one entry per party: balances for open, claimed spends for
// closing, final payouts for closed.
type Event struct {
	Type        EventType
	EventID     int64
	Period      int64
	TriggerUnit string
	InitiatedBy types.Address
	FraudProof  bool
	Amounts     map[types.Address]int64
}

func (e *Event) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		string(e.Type): 1,
		"event_id":     e.EventID,
		"period":       e.Period,
		"trigger_unit": e.TriggerUnit,
	}
	if e.InitiatedBy != types.Undef {
		m["initiated_by"] = e.InitiatedBy
	}
	if e.FraudProof {
		m["fraud_proof"] = 1
	}
	for a, v := range e.Amounts {
		m[string(a)] = v
	}
	return json.Marshal(m)
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*e = Event{Amounts: map[types.Address]int64{}}
	for k, v := range m {
		var err error
		switch k {
		case string(EventOpen), string(EventClosing), string(EventClosed), string(EventRefused):
			if e.Type != "" {
				return xerrors.Errorf("event has both %s and %s", e.Type, k)
			}
			e.Type = EventType(k)
		case "event_id":
			err = json.Unmarshal(v, &e.EventID)
		case "period":
			err = json.Unmarshal(v, &e.Period)
		case "trigger_unit":
			err = json.Unmarshal(v, &e.TriggerUnit)
		case "initiated_by":
			err = json.Unmarshal(v, &e.InitiatedBy)
		case "fraud_proof":
			var n int
			err = json.Unmarshal(v, &n)
			e.FraudProof = n == 1
		default:
			if types.Address(k).Validate() != nil {
				// unknown keys are ignored
				continue
			}
			var n int64
			err = json.Unmarshal(v, &n)
			e.Amounts[types.Address(k)] = n
		}
		if err != nil {
			return xerrors.Errorf("event field %s: %w", k, err)
		}
	}
	if e.Type == "" {
		return xerrors.New("not a channel event")
	}
	return nil
}
