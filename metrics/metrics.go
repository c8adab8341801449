package metrics

import (
	"context"
	"time"

	rpcmetrics "github.com/filecoin-project/go-jsonrpc/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(
	0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8,
	10, 20, 30, 40, 50, 60, 70, 80, 90, 100,
	150, 200, 250, 300, 350, 400, 450, 500,
	600, 700, 800, 900, 1000, 2000, 3000, 4000, 5000, 10000, 30000,
)

// Tags
var (
	Version, _ = tag.NewKey("version")
	Commit, _  = tag.NewKey("commit")

	Outcome, _   = tag.NewKey("outcome")
	EventType, _ = tag.NewKey("event_type")
	Command, _   = tag.NewKey("command")
	Action, _    = tag.NewKey("action")
	Endpoint, _  = tag.NewKey("endpoint")
)

// Measures
var (
	AAChanInfo = stats.Int64("info", "Arbitrary counter to tag aachan info to", stats.UnitDimensionless)

	PaymentsSent          = stats.Int64("paych/payments_sent", "Counter of outgoing payments by outcome", stats.UnitDimensionless)
	PaymentsReceived      = stats.Int64("paych/payments_received", "Counter of incoming payments by outcome", stats.UnitDimensionless)
	PaymentAmountSent     = stats.Int64("paych/payment_amount_sent", "Sum of amounts paid to peers", stats.UnitDimensionless)
	PaymentAmountReceived = stats.Int64("paych/payment_amount_received", "Sum of amounts received from peers", stats.UnitDimensionless)
	PossiblyLost          = stats.Int64("paych/possibly_lost", "Sum of amounts whose delivery could not be confirmed", stats.UnitDimensionless)
	PaymentRoundTrip      = stats.Float64("paych/payment_round_trip_ms", "Duration of a payment round trip to the peer", stats.UnitMilliseconds)

	EventsApplied   = stats.Int64("paych/events_applied", "Counter of contract events applied to the mirror", stats.UnitDimensionless)
	EventsSkipped   = stats.Int64("paych/events_skipped", "Counter of contract events already applied", stats.UnitDimensionless)
	PendingUnits    = stats.Int64("paych/pending_units", "Counter of unconfirmed peer units observed", stats.UnitDimensionless)
	LedgerActions   = stats.Int64("paych/ledger_actions", "Counter of transactions submitted to the ledger", stats.UnitDimensionless)
	SweepDuration   = stats.Float64("paych/sweep_ms", "Duration of a background sweep", stats.UnitMilliseconds)
	TrackedChannels = stats.Int64("paych/channels", "Number of tracked channels", stats.UnitDimensionless)

	PeerRequests        = stats.Int64("peer/requests", "Counter of requests served to peers", stats.UnitDimensionless)
	PeerRequestDuration = stats.Float64("peer/request_ms", "Duration of requests served to peers", stats.UnitMilliseconds)
	APIRequestDuration  = stats.Float64("api/request_duration_ms", "Duration of API requests", stats.UnitMilliseconds)
)

var (
	InfoView = &view.View{
		Name:        "info",
		Description: "aachan node information",
		Measure:     AAChanInfo,
		Aggregation: view.LastValue(),
		TagKeys:     []tag.Key{Version, Commit},
	}
	PaymentsSentView = &view.View{
		Measure:     PaymentsSent,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	}
	PaymentsReceivedView = &view.View{
		Measure:     PaymentsReceived,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Outcome},
	}
	PaymentAmountSentView = &view.View{
		Measure:     PaymentAmountSent,
		Aggregation: view.Sum(),
	}
	PaymentAmountReceivedView = &view.View{
		Measure:     PaymentAmountReceived,
		Aggregation: view.Sum(),
	}
	PossiblyLostView = &view.View{
		Measure:     PossiblyLost,
		Aggregation: view.Sum(),
	}
	PaymentRoundTripView = &view.View{
		Measure:     PaymentRoundTrip,
		Aggregation: defaultMillisecondsDistribution,
	}
	EventsAppliedView = &view.View{
		Measure:     EventsApplied,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{EventType},
	}
	EventsSkippedView = &view.View{
		Measure:     EventsSkipped,
		Aggregation: view.Count(),
	}
	PendingUnitsView = &view.View{
		Measure:     PendingUnits,
		Aggregation: view.Count(),
	}
	LedgerActionsView = &view.View{
		Measure:     LedgerActions,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Action, Outcome},
	}
	SweepDurationView = &view.View{
		Measure:     SweepDuration,
		Aggregation: defaultMillisecondsDistribution,
	}
	TrackedChannelsView = &view.View{
		Measure:     TrackedChannels,
		Aggregation: view.LastValue(),
	}
	PeerRequestsView = &view.View{
		Measure:     PeerRequests,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{Command, Outcome},
	}
	PeerRequestDurationView = &view.View{
		Measure:     PeerRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Command},
	}
	APIRequestDurationView = &view.View{
		Measure:     APIRequestDuration,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{Endpoint},
	}
)

var views = []*view.View{
	InfoView,
	PaymentsSentView,
	PaymentsReceivedView,
	PaymentAmountSentView,
	PaymentAmountReceivedView,
	PossiblyLostView,
	PaymentRoundTripView,
	EventsAppliedView,
	EventsSkippedView,
	PendingUnitsView,
	LedgerActionsView,
	SweepDurationView,
	TrackedChannelsView,
	PeerRequestsView,
	PeerRequestDurationView,
	APIRequestDurationView,
}

// DefaultViews is an array of OpenCensus views for metric gathering purposes
var DefaultViews = func() []*view.View {
	return views
}()

// RegisterViews adds views to the default list without modifying this file.
func RegisterViews(v ...*view.View) {
	views = append(views, v...)
	DefaultViews = views
}

func init() {
	RegisterViews(rpcmetrics.DefaultViews...)
}

func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}

// Timer is a function stopwatch, calling it starts the timer,
// calling the returned function will record the duration.
func Timer(ctx context.Context, m *stats.Float64Measure) func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		stats.Record(ctx, m.M(SinceInMilliseconds(start)))
		return time.Since(start)
	}
}

// Count records one occurrence of m tagged with key=value.
func Count(ctx context.Context, m *stats.Int64Measure, key tag.Key, value string) {
	_ = stats.RecordWithTags(ctx, []tag.Mutator{tag.Upsert(key, value)}, m.M(1))
}
