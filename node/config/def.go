package config

import (
	"encoding"
	"time"

	"github.com/aachannels/aachan/chain/actors/builtin/channel"
)

// Default returns the default config
func Default() *Config {
	return &Config{
		API: API{
			ListenAddress: "127.0.0.1:6360",
			Timeout:       Duration(30 * time.Second),
			TokenPath:     "~/.aachan/token",
		},
		Peer: Peer{
			ListenAddress: "0.0.0.0:6361",
			Timeout:       Duration(5 * time.Second),
		},
		Ledger: Ledger{
			Endpoint: "ws://127.0.0.1:6611/rpc/v0",
		},
		Channels: Channels{
			MinDeposit:         1e5,
			DefaultTimeout:     24 * 3600,
			AAVersion:          channel.DefaultVersion,
			SweepInterval:      Duration(5 * time.Second),
			SweepParallelism:   8,
			CloseGrace:         Duration(5 * time.Minute),
			SeenUnitsCacheSize: 4096,
		},
		Exposure: Exposure{
			MaxUnconfirmedByAsset: map[string]int64{},
			MinAge:                Duration(10 * time.Second),
		},
		HighAvailability: HighAvailability{
			Namespace:  "aachan",
			SessionTTL: Duration(60 * time.Second),
		},
		Datastore: Datastore{
			Backend: "leveldb",
			Path:    "~/.aachan/datastore",
			Table:   "aachan_datastore",
		},
		Metrics: Metrics{
			ListenAddress: "127.0.0.1:6362",
			Namespace:     "aachan",
		},
	}
}

var _ encoding.TextMarshaler = (*Duration)(nil)
var _ encoding.TextUnmarshaler = (*Duration)(nil)

// Duration is a wrapper type for time.Duration
// for decoding and encoding from/to TOML
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return err
}

func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}
