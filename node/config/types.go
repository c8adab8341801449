package config

// Config is the daemon configuration. Every field can also be set from the
// environment, e.g. AACHAN_PEER_CONTACTURL.
type Config struct {
	API              API
	Peer             Peer
	Ledger           Ledger
	Channels         Channels
	Exposure         Exposure
	HighAvailability HighAvailability
	Datastore        Datastore
	Metrics          Metrics
}

// API contains configs for the operator API endpoint
type API struct {
	ListenAddress string
	Timeout       Duration
	// Secret is the hex encoded key API tokens are signed with.
	Secret string
	// TokenPath is where the daemon writes an admin token for the local CLI.
	TokenPath string
}

type Peer struct {
	// ListenAddress is where the peer endpoint (/post) is served.
	ListenAddress string
	// ContactURL is the public URL peers reach this node at.
	ContactURL string
	// Timeout bounds every request to a peer. A payment that times out is
	// counted as possibly lost.
	Timeout Duration
}

type Ledger struct {
	// Endpoint is the websocket JSON-RPC endpoint of the ledger node.
	Endpoint string
	Token    string
}

type Channels struct {
	MinDeposit int64
	// DefaultTimeout is the close timeout of new channels, in seconds.
	DefaultTimeout     int64
	AAVersion          string
	SweepInterval      Duration
	SweepParallelism   int
	CloseGrace         Duration
	SeenUnitsCacheSize int
}

// Exposure limits how much of a peer's unconfirmed deposits may be spent.
type Exposure struct {
	MaxUnconfirmedByAsset   map[string]int64
	DefaultMaxUnconfirmed   int64
	MaxUnconfirmedByChannel int64
	MinAge                  Duration
}

// HighAvailability lets several daemons serve the same wallet, with channel
// locks held in etcd. It needs the postgres datastore backend.
type HighAvailability struct {
	Enabled       bool
	EtcdEndpoints []string
	EtcdUser      string
	EtcdPassword  string
	Namespace     string
	SessionTTL    Duration
}

type Datastore struct {
	// Backend is one of memory, leveldb, badger or postgres.
	Backend string
	// Path is the directory of the leveldb and badger backends.
	Path string
	// URL is the connection string of the postgres backend.
	URL string
	// Table holds the postgres backend's records.
	Table string
}

type Metrics struct {
	Enabled       bool
	ListenAddress string
	Namespace     string
}
