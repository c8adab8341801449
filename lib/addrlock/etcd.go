package addrlock

import (
	"context"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.etcd.io/etcd/client/v3/namespace"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/chain/types"
)

const etcdConnectionTimeout = 10 * time.Second

type EtcdConfig struct {
	Endpoints []string
	User      string
	Pass      string
	Namespace string
	// SessionTTL is how long, in seconds, a lock survives its holder
	// disappearing.
	SessionTTL int
}

// Etcd is a Locker shared by all nodes that serve the same wallet. Locks are
// tied to a lease so a crashed holder does not block the channel forever.
type Etcd struct {
	cli     *clientv3.Client
	session *concurrency.Session
}

var _ Locker = (*Etcd)(nil)

func NewEtcd(ctx context.Context, cfg EtcdConfig) (*Etcd, error) {
	cli, err := clientv3.New(clientv3.Config{
		Context:     ctx,
		Endpoints:   cfg.Endpoints,
		DialTimeout: etcdConnectionTimeout,
		Username:    cfg.User,
		Password:    cfg.Pass,
	})
	if err != nil {
		return nil, xerrors.Errorf("connecting to etcd: %w", err)
	}

	cli.KV = namespace.NewKV(cli.KV, cfg.Namespace)
	cli.Watcher = namespace.NewWatcher(cli.Watcher, cfg.Namespace)
	cli.Lease = namespace.NewLease(cli.Lease, cfg.Namespace)
	log.Infof("Applied namespace to channel locks: %v", cfg.Namespace)

	var opts []concurrency.SessionOption
	if cfg.SessionTTL > 0 {
		opts = append(opts, concurrency.WithTTL(cfg.SessionTTL))
	}
	session, err := concurrency.NewSession(cli, opts...)
	if err != nil {
		_ = cli.Close()
		return nil, xerrors.Errorf("starting etcd session: %w", err)
	}

	return &Etcd{cli: cli, session: session}, nil
}

func (e *Etcd) Lock(ctx context.Context, addr types.Address) (func(), error) {
	m := concurrency.NewMutex(e.session, "/channel-lock/"+string(addr))
	if err := m.Lock(ctx); err != nil {
		return nil, xerrors.Errorf("locking %s: %w", addr, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), etcdConnectionTimeout)
		defer cancel()
		if err := m.Unlock(ctx); err != nil {
			log.Errorw("releasing channel lock", "channel", addr, "error", err)
		}
	}, nil
}

func (e *Etcd) Close() error {
	if err := e.session.Close(); err != nil {
		log.Warnw("closing etcd session", "error", err)
	}
	return e.cli.Close()
}
