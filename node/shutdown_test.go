package node

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/aachannels/aachan/node/modules/dtypes"
)

func TestMonitorShutdownStopsInOrder(t *testing.T) {
	trigger := make(dtypes.ShutdownChan)

	var (
		lk      sync.Mutex
		stopped []string
	)
	handler := func(name string, err error) ShutdownHandler {
		return ShutdownHandler{
			Component: name,
			StopFunc: func(context.Context) error {
				lk.Lock()
				defer lk.Unlock()
				stopped = append(stopped, name)
				return err
			},
		}
	}

	done := MonitorShutdown(trigger,
		handler("rpc server", nil),
		handler("node", xerrors.New("manager did not stop")),
		handler("peer endpoint", nil),
	)

	select {
	case <-done:
		t.Fatal("shut down without being asked")
	case <-time.After(10 * time.Millisecond):
	}

	// same path as the Shutdown API method
	trigger <- struct{}{}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	lk.Lock()
	defer lk.Unlock()
	// a failing handler does not stop the ones after it
	require.Equal(t, []string{"rpc server", "node", "peer endpoint"}, stopped)
}
