package dtypes

import (
	"github.com/gbrlsnchs/jwt/v3"
)

// APIAlg signs and checks the operator API tokens.
type APIAlg jwt.HMACSHA

// ShutdownChan stops the daemon once something is sent on it. The Shutdown
// API method is one sender.
type ShutdownChan chan struct{}
