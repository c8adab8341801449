package api

import (
	"github.com/filecoin-project/go-jsonrpc/auth"
)

const (
	// PermRead allows looking at channels and following notifications.
	PermRead auth.Permission = "read" // default
	// PermWrite allows changing refill settings and accepting packages
	// handed over outside the peer endpoint.
	PermWrite auth.Permission = "write"
	// PermSign allows moving channel funds: deposits, payments and closes.
	PermSign auth.Permission = "sign"
	// PermAdmin allows issuing tokens and stopping the daemon.
	PermAdmin auth.Permission = "admin"
)

// AllPermissions is ordered: each permission comes after those it implies.
var AllPermissions = []auth.Permission{PermRead, PermWrite, PermSign, PermAdmin}
var DefaultPerms = []auth.Permission{PermRead}

// PermissionsUpTo returns p along with every permission it implies, so that
// "sign" gives read, write and sign.
func PermissionsUpTo(p auth.Permission) ([]auth.Permission, bool) {
	for i, have := range AllPermissions {
		if have == p {
			return AllPermissions[:i+1], true
		}
	}
	return nil, false
}
