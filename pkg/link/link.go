// Package link describes the transport the connection parameter manager drives:
// enumeration of open LE connections and the parameter update primitive.
package link

import (
	"context"
	"fmt"
	"iter"

	"github.com/go-ble/ble"
	"github.com/srg/splitlink/pkg/connparams"
)

// Role is the link-layer role reported for a connection.
type Role int

const (
	RoleCentral Role = iota
	RolePeripheral
)

func (r Role) String() string {
	switch r {
	case RoleCentral:
		return "central"
	case RolePeripheral:
		return "peripheral"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Info identifies an open connection. It is owned by the transport; the
// manager only holds it for the duration of an update pass.
type Info struct {
	ID   string
	Addr ble.Addr
	Role Role
}

func (i Info) String() string {
	if i.Addr == nil {
		return i.ID
	}
	return fmt.Sprintf("%s (%s)", i.ID, i.Addr.String())
}

// Transport is implemented by the BLE host stack.
type Transport interface {
	// ForEachActiveConnection calls fn for every open LE connection until fn returns false.
	ForEachActiveConnection(fn func(Info) bool)

	// UpdateConnectionParameters requests new parameters for the connection.
	// Implementations bound the call by ctx.
	UpdateConnectionParameters(ctx context.Context, conn Info, params connparams.Set) error
}

// Connections yields the open connections of t that have the given role.
func Connections(t Transport, role Role) iter.Seq[Info] {
	return func(yield func(Info) bool) {
		t.ForEachActiveConnection(func(info Info) bool {
			if info.Role != role {
				return true
			}
			return yield(info)
		})
	}
}

// ParameterUpdateFailedError reports a rejected or failed parameter update for one connection.
type ParameterUpdateFailedError struct {
	Conn   Info
	Params connparams.Set
	Err    error
}

func (e *ParameterUpdateFailedError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("parameter update failed for %s: %v", e.Conn, e.Err)
}

func (e *ParameterUpdateFailedError) Unwrap() error {
	return e.Err
}
