// Package ident resolves a router client's MAC address from its IP address
// using the kernel neighbor table. Resolution is best-effort and feeds the
// audit trail; it is never used for access control.
package ident

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"
)

// ErrIdentificationFailed means the neighbor table holds no entry for the
// client's IP. The cache is not authoritative: absence proves an incomplete
// or expired entry, not the absence of a neighbor, so the miss is surfaced
// rather than defaulted.
var ErrIdentificationFailed = errors.New("could not identify router client")

// NeighborSource supplies a fresh IP to MAC view of the neighbor table.
type NeighborSource interface {
	NeighborMACs() (map[netip.Addr]net.HardwareAddr, error)
}

// NullMAC is the fixed all-zero MAC reported for clients on the loopback
// address, which has no link-layer address by construction.
func NullMAC() net.HardwareAddr {
	return net.HardwareAddr{0, 0, 0, 0, 0, 0}
}

// Resolver looks up client MAC addresses in the neighbor table.
type Resolver struct {
	neighbors NeighborSource
	logger    *zap.Logger
}

// NewResolver creates a Resolver backed by the given neighbor source.
func NewResolver(neighbors NeighborSource, logger *zap.Logger) *Resolver {
	return &Resolver{neighbors: neighbors, logger: logger}
}

// ResolveMAC returns the MAC address for ip. Loopback clients short-circuit
// to the null MAC without touching the kernel; every other address is looked
// up in a freshly queried neighbor table.
func (r *Resolver) ResolveMAC(ip netip.Addr) (net.HardwareAddr, error) {
	ip = ip.Unmap()
	if ip.IsLoopback() {
		return NullMAC(), nil
	}

	macs, err := r.neighbors.NeighborMACs()
	if err != nil {
		return nil, fmt.Errorf("query neighbor table: %w", err)
	}

	mac, ok := macs[ip]
	if !ok {
		r.logger.Debug("no neighbor entry for client", zap.Stringer("ip", ip))
		return nil, fmt.Errorf("%w: no neighbor entry for %s", ErrIdentificationFailed, ip)
	}
	return mac, nil
}
