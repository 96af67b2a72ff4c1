package netstate

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// Netlinker abstracts the rtnetlink operations RouteManager performs, so
// tests can substitute a fake for the kernel.
type Netlinker interface {
	LinkList() ([]netlink.Link, error)
	LinkByIndex(index int) (netlink.Link, error)
	LinkSetUp(link netlink.Link) error
	LinkSetDown(link netlink.Link) error
	NeighList(linkIndex, family int) ([]netlink.Neigh, error)
	Close()
}

// Compile-time interface guard.
var _ Netlinker = (*RealNetlinker)(nil)

// RealNetlinker forwards to a persistent netlink handle owning one
// NETLINK_ROUTE socket for the lifetime of the manager.
type RealNetlinker struct {
	handle *netlink.Handle
}

// NewRealNetlinker opens the rtnetlink socket.
func NewRealNetlinker() (*RealNetlinker, error) {
	handle, err := netlink.NewHandle()
	if err != nil {
		return nil, fmt.Errorf("open rtnetlink handle: %w", err)
	}
	return &RealNetlinker{handle: handle}, nil
}

func (r *RealNetlinker) LinkList() ([]netlink.Link, error) {
	return r.handle.LinkList()
}

func (r *RealNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	return r.handle.LinkByIndex(index)
}

func (r *RealNetlinker) LinkSetUp(link netlink.Link) error {
	return r.handle.LinkSetUp(link)
}

func (r *RealNetlinker) LinkSetDown(link netlink.Link) error {
	return r.handle.LinkSetDown(link)
}

func (r *RealNetlinker) NeighList(linkIndex, family int) ([]netlink.Neigh, error) {
	return r.handle.NeighList(linkIndex, family)
}

func (r *RealNetlinker) Close() {
	r.handle.Close()
}

// RouteManager provides generic interface enumeration and mutation plus
// neighbor-table queries over one persistent rtnetlink connection. A
// background subscription to link updates runs for the lifetime of the
// manager; Close cancels it and releases the socket.
type RouteManager struct {
	nl        Netlinker
	logger    *zap.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewRouteManager opens the rtnetlink connection and starts the link
// monitor. The caller owns the manager and must Close it.
func NewRouteManager(logger *zap.Logger) (*RouteManager, error) {
	nl, err := NewRealNetlinker()
	if err != nil {
		return nil, err
	}
	m := newRouteManager(nl, logger)
	if err := m.startMonitor(); err != nil {
		logger.Warn("link update subscription unavailable", zap.Error(err))
	}
	return m, nil
}

func newRouteManager(nl Netlinker, logger *zap.Logger) *RouteManager {
	return &RouteManager{
		nl:     nl,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// startMonitor subscribes to kernel link notifications. The updates are
// observability only; queries always re-read live kernel state.
func (m *RouteManager) startMonitor() error {
	updates := make(chan netlink.LinkUpdate, 16)
	opts := netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			m.logger.Warn("link subscription error", zap.Error(err))
		},
	}
	if err := netlink.LinkSubscribeWithOptions(updates, m.done, opts); err != nil {
		return fmt.Errorf("subscribe to link updates: %w", err)
	}

	go func() {
		for update := range updates {
			attrs := update.Link.Attrs()
			m.logger.Debug("link changed",
				zap.String("name", attrs.Name),
				zap.Int("index", attrs.Index),
				zap.String("oper_state", OperState(attrs.OperState).String()),
			)
		}
		m.logger.Debug("link monitor stopped")
	}()
	return nil
}

// Interfaces enumerates all links known to rtnetlink. Unnamed links are not
// representable in this model and are skipped with a diagnostic.
func (m *RouteManager) Interfaces() ([]RouteInterface, error) {
	links, err := m.nl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}

	interfaces := make([]RouteInterface, 0, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		if attrs.Name == "" {
			m.logger.Warn("skipping unnamed link", zap.Int("index", attrs.Index))
			continue
		}

		kind := classifyEncap(attrs.EncapType)
		if kind == KindUnknown {
			m.logger.Warn("link with unrecognized link-layer type",
				zap.String("name", attrs.Name),
				zap.String("encap_type", attrs.EncapType),
			)
		}

		interfaces = append(interfaces, RouteInterface{
			Index:     attrs.Index,
			Name:      attrs.Name,
			Kind:      kind,
			EncapType: attrs.EncapType,
			OperState: OperState(attrs.OperState),
		})
	}
	return interfaces, nil
}

// NeighborMACs derives an IP to MAC map from the kernel neighbor table.
// Entries missing either address are discarded: the neighbor cache routinely
// holds incomplete or expired entries, and absence of an entry never proves
// absence of a neighbor. Duplicate IPs within one query are last-writer-wins.
func (m *RouteManager) NeighborMACs() (map[netip.Addr]net.HardwareAddr, error) {
	neighbors, err := m.nl.NeighList(0, netlink.FAMILY_ALL)
	if err != nil {
		return nil, fmt.Errorf("list neighbors: %w", err)
	}

	macs := make(map[netip.Addr]net.HardwareAddr, len(neighbors))
	for _, neighbor := range neighbors {
		addr, ok := netip.AddrFromSlice(neighbor.IP)
		if !ok {
			m.logger.Debug("neighbor entry without destination address, skipping",
				zap.Int("link_index", neighbor.LinkIndex))
			continue
		}
		if len(neighbor.HardwareAddr) == 0 {
			m.logger.Debug("neighbor entry without link-layer address, skipping",
				zap.Stringer("ip", addr))
			continue
		}
		macs[addr.Unmap()] = neighbor.HardwareAddr
	}
	return macs, nil
}

// SetLinkOperState sets the administrative up/down flag on the link
// identified by index. Success means the kernel accepted the request, not
// that the link reached the target state; callers confirm by re-querying.
func (m *RouteManager) SetLinkOperState(index int, target OperState) error {
	if !target.IsSettable() {
		return fmt.Errorf("%w: oper state %s", ErrInvalidTarget, target)
	}

	link, err := m.nl.LinkByIndex(index)
	if err != nil {
		return fmt.Errorf("resolve link %d: %w", index, err)
	}

	if target == OperStateUp {
		err = m.nl.LinkSetUp(link)
	} else {
		err = m.nl.LinkSetDown(link)
	}
	if err != nil {
		return fmt.Errorf("set link %d %s: %w", index, target, err)
	}
	return nil
}

// Close cancels the background link monitor and releases the rtnetlink
// socket. The manager must not be used afterwards.
func (m *RouteManager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.nl.Close()
	})
}
