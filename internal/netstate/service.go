package netstate

import (
	"fmt"

	"go.uber.org/zap"
)

// RouteSource is the slice of RouteManager the service consumes.
type RouteSource interface {
	Interfaces() ([]RouteInterface, error)
	SetLinkOperState(index int, target OperState) error
}

// WiphySource is the slice of WiphyManager the service consumes.
type WiphySource interface {
	Interfaces() ([]WiphyInterface, error)
	Devices() ([]WiphyDevice, error)
	SetInterfaceMode(index int, mode WirelessMode) error
}

// Compile-time interface guards.
var (
	_ RouteSource = (*RouteManager)(nil)
	_ WiphySource = (*WiphyManager)(nil)
)

// Service merges the rtnetlink and nl80211 views into one consistent
// interface model and orchestrates the set-then-confirm mutation contract.
//
// The two snapshots feeding one merge are taken at slightly different
// instants, and resolve/mutate/confirm are three separate kernel exchanges;
// a concurrent external change can land in between. The kernel offers no
// transactional snapshot, so this window is accepted rather than papered
// over with locking.
type Service struct {
	route  RouteSource
	wiphy  WiphySource
	logger *zap.Logger
}

// NewService composes the two managers.
func NewService(route RouteSource, wiphy WiphySource, logger *zap.Logger) *Service {
	return &Service{route: route, wiphy: wiphy, logger: logger}
}

// Interfaces produces the merged interface view. The wireless pass runs
// first and establishes identity: an interface enumerated over nl80211 is
// wireless no matter what link-layer type rtnetlink later reports for it.
// The generic pass only complements the operational state of entries the
// wireless pass created. Order across calls is merge order, not a sort.
func (s *Service) Interfaces() ([]NetworkInterface, error) {
	devices, err := s.wiphy.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate wireless devices: %w", err)
	}
	modesByPhy := make(map[uint32][]WirelessMode, len(devices))
	for _, device := range devices {
		modesByPhy[device.PhyIndex] = device.SupportedModes
	}

	wirelessIfaces, err := s.wiphy.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate wireless interfaces: %w", err)
	}

	merged := make(map[string]*NetworkInterface, len(wirelessIfaces))
	var order []string

	for _, iface := range wirelessIfaces {
		var mode *ModeStatus
		supported, ok := modesByPhy[iface.PhyIndex]
		if ok {
			mode = &ModeStatus{Active: iface.Type, Supported: supported}
		} else {
			s.logger.Error("wireless physical device not resolvable",
				zap.Uint32("phy_index", iface.PhyIndex),
				zap.String("interface", iface.Name),
			)
		}

		merged[iface.Name] = &NetworkInterface{
			Index: iface.Index,
			Name:  iface.Name,
			Kind:  KindWireless,
			Mode:  mode,
		}
		order = append(order, iface.Name)
	}

	routeIfaces, err := s.route.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate links: %w", err)
	}
	for _, iface := range routeIfaces {
		if existing, ok := merged[iface.Name]; ok {
			// Wireless identity wins; only the link state is complemented.
			existing.OperState = iface.OperState
			existing.EncapType = iface.EncapType
			s.logger.Debug("complemented wireless interface with link state",
				zap.String("name", iface.Name),
				zap.Stringer("oper_state", iface.OperState),
			)
			continue
		}

		merged[iface.Name] = &NetworkInterface{
			Index:     iface.Index,
			Name:      iface.Name,
			Kind:      iface.Kind,
			EncapType: iface.EncapType,
			OperState: iface.OperState,
		}
		order = append(order, iface.Name)
	}

	interfaces := make([]NetworkInterface, 0, len(order))
	for _, name := range order {
		interfaces = append(interfaces, *merged[name])
	}
	return interfaces, nil
}

// FindInterfaceByName re-runs the full merge and scans it linearly.
// Interface counts on a router are small, and freshness matters more than
// lookup speed.
func (s *Service) FindInterfaceByName(name string) (NetworkInterface, error) {
	interfaces, err := s.Interfaces()
	if err != nil {
		return NetworkInterface{}, err
	}
	for _, iface := range interfaces {
		if iface.Name == name {
			return iface, nil
		}
	}
	return NetworkInterface{}, fmt.Errorf("%w: %q", ErrInterfaceNotFound, name)
}

// SetLinkState sets the administrative state of the named interface and
// returns the state observed after the mutation. The kernel acknowledges
// only acceptance, so the result is always re-read rather than assumed.
func (s *Service) SetLinkState(name string, target OperState) (OperState, error) {
	if !target.IsSettable() {
		return OperStateUnknown, fmt.Errorf("%w: oper state %s", ErrInvalidTarget, target)
	}

	iface, err := s.FindInterfaceByName(name)
	if err != nil {
		return OperStateUnknown, err
	}

	if err := s.route.SetLinkOperState(iface.Index, target); err != nil {
		return OperStateUnknown, fmt.Errorf("set link state on %q: %w", name, err)
	}

	confirmed, err := s.FindInterfaceByName(name)
	if err != nil {
		return OperStateUnknown, fmt.Errorf("%w: %q vanished after link-state change: %v",
			ErrConfirmationMismatch, name, err)
	}
	return confirmed.OperState, nil
}

// SetWirelessMode sets the operating mode of the named wireless interface
// and returns the mode observed after the mutation. The merged view carries
// no nl80211 handle, so the live wireless interface is re-resolved by
// ifindex before the mutation is issued.
func (s *Service) SetWirelessMode(name string, mode WirelessMode) (WirelessMode, error) {
	if !mode.IsSettable() {
		return 0, fmt.Errorf("%w: wireless mode %s", ErrInvalidTarget, mode)
	}

	iface, err := s.FindInterfaceByName(name)
	if err != nil {
		return 0, err
	}

	wirelessIfaces, err := s.wiphy.Interfaces()
	if err != nil {
		return 0, fmt.Errorf("enumerate wireless interfaces: %w", err)
	}
	var target *WiphyInterface
	for i := range wirelessIfaces {
		if wirelessIfaces[i].Index == iface.Index {
			target = &wirelessIfaces[i]
			break
		}
	}
	if target == nil {
		return 0, fmt.Errorf("interface %q has no wireless handle", name)
	}

	if err := s.wiphy.SetInterfaceMode(target.Index, mode); err != nil {
		return 0, fmt.Errorf("set mode on %q: %w", name, err)
	}

	confirmed, err := s.FindInterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %q vanished after mode change: %v",
			ErrConfirmationMismatch, name, err)
	}
	if confirmed.Mode == nil {
		return 0, fmt.Errorf("%w: %q reports no wireless mode after mode change",
			ErrConfirmationMismatch, name)
	}
	return confirmed.Mode.Active, nil
}
