// Package netstate is the network-state engine of routerctl. It owns two
// independent kernel protocol connections — rtnetlink for generic link and
// neighbor management, nl80211 for wireless phy and interface management —
// and reconciles their separately-indexed views of the same physical devices
// into one consistent interface model. State-changing operations follow a
// set-then-confirm contract: the kernel only acknowledges that a request was
// accepted, so the resulting state is always re-queried before it is
// reported back to the caller.
package netstate

import (
	"encoding/json"
	"fmt"

	"golang.org/x/sys/unix"
)

// LinkKind classifies an interface by its link-layer type.
type LinkKind string

const (
	KindEthernet LinkKind = "ethernet"
	KindWireless LinkKind = "wireless"
	KindLoopback LinkKind = "loopback"
	KindUnknown  LinkKind = "unknown"
)

// classifyEncap maps the kernel-reported link-layer (encap) type to a kind.
// The 802.11 variants cover plain, prism, and radiotap framing. Anything
// unrecognized stays unknown; the raw encap string is preserved on the
// interface record for diagnosis.
func classifyEncap(encap string) LinkKind {
	switch encap {
	case "ether":
		return KindEthernet
	case "loopback":
		return KindLoopback
	case "ieee802.11", "ieee802.11/prism", "ieee802.11/radiotap":
		return KindWireless
	default:
		return KindUnknown
	}
}

// OperState is the kernel-reported operational state of a link (IF_OPER_*).
// Only Down and Up are valid mutation targets; every other code is
// observation-only and keeps its raw value.
type OperState uint8

const (
	OperStateUnknown OperState = 0 // IF_OPER_UNKNOWN
	OperStateDown    OperState = 2 // IF_OPER_DOWN
	OperStateUp      OperState = 6 // IF_OPER_UP
)

func (s OperState) String() string {
	switch s {
	case OperStateUnknown:
		return "unknown"
	case OperStateDown:
		return "down"
	case OperStateUp:
		return "up"
	default:
		return fmt.Sprintf("other(%d)", uint8(s))
	}
}

// IsSettable reports whether s is a valid target for a link-state mutation.
func (s OperState) IsSettable() bool {
	return s == OperStateDown || s == OperStateUp
}

// ParseOperState parses a mutation target. Only the settable states are
// accepted; observation-only states are rejected here, before any kernel
// call is made.
func ParseOperState(s string) (OperState, error) {
	switch s {
	case "up":
		return OperStateUp, nil
	case "down":
		return OperStateDown, nil
	default:
		return OperStateUnknown, fmt.Errorf("%w: oper state %q", ErrInvalidTarget, s)
	}
}

// MarshalJSON renders the state as its string form.
func (s OperState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// WirelessMode is the operating role of a wireless interface, carrying the
// raw nl80211 iftype. Station, access point, and monitor are the settable
// subset; all other kernel-reported iftypes are observation-only.
type WirelessMode uint32

const (
	ModeStation     WirelessMode = unix.NL80211_IFTYPE_STATION
	ModeAccessPoint WirelessMode = unix.NL80211_IFTYPE_AP
	ModeMonitor     WirelessMode = unix.NL80211_IFTYPE_MONITOR
)

func (m WirelessMode) String() string {
	switch m {
	case ModeStation:
		return "station"
	case ModeAccessPoint:
		return "access-point"
	case ModeMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("other(%d)", uint32(m))
	}
}

// IsSettable reports whether m is a valid target for a mode mutation.
func (m WirelessMode) IsSettable() bool {
	switch m {
	case ModeStation, ModeAccessPoint, ModeMonitor:
		return true
	default:
		return false
	}
}

// ParseWirelessMode parses a mutation target; only settable modes are
// accepted.
func ParseWirelessMode(s string) (WirelessMode, error) {
	switch s {
	case "station":
		return ModeStation, nil
	case "access-point":
		return ModeAccessPoint, nil
	case "monitor":
		return ModeMonitor, nil
	default:
		return 0, fmt.Errorf("%w: wireless mode %q", ErrInvalidTarget, s)
	}
}

// MarshalJSON renders the mode as its string form.
func (m WirelessMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// ModeStatus describes the wireless mode of an interface together with the
// modes its physical device supports.
type ModeStatus struct {
	Active    WirelessMode   `json:"active"`
	Supported []WirelessMode `json:"supported"`
}

// NetworkInterface is the merged, caller-facing view of one interface.
// Index is the kernel-assigned handle used for mutations and is stable only
// for the lifetime of the running kernel; Name is the external lookup key,
// unique within one merged snapshot. Mode is present only for wireless
// interfaces whose physical device could be resolved.
type NetworkInterface struct {
	Index     int         `json:"-"`
	Name      string      `json:"name"`
	Kind      LinkKind    `json:"kind"`
	EncapType string      `json:"encap_type,omitempty"`
	OperState OperState   `json:"oper_state"`
	Mode      *ModeStatus `json:"mode_status,omitempty"`
}

// RouteInterface is one link record as enumerated over rtnetlink.
type RouteInterface struct {
	Index     int
	Name      string
	Kind      LinkKind
	EncapType string
	OperState OperState
}

// WiphyInterface is one logical wireless interface as enumerated over
// nl80211. Index is the same ifindex rtnetlink reports; PhyIndex refers to
// the owning physical device.
type WiphyInterface struct {
	Index    int
	PhyIndex uint32
	Name     string
	Type     WirelessMode
}

// WiphyDevice is a wireless physical device (radio). One device may host
// several logical interfaces, each possibly in a different mode.
type WiphyDevice struct {
	PhyIndex       uint32
	Name           string
	SupportedModes []WirelessMode
}
