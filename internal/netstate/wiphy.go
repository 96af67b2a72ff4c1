package netstate

import (
	"fmt"
	"sync"

	"github.com/mdlayher/genetlink"
	nlenc "github.com/mdlayher/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// genlConn abstracts the generic-netlink exchange WiphyManager performs, so
// tests can substitute a fake for the kernel.
type genlConn interface {
	Execute(m genetlink.Message, family uint16, flags nlenc.HeaderFlags) ([]genetlink.Message, error)
	Close() error
}

// WiphyManager provides wireless physical-device and logical-interface
// enumeration and mutation over a persistent nl80211 connection, independent
// of the rtnetlink one. A second connection joined to the nl80211 "config"
// multicast group runs as a background event listener for the lifetime of
// the manager; Close stops it and releases both sockets.
type WiphyManager struct {
	conn      genlConn
	family    genetlink.Family
	events    *genetlink.Conn
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewWiphyManager dials generic netlink and resolves the nl80211 family.
// It fails when the kernel exposes no wireless configuration support. The
// caller owns the manager and must Close it.
func NewWiphyManager(logger *zap.Logger) (*WiphyManager, error) {
	conn, err := genetlink.Dial(nil)
	if err != nil {
		return nil, fmt.Errorf("dial generic netlink: %w", err)
	}

	family, err := conn.GetFamily(unix.NL80211_GENL_NAME)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("resolve %s family: %w", unix.NL80211_GENL_NAME, err)
	}

	m := newWiphyManager(conn, family, logger)
	m.startEventListener()
	return m, nil
}

func newWiphyManager(conn genlConn, family genetlink.Family, logger *zap.Logger) *WiphyManager {
	return &WiphyManager{
		conn:   conn,
		family: family,
		logger: logger,
	}
}

// startEventListener joins the nl80211 "config" multicast group on a
// dedicated connection and drains its notifications. The events are
// observability only; queries always re-read live kernel state. Failure to
// listen degrades logging, not functionality.
func (m *WiphyManager) startEventListener() {
	var group *genetlink.MulticastGroup
	for i := range m.family.Groups {
		if m.family.Groups[i].Name == unix.NL80211_MULTICAST_GROUP_CONFIG {
			group = &m.family.Groups[i]
			break
		}
	}
	if group == nil {
		m.logger.Warn("nl80211 config multicast group not advertised")
		return
	}

	events, err := genetlink.Dial(nil)
	if err != nil {
		m.logger.Warn("nl80211 event connection unavailable", zap.Error(err))
		return
	}
	if err := events.JoinGroup(group.ID); err != nil {
		events.Close()
		m.logger.Warn("join nl80211 config group", zap.Error(err))
		return
	}
	m.events = events

	go func() {
		for {
			msgs, _, err := events.Receive()
			if err != nil {
				// Receive unblocks with an error once Close tears the
				// socket down.
				m.logger.Debug("nl80211 event listener stopped", zap.Error(err))
				return
			}
			for _, msg := range msgs {
				m.logger.Debug("nl80211 event", zap.Uint8("command", msg.Header.Command))
			}
		}
	}()
}

// Interfaces enumerates the logical wireless interfaces. Records missing
// any of ifindex, phy index, name, or iftype are skipped with a diagnostic;
// partial records are never guessed at.
func (m *WiphyManager) Interfaces() ([]WiphyInterface, error) {
	req := genetlink.Message{
		Header: genetlink.Header{
			Command: unix.NL80211_CMD_GET_INTERFACE,
			Version: m.family.Version,
		},
	}
	msgs, err := m.conn.Execute(req, m.family.ID, nlenc.Request|nlenc.Dump)
	if err != nil {
		return nil, fmt.Errorf("dump nl80211 interfaces: %w", err)
	}

	interfaces := make([]WiphyInterface, 0, len(msgs))
	for _, msg := range msgs {
		ad, err := nlenc.NewAttributeDecoder(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode nl80211 interface attributes: %w", err)
		}

		var (
			index, phyIndex, iftype   uint32
			name                      string
			hasIndex, hasPhy, hasType bool
		)
		for ad.Next() {
			switch ad.Type() {
			case unix.NL80211_ATTR_IFINDEX:
				index = ad.Uint32()
				hasIndex = true
			case unix.NL80211_ATTR_WIPHY:
				phyIndex = ad.Uint32()
				hasPhy = true
			case unix.NL80211_ATTR_IFNAME:
				name = ad.String()
			case unix.NL80211_ATTR_IFTYPE:
				iftype = ad.Uint32()
				hasType = true
			}
		}
		if err := ad.Err(); err != nil {
			return nil, fmt.Errorf("decode nl80211 interface attributes: %w", err)
		}

		if !hasIndex || !hasPhy || name == "" || !hasType {
			m.logger.Warn("skipping partial nl80211 interface record",
				zap.Bool("has_index", hasIndex),
				zap.Bool("has_phy", hasPhy),
				zap.String("name", name),
				zap.Bool("has_iftype", hasType),
			)
			continue
		}

		interfaces = append(interfaces, WiphyInterface{
			Index:    int(index),
			PhyIndex: phyIndex,
			Name:     name,
			Type:     WirelessMode(iftype),
		})
	}
	return interfaces, nil
}

// Devices enumerates the wireless physical devices. nl80211 fragments one
// device's attributes across several messages of a split dump, so records
// for the same phy index are accumulated field by field: a later message
// contributing the name never erases supported modes from an earlier one.
func (m *WiphyManager) Devices() ([]WiphyDevice, error) {
	ae := nlenc.NewAttributeEncoder()
	ae.Flag(unix.NL80211_ATTR_SPLIT_WIPHY_DUMP, true)
	data, err := ae.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode wiphy dump request: %w", err)
	}

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: unix.NL80211_CMD_GET_WIPHY,
			Version: m.family.Version,
		},
		Data: data,
	}
	msgs, err := m.conn.Execute(req, m.family.ID, nlenc.Request|nlenc.Dump)
	if err != nil {
		return nil, fmt.Errorf("dump nl80211 wiphys: %w", err)
	}

	devices := make(map[uint32]*WiphyDevice)
	var order []uint32
	for _, msg := range msgs {
		ad, err := nlenc.NewAttributeDecoder(msg.Data)
		if err != nil {
			return nil, fmt.Errorf("decode nl80211 wiphy attributes: %w", err)
		}

		var (
			phyIndex uint32
			hasPhy   bool
			name     string
			modes    []WirelessMode
		)
		for ad.Next() {
			switch ad.Type() {
			case unix.NL80211_ATTR_WIPHY:
				phyIndex = ad.Uint32()
				hasPhy = true
			case unix.NL80211_ATTR_WIPHY_NAME:
				name = ad.String()
			case unix.NL80211_ATTR_SUPPORTED_IFTYPES:
				// Nested set: each attribute's type is an iftype value.
				ad.Nested(func(nad *nlenc.AttributeDecoder) error {
					for nad.Next() {
						modes = append(modes, WirelessMode(nad.Type()))
					}
					return nil
				})
			}
		}
		if err := ad.Err(); err != nil {
			return nil, fmt.Errorf("decode nl80211 wiphy attributes: %w", err)
		}

		if !hasPhy {
			m.logger.Warn("skipping nl80211 wiphy record without phy index")
			continue
		}

		device, ok := devices[phyIndex]
		if !ok {
			device = &WiphyDevice{PhyIndex: phyIndex}
			devices[phyIndex] = device
			order = append(order, phyIndex)
		}
		if name != "" {
			device.Name = name
		}
		if modes != nil {
			device.SupportedModes = modes
		}
	}

	result := make([]WiphyDevice, 0, len(order))
	for _, phyIndex := range order {
		result = append(result, *devices[phyIndex])
	}
	return result, nil
}

// SetInterfaceMode changes the operating mode of the interface identified
// by ifindex. Success means the kernel accepted the request; callers
// confirm by re-querying.
func (m *WiphyManager) SetInterfaceMode(index int, mode WirelessMode) error {
	if !mode.IsSettable() {
		return fmt.Errorf("%w: wireless mode %s", ErrInvalidTarget, mode)
	}

	ae := nlenc.NewAttributeEncoder()
	ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(index))
	ae.Uint32(unix.NL80211_ATTR_IFTYPE, uint32(mode))
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("encode set-interface request: %w", err)
	}

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: unix.NL80211_CMD_SET_INTERFACE,
			Version: m.family.Version,
		},
		Data: data,
	}
	if _, err := m.conn.Execute(req, m.family.ID, nlenc.Request|nlenc.Acknowledge); err != nil {
		return fmt.Errorf("set mode %s on ifindex %d: %w", mode, index, err)
	}
	return nil
}

// CreateInterface adds a logical wireless interface on the given physical
// device. Accepted-not-confirmed semantics, like every mutation here.
func (m *WiphyManager) CreateInterface(phyIndex uint32, name string, mode WirelessMode) error {
	if !mode.IsSettable() {
		return fmt.Errorf("%w: wireless mode %s", ErrInvalidTarget, mode)
	}

	ae := nlenc.NewAttributeEncoder()
	ae.Uint32(unix.NL80211_ATTR_WIPHY, phyIndex)
	ae.String(unix.NL80211_ATTR_IFNAME, name)
	ae.Uint32(unix.NL80211_ATTR_IFTYPE, uint32(mode))
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("encode new-interface request: %w", err)
	}

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: unix.NL80211_CMD_NEW_INTERFACE,
			Version: m.family.Version,
		},
		Data: data,
	}
	if _, err := m.conn.Execute(req, m.family.ID, nlenc.Request|nlenc.Acknowledge); err != nil {
		return fmt.Errorf("create interface %q on phy %d: %w", name, phyIndex, err)
	}
	return nil
}

// DeleteInterface removes the logical wireless interface identified by
// ifindex.
func (m *WiphyManager) DeleteInterface(index int) error {
	ae := nlenc.NewAttributeEncoder()
	ae.Uint32(unix.NL80211_ATTR_IFINDEX, uint32(index))
	data, err := ae.Encode()
	if err != nil {
		return fmt.Errorf("encode del-interface request: %w", err)
	}

	req := genetlink.Message{
		Header: genetlink.Header{
			Command: unix.NL80211_CMD_DEL_INTERFACE,
			Version: m.family.Version,
		},
		Data: data,
	}
	if _, err := m.conn.Execute(req, m.family.ID, nlenc.Request|nlenc.Acknowledge); err != nil {
		return fmt.Errorf("delete ifindex %d: %w", index, err)
	}
	return nil
}

// Close stops the event listener and releases both nl80211 sockets. The
// manager must not be used afterwards.
func (m *WiphyManager) Close() {
	m.closeOnce.Do(func() {
		if m.events != nil {
			m.events.Close()
		}
		m.conn.Close()
	})
}
