package netstate

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// fakeNetlinker implements Netlinker against canned data and records
// mutation calls.
type fakeNetlinker struct {
	links     []netlink.Link
	linksErr  error
	neighbors []netlink.Neigh
	neighErr  error

	setUpCalls   []int
	setDownCalls []int
	byIndexCalls []int
}

func (f *fakeNetlinker) LinkList() ([]netlink.Link, error) {
	return f.links, f.linksErr
}

func (f *fakeNetlinker) LinkByIndex(index int) (netlink.Link, error) {
	f.byIndexCalls = append(f.byIndexCalls, index)
	for _, link := range f.links {
		if link.Attrs().Index == index {
			return link, nil
		}
	}
	return nil, errors.New("link not found")
}

func (f *fakeNetlinker) LinkSetUp(link netlink.Link) error {
	f.setUpCalls = append(f.setUpCalls, link.Attrs().Index)
	return nil
}

func (f *fakeNetlinker) LinkSetDown(link netlink.Link) error {
	f.setDownCalls = append(f.setDownCalls, link.Attrs().Index)
	return nil
}

func (f *fakeNetlinker) NeighList(linkIndex, family int) ([]netlink.Neigh, error) {
	return f.neighbors, f.neighErr
}

func (f *fakeNetlinker) Close() {}

func fakeLink(index int, name, encap string, oper netlink.LinkOperState) netlink.Link {
	return &netlink.GenericLink{
		LinkAttrs: netlink.LinkAttrs{
			Index:     index,
			Name:      name,
			EncapType: encap,
			OperState: oper,
		},
	}
}

func TestRouteManagerInterfacesClassification(t *testing.T) {
	nl := &fakeNetlinker{links: []netlink.Link{
		fakeLink(1, "lo", "loopback", netlink.OperUnknown),
		fakeLink(2, "eth0", "ether", netlink.OperUp),
		fakeLink(3, "wlan0", "ieee802.11", netlink.OperDown),
		fakeLink(4, "gre0", "gre", netlink.OperDown),
	}}
	m := newRouteManager(nl, zap.NewNop())

	interfaces, err := m.Interfaces()
	if err != nil {
		t.Fatalf("Interfaces: %v", err)
	}
	if len(interfaces) != 4 {
		t.Fatalf("got %d interfaces, want 4", len(interfaces))
	}

	wantKinds := []LinkKind{KindLoopback, KindEthernet, KindWireless, KindUnknown}
	for i, want := range wantKinds {
		if interfaces[i].Kind != want {
			t.Errorf("interface %q kind = %q, want %q", interfaces[i].Name, interfaces[i].Kind, want)
		}
	}
	if interfaces[3].EncapType != "gre" {
		t.Errorf("unknown kind lost raw encap type: %q", interfaces[3].EncapType)
	}
	if interfaces[1].OperState != OperStateUp {
		t.Errorf("eth0 oper state = %s, want up", interfaces[1].OperState)
	}
}

func TestRouteManagerInterfacesSkipsUnnamed(t *testing.T) {
	nl := &fakeNetlinker{links: []netlink.Link{
		fakeLink(7, "", "ether", netlink.OperUp),
		fakeLink(8, "eth1", "ether", netlink.OperUp),
	}}
	m := newRouteManager(nl, zap.NewNop())

	interfaces, err := m.Interfaces()
	if err != nil {
		t.Fatalf("Interfaces: %v", err)
	}
	if len(interfaces) != 1 || interfaces[0].Name != "eth1" {
		t.Fatalf("unnamed link not skipped: %+v", interfaces)
	}
}

func TestRouteManagerNeighborMACs(t *testing.T) {
	mac1 := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	mac2 := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	mac3 := net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}

	nl := &fakeNetlinker{neighbors: []netlink.Neigh{
		{IP: net.ParseIP("192.0.2.10"), HardwareAddr: mac1},
		// Incomplete cache entry: destination but no link-layer address.
		{IP: net.ParseIP("192.0.2.11")},
		// No destination at all.
		{HardwareAddr: mac2},
		{IP: net.ParseIP("2001:db8::1"), HardwareAddr: mac2},
		// Duplicate of the first IP: last writer wins.
		{IP: net.ParseIP("192.0.2.10"), HardwareAddr: mac3},
	}}
	m := newRouteManager(nl, zap.NewNop())

	macs, err := m.NeighborMACs()
	if err != nil {
		t.Fatalf("NeighborMACs: %v", err)
	}
	if len(macs) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(macs), macs)
	}

	got, ok := macs[netip.MustParseAddr("192.0.2.10")]
	if !ok {
		t.Fatal("missing entry for 192.0.2.10")
	}
	if got.String() != mac3.String() {
		t.Errorf("192.0.2.10 = %s, want last-written %s", got, mac3)
	}
	if _, ok := macs[netip.MustParseAddr("2001:db8::1")]; !ok {
		t.Error("missing entry for 2001:db8::1")
	}
	if _, ok := macs[netip.MustParseAddr("192.0.2.11")]; ok {
		t.Error("entry without link-layer address was not dropped")
	}
}

func TestRouteManagerSetLinkOperState(t *testing.T) {
	nl := &fakeNetlinker{links: []netlink.Link{
		fakeLink(2, "eth0", "ether", netlink.OperDown),
	}}
	m := newRouteManager(nl, zap.NewNop())

	if err := m.SetLinkOperState(2, OperStateUp); err != nil {
		t.Fatalf("SetLinkOperState up: %v", err)
	}
	if err := m.SetLinkOperState(2, OperStateDown); err != nil {
		t.Fatalf("SetLinkOperState down: %v", err)
	}
	if len(nl.setUpCalls) != 1 || nl.setUpCalls[0] != 2 {
		t.Errorf("setUp calls = %v, want [2]", nl.setUpCalls)
	}
	if len(nl.setDownCalls) != 1 || nl.setDownCalls[0] != 2 {
		t.Errorf("setDown calls = %v, want [2]", nl.setDownCalls)
	}
}

func TestRouteManagerSetLinkOperStateRejectsInvalidTarget(t *testing.T) {
	nl := &fakeNetlinker{}
	m := newRouteManager(nl, zap.NewNop())

	for _, target := range []OperState{OperStateUnknown, OperState(5)} {
		err := m.SetLinkOperState(2, target)
		if !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("target %s: err = %v, want ErrInvalidTarget", target, err)
		}
	}
	// Rejection happens before any kernel call.
	if len(nl.byIndexCalls) != 0 || len(nl.setUpCalls) != 0 || len(nl.setDownCalls) != 0 {
		t.Errorf("kernel calls made for invalid target: %v %v %v",
			nl.byIndexCalls, nl.setUpCalls, nl.setDownCalls)
	}
}
