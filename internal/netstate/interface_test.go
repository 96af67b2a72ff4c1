package netstate

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestClassifyEncap(t *testing.T) {
	tests := []struct {
		encap string
		want  LinkKind
	}{
		{"ether", KindEthernet},
		{"loopback", KindLoopback},
		{"ieee802.11", KindWireless},
		{"ieee802.11/prism", KindWireless},
		{"ieee802.11/radiotap", KindWireless},
		{"gre", KindUnknown},
		{"", KindUnknown},
	}
	for _, tt := range tests {
		if got := classifyEncap(tt.encap); got != tt.want {
			t.Errorf("classifyEncap(%q) = %q, want %q", tt.encap, got, tt.want)
		}
	}
}

func TestOperStateStrings(t *testing.T) {
	if OperStateUp.String() != "up" || OperStateDown.String() != "down" {
		t.Error("settable states have wrong string forms")
	}
	if OperStateUnknown.String() != "unknown" {
		t.Error("unknown state has wrong string form")
	}
	if got := OperState(5).String(); got != "other(5)" {
		t.Errorf("dormant state = %q, want other(5) with raw code preserved", got)
	}
}

func TestParseOperState(t *testing.T) {
	for input, want := range map[string]OperState{"up": OperStateUp, "down": OperStateDown} {
		got, err := ParseOperState(input)
		if err != nil || got != want {
			t.Errorf("ParseOperState(%q) = %v, %v", input, got, err)
		}
	}
	for _, input := range []string{"unknown", "dormant", "UP", ""} {
		if _, err := ParseOperState(input); !errors.Is(err, ErrInvalidTarget) {
			t.Errorf("ParseOperState(%q) err = %v, want ErrInvalidTarget", input, err)
		}
	}
}

func TestParseWirelessMode(t *testing.T) {
	for input, want := range map[string]WirelessMode{
		"station":      ModeStation,
		"monitor":      ModeMonitor,
		"access-point": ModeAccessPoint,
	} {
		got, err := ParseWirelessMode(input)
		if err != nil || got != want {
			t.Errorf("ParseWirelessMode(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseWirelessMode("mesh"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("ParseWirelessMode(mesh) err = %v, want ErrInvalidTarget", err)
	}
}

func TestNetworkInterfaceJSON(t *testing.T) {
	iface := NetworkInterface{
		Index:     3,
		Name:      "wlan0",
		Kind:      KindWireless,
		EncapType: "ether",
		OperState: OperStateDown,
		Mode: &ModeStatus{
			Active:    ModeStation,
			Supported: []WirelessMode{ModeStation, ModeMonitor},
		},
	}

	data, err := json.Marshal(iface)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)

	for _, want := range []string{
		`"name":"wlan0"`,
		`"kind":"wireless"`,
		`"oper_state":"down"`,
		`"active":"station"`,
		`"supported":["station","monitor"]`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("marshaled interface missing %s: %s", want, body)
		}
	}
	// The kernel index is a mutation handle, not part of the wire format.
	if strings.Contains(body, `"3"`) || strings.Contains(body, `:3`) {
		t.Errorf("index leaked into JSON: %s", body)
	}
}

func TestNetworkInterfaceJSONOmitsEmptyMode(t *testing.T) {
	iface := NetworkInterface{Name: "eth0", Kind: KindEthernet, OperState: OperStateUp}

	data, err := json.Marshal(iface)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "mode_status") {
		t.Errorf("mode_status present for non-wireless interface: %s", data)
	}
}
