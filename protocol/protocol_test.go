package protocol

import (
	"slices"
	"strings"
	"testing"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		iface   string
		request string
		op      uint16
	}{
		{"wl_display", "get_registry", 1},
		{"wl_surface", "commit", 6},
		{"wl_surface", "damage_buffer", 9},
		{"wl_shm", "release", 1},
		{"wl_subsurface", "set_desync", 5},
		{"xdg_wm_base", "pong", 3},
		{"xdg_surface", "ack_configure", 4},
		{"xdg_toplevel", "set_app_id", 3},
		{"zwp_linux_buffer_params_v1", "create_immed", 3},
	}

	for _, test := range tests {
		i := Lookup(test.iface)
		if i == nil {
			t.Errorf("Lookup(%q) = nil", test.iface)
			continue
		}
		op, ok := i.Request(test.request)
		if !ok || (op != test.op) {
			t.Errorf("%v.Request(%q) = %v, %v, want %v", test.iface, test.request, op, ok, test.op)
		}
		if name := i.RequestName(test.op); name != test.request {
			t.Errorf("%v.RequestName(%v) = %q, want %q", test.iface, test.op, name, test.request)
		}
	}
}

func TestEvents(t *testing.T) {
	surface := MustLookup("wl_surface")
	if op, ok := surface.Event("preferred_buffer_scale"); !ok || (op != 2) {
		t.Errorf("wl_surface.Event(preferred_buffer_scale) = %v, %v, want 2", op, ok)
	}

	toplevel := MustLookup("xdg_toplevel")
	if name := toplevel.EventName(1); name != "close" {
		t.Errorf("xdg_toplevel.EventName(1) = %q, want close", name)
	}
	if name := toplevel.EventName(42); name != "event42" {
		t.Errorf("xdg_toplevel.EventName(42) = %q, want event42", name)
	}
}

func TestDestructors(t *testing.T) {
	buffer := MustLookup("wl_buffer")
	if !buffer.Requests[0].IsDestructor() {
		t.Error("wl_buffer.destroy is not a destructor")
	}

	surface := MustLookup("wl_surface")
	commit, _ := surface.Request("commit")
	if surface.Requests[commit].IsDestructor() {
		t.Error("wl_surface.commit is a destructor")
	}
}

func TestLoad(t *testing.T) {
	const doc = `<protocol name="test">
  <interface name="test_object" version="2">
    <request name="poke">
      <arg name="value" type="uint"/>
    </request>
    <enum name="mode">
      <entry name="fast" value="0x10"/>
    </enum>
  </interface>
</protocol>`

	proto, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if (proto.Name != "test") || (len(proto.Interfaces) != 1) {
		t.Fatalf("Load() = %+v", proto)
	}

	i := proto.Interfaces[0]
	if i.Version != 2 {
		t.Errorf("Version = %v, want 2", i.Version)
	}
	v, err := i.Enums[0].Entries[0].Int()
	if (err != nil) || (v != 16) {
		t.Errorf("Entry.Int() = %v, %v, want 16", v, err)
	}
}

func TestMustLookupPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustLookup did not panic for an unknown interface")
		}
	}()
	MustLookup("wl_nonexistent")
}

func TestNames(t *testing.T) {
	names := Names()
	if !slices.IsSorted(names) {
		t.Errorf("Names() is not sorted: %v", names)
	}
	for _, name := range []string{"wl_display", "xdg_toplevel", "zwp_linux_dmabuf_v1"} {
		if !slices.Contains(names, name) {
			t.Errorf("Names() is missing %v", name)
		}
	}
}
