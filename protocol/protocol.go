// Package protocol defines the types necessary for unmarshalling a
// protocol-specification XML file, along with the descriptions of the
// protocols that the rest of the module speaks. Opcodes are the index
// of a request or event within its interface, in document order.
package protocol

import (
	"embed"
	"encoding/xml"
	"fmt"
	"io"
	"io/fs"
	"maps"
	"slices"
	"strconv"
)

type Protocol struct {
	Name      string `xml:"name,attr"`
	Copyright string `xml:"copyright"`

	Interfaces []Interface `xml:"interface"`
}

type Interface struct {
	Name        string      `xml:"name,attr"`
	Version     int         `xml:"version,attr"`
	Description Description `xml:"description"`

	Requests []Op   `xml:"request"`
	Events   []Op   `xml:"event"`
	Enums    []Enum `xml:"enum"`
}

type Description struct {
	Summary string `xml:"summary,attr"`
	Full    string `xml:",chardata"`
}

type Op struct {
	Name        string      `xml:"name,attr"`
	Type        string      `xml:"type,attr"`
	Since       int         `xml:"since,attr"`
	Description Description `xml:"description"`

	Args []Arg `xml:"arg"`
}

// IsDestructor reports whether the op destroys the object it is sent
// to.
func (op Op) IsDestructor() bool {
	return op.Type == "destructor"
}

type Arg struct {
	Name    string `xml:"name,attr"`
	Summary string `xml:"summary,attr"`

	Type      string `xml:"type,attr"`
	Interface string `xml:"interface,attr"`
	AllowNull bool   `xml:"allow-null,attr"`
	Enum      string `xml:"enum,attr"`
	Version   int    `xml:"version,attr"`
}

type Enum struct {
	Name        string      `xml:"name,attr"`
	Description Description `xml:"description"`

	Entries []Entry `xml:"entry"`
}

type Entry struct {
	Name    string `xml:"name,attr"`
	Summary string `xml:"summary,attr"`
	Value   string `xml:"value,attr"`
}

func (e Entry) Int() (int, error) {
	v, err := strconv.ParseInt(e.Value, 0, 0)
	return int(v), err
}

// Load decodes a protocol-specification XML document.
func Load(r io.Reader) (proto Protocol, err error) {
	d := xml.NewDecoder(r)
	err = d.Decode(&proto)
	return proto, err
}

// RequestName returns the name of the request with the given opcode.
func (i *Interface) RequestName(op uint16) string {
	if int(op) >= len(i.Requests) {
		return fmt.Sprintf("request%v", op)
	}
	return i.Requests[op].Name
}

// EventName returns the name of the event with the given opcode.
func (i *Interface) EventName(op uint16) string {
	if int(op) >= len(i.Events) {
		return fmt.Sprintf("event%v", op)
	}
	return i.Events[op].Name
}

// Request returns the opcode of the named request.
func (i *Interface) Request(name string) (uint16, bool) {
	return find(i.Requests, name)
}

// Event returns the opcode of the named event.
func (i *Interface) Event(name string) (uint16, bool) {
	return find(i.Events, name)
}

func find(ops []Op, name string) (uint16, bool) {
	for op, v := range ops {
		if v.Name == name {
			return uint16(op), true
		}
	}
	return 0, false
}

//go:embed xml/*.xml
var files embed.FS

var interfaces = make(map[string]*Interface)

func init() {
	paths, err := fs.Glob(files, "xml/*.xml")
	if err != nil {
		panic(err)
	}

	for _, path := range paths {
		file, err := files.Open(path)
		if err != nil {
			panic(err)
		}
		proto, err := Load(file)
		file.Close()
		if err != nil {
			panic(fmt.Errorf("load %v: %w", path, err))
		}

		for i := range proto.Interfaces {
			inter := &proto.Interfaces[i]
			interfaces[inter.Name] = inter
		}
	}
}

// Lookup returns the description of a built-in interface, or nil if
// the interface is unknown.
func Lookup(name string) *Interface {
	return interfaces[name]
}

// MustLookup is like Lookup but panics if the interface is unknown.
func MustLookup(name string) *Interface {
	i := Lookup(name)
	if i == nil {
		panic(fmt.Errorf("unknown interface %q", name))
	}
	return i
}

// Names returns the names of the built-in interfaces in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(interfaces))
}
