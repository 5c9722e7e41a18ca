// Command wlproto prints the requests and events of Wayland protocol
// interfaces along with their opcodes. Without -xml it describes the
// interfaces built into gpudisplay.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"deedles.dev/gpudisplay/protocol"
)

func loadXML(path string) ([]*protocol.Interface, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	proto, err := protocol.Load(file)
	if err != nil {
		return nil, err
	}

	interfaces := make([]*protocol.Interface, 0, len(proto.Interfaces))
	for i := range proto.Interfaces {
		interfaces = append(interfaces, &proto.Interfaces[i])
	}
	return interfaces, nil
}

func builtin() []*protocol.Interface {
	names := protocol.Names()
	interfaces := make([]*protocol.Interface, 0, len(names))
	for _, name := range names {
		interfaces = append(interfaces, protocol.MustLookup(name))
	}
	return interfaces
}

func signature(args []protocol.Arg) string {
	var sb strings.Builder
	for i, arg := range args {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%v %v", arg.Name, arg.Type)
		if arg.Interface != "" {
			fmt.Fprintf(&sb, "<%v>", arg.Interface)
		}
		if arg.AllowNull {
			sb.WriteByte('?')
		}
	}
	return sb.String()
}

func printOps(w io.Writer, kind string, ops []protocol.Op) {
	for op, v := range ops {
		fmt.Fprintf(w, "\t%v %v: %v(%v)", kind, op, v.Name, signature(v.Args))
		if v.IsDestructor() {
			fmt.Fprint(w, " destructor")
		}
		if v.Since > 1 {
			fmt.Fprintf(w, " since %v", v.Since)
		}
		fmt.Fprintln(w)
	}
}

func printInterface(w io.Writer, i *protocol.Interface) {
	fmt.Fprintf(w, "%v version %v\n", i.Name, i.Version)
	printOps(w, "request", i.Requests)
	printOps(w, "event", i.Events)
}

func main() {
	xmlfile := flag.String("xml", "", "protocol XML file (default built-in protocols)")
	iface := flag.String("iface", "", "only print the named interface")
	flag.Parse()

	interfaces := builtin()
	if *xmlfile != "" {
		var err error
		interfaces, err = loadXML(*xmlfile)
		if err != nil {
			log.Fatalf("load XML: %v", err)
		}
	}

	var found bool
	for _, i := range interfaces {
		if (*iface != "") && (i.Name != *iface) {
			continue
		}
		found = true
		printInterface(os.Stdout, i)
	}
	if !found {
		log.Fatalf("no interface %q", *iface)
	}
}
