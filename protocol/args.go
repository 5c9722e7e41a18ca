package protocol

import (
	"fmt"

	"deedles.dev/gpudisplay/wire"
)

// ReadArgs decodes the arguments of msg according to op's signature.
// Values are returned as uint32 for uint, object and typed new_id
// arguments, int32 for int, wire.Fixed, string, []byte for array,
// wire.NewID for untyped new_id and *os.File for fd.
func ReadArgs(msg *wire.MessageBuffer, op Op) ([]any, error) {
	args := make([]any, 0, len(op.Args))
	for _, arg := range op.Args {
		var v any
		switch arg.Type {
		case "uint", "object":
			v = msg.ReadUint()
		case "int":
			v = msg.ReadInt()
		case "fixed":
			v = msg.ReadFixed()
		case "string":
			v = msg.ReadString()
		case "array":
			v = msg.ReadArray()
		case "fd":
			v = msg.ReadFile()
		case "new_id":
			if arg.Interface == "" {
				v = msg.ReadNewID()
				break
			}
			v = msg.ReadUint()
		default:
			return args, fmt.Errorf("argument %v: unknown type %q", arg.Name, arg.Type)
		}
		if err := msg.Err(); err != nil {
			return args, fmt.Errorf("argument %v: %w", arg.Name, err)
		}
		args = append(args, v)
	}
	return args, nil
}
