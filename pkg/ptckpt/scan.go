package ptckpt

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Argument layout of each pickle opcode
type argKind int

const (
	argNone    argKind = iota
	argFixed           // fixed number of bytes
	argLen             // little endian length of 'size' bytes, then data
	argLine            // newline terminated text
	argTwoLine         // two newline terminated lines (GLOBAL, INST)
)

type opArg struct {
	kind argKind
	size int
}

var opArgs = map[byte]opArg{
	// protocol 0 and 1
	'(': {argNone, 0}, '.': {argNone, 0}, '0': {argNone, 0}, '1': {argNone, 0}, '2': {argNone, 0},
	'N': {argNone, 0}, 'R': {argNone, 0}, 'b': {argNone, 0}, 'a': {argNone, 0}, 'e': {argNone, 0},
	'l': {argNone, 0}, ']': {argNone, 0}, 'd': {argNone, 0}, '}': {argNone, 0}, 's': {argNone, 0},
	'u': {argNone, 0}, 't': {argNone, 0}, ')': {argNone, 0}, 'o': {argNone, 0}, 'Q': {argNone, 0},
	'I': {argLine, 0}, 'L': {argLine, 0}, 'F': {argLine, 0}, 'S': {argLine, 0}, 'V': {argLine, 0},
	'P': {argLine, 0}, 'g': {argLine, 0}, 'p': {argLine, 0},
	'c': {argTwoLine, 0}, 'i': {argTwoLine, 0},
	'K': {argFixed, 1}, 'h': {argFixed, 1}, 'q': {argFixed, 1},
	'M': {argFixed, 2},
	'J': {argFixed, 4}, 'j': {argFixed, 4}, 'r': {argFixed, 4},
	'G': {argFixed, 8},
	'U': {argLen, 1}, 'T': {argLen, 4}, 'X': {argLen, 4},
	// protocol 2
	0x80: {argFixed, 1}, 0x81: {argNone, 0}, 0x82: {argFixed, 1}, 0x83: {argFixed, 2}, 0x84: {argFixed, 4},
	0x85: {argNone, 0}, 0x86: {argNone, 0}, 0x87: {argNone, 0}, 0x88: {argNone, 0}, 0x89: {argNone, 0},
	0x8a: {argLen, 1}, 0x8b: {argLen, 4},
	// protocol 3
	'B': {argLen, 4}, 'C': {argLen, 1},
	// protocol 4
	0x8c: {argLen, 1}, 0x8d: {argLen, 8}, 0x8e: {argLen, 8}, 0x8f: {argNone, 0}, 0x90: {argNone, 0},
	0x91: {argNone, 0}, 0x92: {argNone, 0}, 0x93: {argNone, 0}, 0x94: {argNone, 0}, 0x95: {argLen, 8},
	// protocol 5
	0x96: {argLen, 8}, 0x97: {argNone, 0}, 0x98: {argNone, 0},
}

// checkPickle walks the opcodes of a pickle without executing them, and rejects any
// length field that reaches past the end of the stream. The unpickler allocates the
// declared length before reading, so this keeps a small file from demanding gigabytes.
func checkPickle(pkl []byte) error {
	pos := 0
	for pos < len(pkl) {
		op := pkl[pos]
		at := pos
		pos++
		arg, ok := opArgs[op]
		if !ok {
			return fmt.Errorf("Unknown pickle opcode 0x%02x at offset %v", op, at)
		}
		remain := uint64(len(pkl) - pos)
		var n uint64
		switch arg.kind {
		case argNone:
		case argFixed:
			n = uint64(arg.size)
		case argLen:
			width := arg.size
			if remain < uint64(width) {
				return fmt.Errorf("Pickle is truncated at offset %v", at)
			}
			switch width {
			case 1:
				n = uint64(pkl[pos])
			case 4:
				n = uint64(binary.LittleEndian.Uint32(pkl[pos:]))
			case 8:
				n = binary.LittleEndian.Uint64(pkl[pos:])
			}
			pos += width
			remain -= uint64(width)
		case argLine, argTwoLine:
			lines := 1
			if arg.kind == argTwoLine {
				lines = 2
			}
			for i := 0; i < lines; i++ {
				nl := bytes.IndexByte(pkl[pos:], '\n')
				if nl < 0 {
					return fmt.Errorf("Pickle is truncated at offset %v", at)
				}
				pos += nl + 1
			}
			continue
		}
		if n > remain {
			return fmt.Errorf("Pickle opcode 0x%02x at offset %v declares %v bytes, but only %v remain", op, at, n, remain)
		}
		// A frame's payload is itself a run of opcodes
		if op != 0x95 {
			pos += int(n)
		}
		if op == '.' {
			return nil
		}
	}
	return fmt.Errorf("Pickle has no STOP opcode")
}
