package codec

import "io"

// Type identifies the representation type set by the TYPE command
// (RFC 959 S3.1.1).
type Type int

const (
	TypeImage Type = iota // TYPE I, the default: no transformation.
	TypeASCII             // TYPE A: network-standard CRLF line endings.
	TypeEBCDIC            // TYPE E: EBCDIC code page, NL-terminated lines.
	TypeLocal             // TYPE L <n>: local byte-size grouping; treated as Image.
)

func (t Type) String() string {
	switch t {
	case TypeImage:
		return "I"
	case TypeASCII:
		return "A"
	case TypeEBCDIC:
		return "E"
	case TypeLocal:
		return "L"
	default:
		return "?"
	}
}

// ebcdicReader/ebcdicWriter translate a byte stream through the EBCDIC
// code page table. Unlike asciiReader/asciiWriter (which must track
// CRLF-splitting across Read boundaries) a straight byte-substitution
// codec can be expressed as a single pass through io.Reader, so these
// are far simpler than their ASCII counterparts.
type tableReader struct {
	r     io.Reader
	table *[256]byte
}

func (tr *tableReader) Read(p []byte) (int, error) {
	n, err := tr.r.Read(p)
	for i := 0; i < n; i++ {
		p[i] = tr.table[p[i]]
	}
	return n, err
}

// TypeCodec applies the representation-type transform to a byte stream,
// the innermost stage of the pipeline's TYPE->STRU->MODE outbound order
// (spec.md #4.3) -- it runs first, directly against raw local bytes,
// before STRU imposes record boundaries or MODE frames the result for
// transmission. ASCII is adapted nearly verbatim from
// gonzalop-ftp/server/ascii.go; EBCDIC is new (see ebcdic.go); Image and
// Local are pass-through, matching gonzalop-ftp's handleType which only
// ever toggles between a no-op and the ASCII wrapper.
type TypeCodec struct {
	typ Type
}

// NewTypeCodec builds a TypeCodec for the given representation type.
func NewTypeCodec(t Type) TypeCodec {
	return TypeCodec{typ: t}
}

// Type returns the representation type this codec was armed with.
func (c TypeCodec) Type() Type { return c.typ }

// EncodeReader wraps r for the outbound (server-to-client) direction:
// local/native bytes in, wire-representation bytes out.
func (c TypeCodec) EncodeReader(r io.Reader) io.Reader {
	switch c.typ {
	case TypeASCII:
		return newASCIIReader(r)
	case TypeEBCDIC:
		return &tableReader{r: r, table: &asciiToEBCDICTable}
	default:
		return r
	}
}

// DecodeReader wraps r for the inbound (client-to-server) direction:
// wire-representation bytes in, local/native bytes out.
func (c TypeCodec) DecodeReader(r io.Reader) io.Reader {
	switch c.typ {
	case TypeASCII:
		return newASCIIWriter(r)
	case TypeEBCDIC:
		return &tableReader{r: r, table: &ebcdicToASCIITable}
	default:
		return r
	}
}
