package codec

import (
	"bufio"
	"io"
)

// Structure identifies the file structure set by the STRU command
// (RFC 959 S3.1.2).
type Structure int

const (
	StructureFile Structure = iota // STRU F, the default: no record boundaries.
	StructureRecord                // STRU R: records delimited in Stream mode per S3.4.1.
	StructurePage                  // STRU P: paged structure; treated as opaque Image data.
)

func (s Structure) String() string {
	switch s {
	case StructureFile:
		return "F"
	case StructureRecord:
		return "R"
	case StructurePage:
		return "P"
	default:
		return "?"
	}
}

// RFC 959 S3.4.1: in Stream mode with Record structure, a literal 0xFF
// byte is escaped as 0xFF 0xFF, and a record boundary is marked 0xFF 0x01.
const (
	streamEscape     byte = 0xFF
	streamEOR        byte = 0x01
	streamEscapedLit byte = 0xFF
)

// recordStreamWriter marks record boundaries with the RFC 959 S3.4.1
// escape convention. Only meaningful when paired with Stream mode;
// gonzalop-ftp has no STRU R support at all (handleStru only accepts
// "F"), so this is written fresh against the RFC.
type recordStreamWriter struct {
	w io.Writer
}

func newRecordStreamWriter(w io.Writer) *recordStreamWriter {
	return &recordStreamWriter{w: w}
}

func (rw *recordStreamWriter) Write(p []byte) (int, error) {
	written := 0
	start := 0
	for i, b := range p {
		if b == streamEscape {
			if _, err := rw.w.Write(p[start:i]); err != nil {
				return written, err
			}
			written += i - start
			if _, err := rw.w.Write([]byte{streamEscape, streamEscapedLit}); err != nil {
				return written, err
			}
			written++
			start = i + 1
		}
	}
	if start < len(p) {
		n, err := rw.w.Write(p[start:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return len(p), nil
}

// EndRecord emits the record-boundary marker.
func (rw *recordStreamWriter) EndRecord() error {
	_, err := rw.w.Write([]byte{streamEscape, streamEOR})
	return err
}

// recordStreamReader reverses recordStreamWriter's escaping, reporting
// record boundaries via ErrEndOfRecord.
type recordStreamReader struct {
	r *bufio.Reader
}

// ErrEndOfRecord is returned by recordStreamReader.Read in place of data
// when a record boundary marker is consumed; callers should treat it as
// a soft boundary, not a stream error, and continue reading.
var ErrEndOfRecord = recordBoundaryError{}

type recordBoundaryError struct{}

func (recordBoundaryError) Error() string { return "codec: end of record" }

func newRecordStreamReader(r io.Reader) *recordStreamReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &recordStreamReader{r: br}
}

func (rr *recordStreamReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := rr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	if b != streamEscape {
		p[0] = b
		return 1, nil
	}
	next, err := rr.r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch next {
	case streamEscapedLit:
		p[0] = streamEscape
		return 1, nil
	case streamEOR:
		return 0, ErrEndOfRecord
	default:
		p[0] = next
		return 1, nil
	}
}

// StruCodec applies the file-structure transform, the middle stage of
// the pipeline's TYPE->STRU->MODE outbound order (see Pipeline.EncodeReader
// -- STRU runs after TYPE so it structures already-translated bytes, and
// before MODE so its markers become part of what MODE frames, never the
// other way around). File structure is a pure pass-through; Record
// structure adds boundary escaping (Stream mode only, per the RFC); Page
// structure is treated as opaque Image data, matching how gonzalop-ftp's
// driver never interprets structure at all.
type StruCodec struct {
	structure Structure
}

func NewStruCodec(s Structure) StruCodec {
	return StruCodec{structure: s}
}

func (c StruCodec) Structure() Structure { return c.structure }

// EncodeWriter returns a writer that escapes literal 0xFF bytes and
// additionally exposes EndRecord for explicit record-boundary marking,
// for callers that need to mark record boundaries themselves rather than
// deriving them implicitly from a plain byte stream. Not currently
// exercised by Pipeline (which uses EncodeReader below).
func (c StruCodec) EncodeWriter(w io.Writer) io.Writer {
	if c.structure == StructureRecord {
		return newRecordStreamWriter(w)
	}
	return w
}

// EncodeReader escapes literal 0xFF bytes for the generic byte-stream
// path (Pipeline), without emitting record-boundary markers -- callers
// needing explicit boundaries should use EncodeWriter's EndRecord
// instead.
func (c StruCodec) EncodeReader(r io.Reader) io.Reader {
	if c.structure == StructureRecord {
		return newRecordEncodeReader(r)
	}
	return r
}

type recordEncodeReader struct {
	r   *bufio.Reader
	out []byte
}

func newRecordEncodeReader(r io.Reader) *recordEncodeReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &recordEncodeReader{r: br}
}

func (re *recordEncodeReader) Read(p []byte) (int, error) {
	for len(re.out) == 0 {
		b, err := re.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == streamEscape {
			re.out = append(re.out, streamEscape, streamEscapedLit)
		} else {
			re.out = append(re.out, b)
		}
	}
	n := copy(p, re.out)
	re.out = re.out[n:]
	return n, nil
}

func (c StruCodec) DecodeReader(r io.Reader) io.Reader {
	if c.structure == StructureRecord {
		return newRecordStreamReader(r)
	}
	return r
}
