// Package codec implements the MODE/TYPE/STRU data-representation
// pipeline: three independently-settable transforms stacked over the
// data connection's byte stream.
package codec

import "io"

// Pipeline is the composed MODE->TYPE->STRU transform the data
// connection applies to every byte it moves, armed by the session's most
// recent MODE, TYPE and STRU commands. Grounded on
// original_source's DataNetworkHandler.setCorrectCodec, which re-derives
// the channel's codec stack from the session's current mode/type/struct
// settings every time one of those three commands succeeds.
//
// Pipeline is a plain value, reset wholesale by the session rather than
// mutated field-by-field in place -- see SPEC_FULL's note on treating the
// codec stack as a value.
type Pipeline struct {
	mode  ModeCodec
	typ   TypeCodec
	stru  StruCodec
	ready bool
}

// NewPipeline builds a Pipeline already armed with the given settings.
// The zero Pipeline is intentionally not ready: Ready() reports false
// until Reset has been called at least once, matching the FTP default
// of MODE S / TYPE A / STRU F only taking effect once a connection
// actually exists to carry data.
func NewPipeline() Pipeline {
	return Pipeline{
		mode: NewModeCodec(ModeStream),
		typ:  NewTypeCodec(TypeASCII),
		stru: NewStruCodec(StructureFile),
	}
}

// Reset re-arms the pipeline from the session's current MODE/TYPE/STRU
// settings. Called after every successful MODE, TYPE or STRU command,
// and once more immediately before a transfer begins.
func (p *Pipeline) Reset(mode Mode, typ Type, stru Structure) {
	p.mode = NewModeCodec(mode)
	p.typ = NewTypeCodec(typ)
	p.stru = NewStruCodec(stru)
	p.ready = true
}

// Ready reports whether Reset has been called since the pipeline was
// constructed (or since the last ResetToDefault).
func (p *Pipeline) Ready() bool { return p.ready }

func (p *Pipeline) Mode() Mode           { return p.mode.Mode() }
func (p *Pipeline) Type() Type           { return p.typ.Type() }
func (p *Pipeline) Structure() Structure { return p.stru.Structure() }

// EncodeReader wraps a raw local byte source (e.g. an open file being
// sent via RETR) into the wire representation, applying TYPE, then STRU,
// then MODE in that order -- the pipeline's outbound direction. MODE
// must run last: it is the outermost transmission framing (RFC 959
// S3.4's block/compressed byte layout), and framing bytes it emits must
// never be run back through TYPE's character translation or STRU's
// record-boundary insertion, which would corrupt block headers and
// compressed control octets. Bug: an earlier version applied MODE first,
// so TYPE A / STRU R silently mangled MODE B/C framing whenever they
// were combined.
func (p *Pipeline) EncodeReader(r io.Reader) io.Reader {
	r = p.typ.EncodeReader(r)
	r = p.stru.EncodeReader(r)
	r = p.mode.EncodeReader(r)
	return r
}

// DecodeReader wraps a wire-representation byte source (e.g. bytes read
// off a STOR data connection) back into raw local bytes, applying the
// inverse order: MODE (strip transmission framing) first, then STRU,
// then TYPE last.
func (p *Pipeline) DecodeReader(r io.Reader) io.Reader {
	r = p.mode.DecodeReader(r)
	r = p.stru.DecodeReader(r)
	r = p.typ.DecodeReader(r)
	return r
}
