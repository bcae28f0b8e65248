package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return b
}

func TestNewPipelineNotReadyUntilReset(t *testing.T) {
	p := NewPipeline()
	assert.False(t, p.Ready())
	p.Reset(ModeStream, TypeImage, StructureFile)
	assert.True(t, p.Ready())
	assert.Equal(t, ModeStream, p.Mode())
	assert.Equal(t, TypeImage, p.Type())
	assert.Equal(t, StructureFile, p.Structure())
}

func TestPipelineImageModeIsPassThrough(t *testing.T) {
	var p Pipeline
	p.Reset(ModeStream, TypeImage, StructureFile)

	src := []byte("arbitrary\x00binary\x01data")
	got := readAll(t, p.EncodeReader(bytes.NewReader(src)))
	assert.Equal(t, src, got)

	got = readAll(t, p.DecodeReader(bytes.NewReader(src)))
	assert.Equal(t, src, got)
}

func TestPipelineASCIIEncodeConvertsLFToCRLF(t *testing.T) {
	var p Pipeline
	p.Reset(ModeStream, TypeASCII, StructureFile)

	src := []byte("line one\nline two\nline three")
	got := readAll(t, p.EncodeReader(bytes.NewReader(src)))
	assert.Equal(t, "line one\r\nline two\r\nline three", string(got))
}

func TestPipelineASCIIDecodeConvertsCRLFToLF(t *testing.T) {
	var p Pipeline
	p.Reset(ModeStream, TypeASCII, StructureFile)

	src := []byte("line one\r\nline two\r\nline three")
	got := readAll(t, p.DecodeReader(bytes.NewReader(src)))
	assert.Equal(t, "line one\nline two\nline three", string(got))
}

func TestPipelineASCIIRoundTrip(t *testing.T) {
	var p Pipeline
	p.Reset(ModeStream, TypeASCII, StructureFile)

	src := []byte("a\nb\nc\n")
	wire := readAll(t, p.EncodeReader(bytes.NewReader(src)))
	back := readAll(t, p.DecodeReader(bytes.NewReader(wire)))
	assert.Equal(t, src, back)
}

func TestEBCDICTableRoundTrip(t *testing.T) {
	typ := NewTypeCodec(TypeEBCDIC)
	src := []byte("HELLO WORLD 123")

	wire := readAll(t, typ.EncodeReader(bytes.NewReader(src)))
	back := readAll(t, typ.DecodeReader(bytes.NewReader(wire)))
	assert.Equal(t, src, back)
	assert.NotEqual(t, src, wire, "EBCDIC-encoded bytes should differ from ASCII source")
}

// TestPipelineModeFramingSurvivesTypeAndStructure covers every
// MODE x TYPE x STRU combination that previously corrupted MODE's framing:
// TYPE A's CRLF rewriting and STRU R's 0xFF escaping must never see the
// Block header bytes or the Compressed control octets, which only holds
// if MODE is the outermost stage (applied last on encode, first on
// decode). Round-tripping each combination back to the original source
// bytes is what would fail under the old MODE-innermost ordering.
func TestPipelineModeFramingSurvivesTypeAndStructure(t *testing.T) {
	src := []byte("line one\nline two\nline three\n\xff more bytes \xff\n")

	cases := []struct {
		name string
		mode Mode
		typ  Type
		stru Structure
	}{
		{"BlockASCIIFile", ModeBlock, TypeASCII, StructureFile},
		{"BlockASCIIRecord", ModeBlock, TypeASCII, StructureRecord},
		{"BlockImageRecord", ModeBlock, TypeImage, StructureRecord},
		{"CompressedASCIIFile", ModeCompressed, TypeASCII, StructureFile},
		{"CompressedASCIIRecord", ModeCompressed, TypeASCII, StructureRecord},
		{"CompressedImageRecord", ModeCompressed, TypeImage, StructureRecord},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p Pipeline
			p.Reset(tc.mode, tc.typ, tc.stru)

			wire := readAll(t, p.EncodeReader(bytes.NewReader(src)))

			var q Pipeline
			q.Reset(tc.mode, tc.typ, tc.stru)
			back := readAll(t, q.DecodeReader(bytes.NewReader(wire)))

			assert.Equal(t, src, back, "round trip through MODE %s / TYPE %s / STRU %s", tc.mode, tc.typ, tc.stru)
		})
	}
}
