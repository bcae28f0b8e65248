package dispatch

import (
	"bufio"
	"io"
)

// Telnet IAC negotiation bytes a raw control connection may carry
// (some clients still wrap FTP in a telnet-ish framing per RFC 959's
// historical lineage). Kept from gonzalop-ftp/server/telnet.go.
const (
	telnetIAC  = 0xFF
	telnetWILL = 0xFB
	telnetWONT = 0xFC
	telnetDO   = 0xFD
	telnetDONT = 0xFE
)

// telnetReader filters IAC negotiation sequences out of the control
// stream before command parsing ever sees it. Kept nearly verbatim from
// gonzalop-ftp/server/telnet.go, with a Reset method added so it can be
// sync.Pool-recycled across sessions (see session.go's readerPool).
type telnetReader struct {
	reader *bufio.Reader
}

func newTelnetReader(r io.Reader) *telnetReader {
	return &telnetReader{reader: bufio.NewReader(r)}
}

// Reset rebinds the telnetReader to a new source, for pool reuse.
func (t *telnetReader) Reset(r io.Reader) {
	if r == nil {
		t.reader.Reset(discard{})
		return
	}
	t.reader.Reset(r)
}

type discard struct{}

func (discard) Read(p []byte) (int, error) { return 0, io.EOF }

func (t *telnetReader) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		if n > 0 && t.reader.Buffered() == 0 {
			return n, nil
		}

		b, err := t.reader.ReadByte()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return n, err
		}

		if b == telnetIAC {
			next, err := t.reader.ReadByte()
			if err != nil {
				return n, err
			}

			if next == telnetIAC {
				p[n] = telnetIAC
				n++
				continue
			}

			switch next {
			case telnetWILL, telnetWONT, telnetDO, telnetDONT:
				if _, err := t.reader.ReadByte(); err != nil {
					return n, err
				}
			default:
			}
			continue
		}

		p[n] = b
		n++
	}

	return n, nil
}
