package codec

import (
	"bufio"
	"bytes"
	"io"
)

// asciiReader wraps an io.Reader and converts LF to CRLF on the fly, for
// the outbound (server-to-client, e.g. RETR) direction of TYPE A.
//
// Kept nearly verbatim from gonzalop-ftp/server/ascii.go's asciiReader --
// it is already a clean, allocation-light streaming CRLF translator and
// TypeCodec.EncodeReader below is exactly the seam spec.md #4.3 describes
// for the TYPE stage of the pipeline.
type asciiReader struct {
	r         *bufio.Reader
	prevWasCR bool
	pending   byte
	hasPending bool
}

func newASCIIReader(r io.Reader) *asciiReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &asciiReader{r: br}
}

func (r *asciiReader) fill() ([]byte, error) {
	peeked, _ := r.r.Peek(r.r.Buffered())
	if len(peeked) > 0 {
		return peeked, nil
	}
	_, err := r.r.ReadByte()
	if err != nil {
		return nil, err
	}
	_ = r.r.UnreadByte()
	peeked, _ = r.r.Peek(r.r.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

func (r *asciiReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	n := 0

	if r.hasPending {
		p[n] = r.pending
		n++
		r.hasPending = false
		r.pending = 0
	}

	for n < len(p) {
		peeked, err := r.fill()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\n')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.r.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			r.prevWasCR = peeked[toCopy-1] == '\r'
			_, _ = r.r.Discard(toCopy)
			n += toCopy
		}

		if n >= len(p) {
			return n, nil
		}

		if r.prevWasCR {
			p[n] = '\n'
			n++
			_, _ = r.r.Discard(1)
			r.prevWasCR = false
			continue
		}

		p[n] = '\r'
		n++
		r.prevWasCR = true
		if n < len(p) {
			p[n] = '\n'
			n++
			_, _ = r.r.Discard(1)
			r.prevWasCR = false
		} else {
			r.pending = '\n'
			r.hasPending = true
			_, _ = r.r.Discard(1)
			return n, nil
		}
	}

	return n, nil
}

// asciiWriter translates CRLF to LF, for the inbound (client-to-server,
// e.g. STOR) direction of TYPE A. Kept from gonzalop-ftp/server/ascii.go's
// asciiWriter.
type asciiWriter struct {
	r *bufio.Reader
}

func newASCIIWriter(r io.Reader) *asciiWriter {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &asciiWriter{r: br}
}

func (aw *asciiWriter) fill() ([]byte, error) {
	peeked, _ := aw.r.Peek(aw.r.Buffered())
	if len(peeked) > 0 {
		return peeked, nil
	}
	_, err := aw.r.ReadByte()
	if err != nil {
		return nil, err
	}
	_ = aw.r.UnreadByte()
	peeked, _ = aw.r.Peek(aw.r.Buffered())
	if len(peeked) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return peeked, nil
}

func (aw *asciiWriter) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	for n < len(p) {
		peeked, err := aw.fill()
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}

		idx := bytes.IndexByte(peeked, '\r')
		if idx == -1 {
			toCopy := len(peeked)
			if n+toCopy > len(p) {
				toCopy = len(p) - n
			}
			copy(p[n:], peeked[:toCopy])
			_, _ = aw.r.Discard(toCopy)
			n += toCopy
			continue
		}

		toCopy := idx
		if n+toCopy > len(p) {
			toCopy = len(p) - n
		}
		if toCopy > 0 {
			copy(p[n:], peeked[:toCopy])
			_, _ = aw.r.Discard(toCopy)
			n += toCopy
		}

		if n >= len(p) {
			return n, nil
		}

		peeked, _ = aw.r.Peek(2)
		switch {
		case len(peeked) >= 2 && peeked[1] == '\n':
			_, _ = aw.r.Discard(1)
		case len(peeked) == 1:
			return n, nil
		default:
			p[n] = '\r'
			n++
			_, _ = aw.r.Discard(1)
		}
	}

	return n, nil
}
