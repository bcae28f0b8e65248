package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ftpcore/engine/driver"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	fsDriver, err := driver.NewFSDriver(t.TempDir(), driver.Settings{})
	require.NoError(t, err)
	e, err := New("127.0.0.1:0", append([]Option{WithDriver(fsDriver)}, opts...)...)
	require.NoError(t, err)
	return e
}

func TestRedactIPDisabledByDefault(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, "192.168.1.100", e.RedactIP("192.168.1.100"))
}

func TestRedactIPMasksTrailingIPv4Segment(t *testing.T) {
	e := newTestEngine(t, WithRedactIPs(true))
	assert.Equal(t, "192.168.1.xxx", e.RedactIP("192.168.1.100"))
}

func TestRedactIPMasksTrailingIPv6Segment(t *testing.T) {
	e := newTestEngine(t, WithRedactIPs(true))
	assert.Equal(t, "2001:db8::xxx", e.RedactIP("2001:db8::1"))
	assert.Equal(t, "2001:0db8:85a3:0000:0000:8a2e:0370:xxx", e.RedactIP("2001:0db8:85a3:0000:0000:8a2e:0370:7334"))
}

func TestRedactIPEmptyAndNoSeparatorAreUnchanged(t *testing.T) {
	e := newTestEngine(t, WithRedactIPs(true))
	assert.Equal(t, "", e.RedactIP(""))
	assert.Equal(t, "localhost", e.RedactIP("localhost"))
}

func TestRedactPathPassthroughWithoutRedactor(t *testing.T) {
	e := newTestEngine(t)
	assert.Equal(t, "/home/alice/secret.txt", e.RedactPath("/home/alice/secret.txt"))
}

func TestRedactPathUsesInstalledRedactor(t *testing.T) {
	e := newTestEngine(t, WithPathRedactor(func(path string) string {
		return "<redacted>"
	}))
	assert.Equal(t, "<redacted>", e.RedactPath("/home/alice/secret.txt"))
}

func TestEnableDirMessageDefaultsFalse(t *testing.T) {
	e := newTestEngine(t)
	assert.False(t, e.EnableDirMessage())
	e2 := newTestEngine(t, WithDirMessage(true))
	assert.True(t, e2.EnableDirMessage())
}
