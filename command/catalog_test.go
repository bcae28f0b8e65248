package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		line    string
		wantErr int // 0 means no error
		code    Code
		arg     string
	}{
		{name: "simple no-arg", line: "NOOP\r\n", code: NOOP},
		{name: "verb lower-cased", line: "noop\r\n", code: NOOP},
		{name: "required arg present", line: "USER anonymous\r\n", code: USER, arg: "anonymous"},
		{name: "required arg missing", line: "USER\r\n", wantErr: 501},
		{name: "unknown verb", line: "FROB\r\n", wantErr: 500},
		{name: "blank line", line: "\r\n", wantErr: 500},
		{name: "optional arg absent is fine", line: "STAT\r\n", code: STAT},
		{name: "argument trimmed", line: "CWD   /pub  \r\n", code: CWD, arg: "/pub"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l, err := Parse(tc.line)
			if tc.wantErr != 0 {
				require.Error(t, err)
				perr, ok := err.(*ParseError)
				require.True(t, ok)
				assert.Equal(t, tc.wantErr, perr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.code, l.Code)
			assert.Equal(t, tc.arg, l.Arg)
		})
	}
}

func TestAdmissible(t *testing.T) {
	cases := []struct {
		name             string
		prev, next, xnxt Code
		want             bool
	}{
		{name: "special always wins", prev: RETR, next: QUIT, want: true},
		{name: "special wins even mid-restricted-table", prev: PASV, next: ABOR, want: true},
		{name: "extraNext override", prev: RNFR, next: RNTO, xnxt: RNTO, want: true},
		{name: "extraNext mismatch falls through to table", prev: RNFR, next: DELE, xnxt: RNTO, want: false},
		{name: "unrestricted prev (empty table) allows anything", prev: MODE, next: DELE, want: true},
		{name: "table membership satisfied", prev: PASV, next: RETR, want: true},
		{name: "table membership violated", prev: PASV, next: DELE, want: false},
		{name: "PORT allows STOR", prev: PORT, next: STOR, want: true},
		{name: "USER restricts to PASS/USER/QUIT", prev: USER, next: PASS, want: true},
		{name: "USER rejects unrelated verb", prev: USER, next: CWD, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Admissible(tc.prev, tc.next, tc.xnxt))
		})
	}
}

func TestRequiresAuth(t *testing.T) {
	assert.False(t, RequiresAuth(USER))
	assert.False(t, RequiresAuth(PASS))
	assert.False(t, RequiresAuth(AUTH))
	assert.True(t, RequiresAuth(RETR))
	assert.True(t, RequiresAuth(STOR))
}

func TestCodeByNameRoundTrip(t *testing.T) {
	for code, name := range names {
		got, ok := CodeByName(name)
		require.True(t, ok, "name %q should resolve", name)
		assert.Equal(t, code, got)
		assert.Equal(t, name, code.String())
	}
}

func TestArgShapeOfDefaultsToOptional(t *testing.T) {
	assert.Equal(t, ArgOptional, ArgShapeOf(Code(9999)))
}
