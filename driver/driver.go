// Package driver isolates a session's view of the filesystem from the
// engine that drives the protocol around it, so a deployment can swap
// local disk for S3, a database, or an in-memory fixture.
//
// Adapted from gonzalop-ftp/server/driver.go's Driver/ClientContext
// split, with credential checking pulled out into package auth (see
// that package's doc comment) -- Driver here only provisions a
// FileSystem once a session has already authenticated.
package driver

import (
	"io"
	"os"
	"time"

	"github.com/ftpcore/engine/auth"
)

// Driver provisions a session-specific FileSystem once auth.Backend has
// already authenticated the user.
type Driver interface {
	// Open returns a FileSystem scoped to user's view, given the
	// auth.Result CheckPass produced. The host parameter mirrors the
	// HOST command (RFC 7151) for virtual hosting; it may be empty.
	Open(user, host string, result auth.Result) (FileSystem, error)
}

// FileSystem is a session's jailed view of the backing store. All paths
// are relative to the user's root and use forward slashes. Implementations
// must be safe for concurrent use by a single session (a session's
// control and data goroutines may call it concurrently during a
// transfer started just before ABOR arrives).
//
// Error handling mirrors gonzalop-ftp/server/driver.go: os.ErrNotExist,
// os.ErrPermission and os.ErrExist are recognized and translated to the
// matching FTP reply code by the dispatch layer.
type FileSystem interface {
	ChangeDir(path string) error
	GetWd() (string, error)
	MakeDir(path string) error
	RemoveDir(path string) error
	DeleteFile(path string) error
	Rename(fromPath, toPath string) error
	ListDir(path string) ([]os.FileInfo, error)

	// OpenFile opens a file for reading or writing. flag uses os.O_*
	// constants.
	OpenFile(path string, flag int) (io.ReadWriteCloser, error)

	GetFileInfo(path string) (os.FileInfo, error)

	// GetHash computes a file's digest. Supported algorithms:
	// "SHA-256", "SHA-512", "SHA-1", "MD5", "CRC32".
	GetHash(path string, algo string) (string, error)

	// SetTime sets a file's modification time (MFMT).
	SetTime(path string, t time.Time) error

	// Chmod changes a file's mode (SITE CHMOD).
	Chmod(path string, mode os.FileMode) error

	// Close releases resources held for this session (e.g. an os.Root
	// handle). Called once when the client disconnects.
	Close() error

	// Settings returns passive-mode/advertising configuration for this
	// session. May return a zero Settings if nothing special applies.
	Settings() Settings
}

// Settings carries deployment-wide configuration a FileSystem
// implementation may want to expose to the engine, e.g. for PASV
// address advertising. Kept from gonzalop-ftp/server/driver.go's
// Settings verbatim in shape.
type Settings struct {
	// PublicHost is the address advertised in PASV/EPSV replies. If a
	// hostname, it is resolved once to its first IPv4 address. Empty
	// means "use the control connection's local address".
	PublicHost string

	// PasvMinPort/PasvMaxPort bound the passive data port range. Zero
	// on either means "let the OS choose".
	PasvMinPort int
	PasvMaxPort int
}
