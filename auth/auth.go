// Package auth implements the credential-checking backend spec.md's
// command catalog drives through USER/PASS/ACCT: a pluggable
// authentication check independent of the filesystem backend that
// serves files once a session is authenticated (see package driver).
//
// Split out of gonzalop-ftp's Driver.Authenticate (which bundles
// credential checking and filesystem provisioning into one call) so
// that a deployment can swap either concern independently -- e.g. LDAP
// credentials backed by the same FSDriver, or the built-in anonymous
// backend backed by a database-backed driver.
package auth

import "errors"

// ErrDenied is returned by a Backend for any rejected credential,
// analogous to gonzalop-ftp's use of os.ErrPermission from
// Driver.Authenticate.
var ErrDenied = errors.New("auth: credentials rejected")

// Result carries what a successful check established about the
// session: whether it is allowed to mutate the filesystem, and which
// account (if any, per ACCT) is attached.
type Result struct {
	ReadOnly bool
	Account  string
}

// Backend validates USER/PASS/ACCT in the sequence spec.md's catalog
// enforces (USER then PASS, then the next command is unrestricted
// pre-login). CheckUser is consulted first and may pre-reject unknown
// users with a 530 before a password is even requested; CheckPass
// performs the actual credential check; CheckAcct validates an optional
// ACCT following a 332 Need-account reply.
type Backend interface {
	// CheckUser may reject a username outright (e.g. "root" is always
	// denied). Returning nil means "ask for a password".
	CheckUser(user, host string) error

	// CheckPass validates user/pass and returns the resulting session
	// Result, or ErrDenied (wrapped or not) on failure.
	CheckPass(user, pass, host string) (Result, error)

	// CheckAcct validates an account string submitted via ACCT. Most
	// backends that never reply 332 can implement this as a no-op.
	CheckAcct(user, acct string) error
}

// Anonymous is the default ftp/anonymous, read-only-unless-told-otherwise
// backend gonzalop-ftp's FSDriver falls back to when no authenticator is
// configured.
type Anonymous struct {
	// AllowWrite permits anonymous sessions to mutate the filesystem.
	// Default false.
	AllowWrite bool
}

func (a Anonymous) CheckUser(user, host string) error {
	if user != "ftp" && user != "anonymous" {
		return ErrDenied
	}
	return nil
}

func (a Anonymous) CheckPass(user, pass, host string) (Result, error) {
	if user != "ftp" && user != "anonymous" {
		return Result{}, ErrDenied
	}
	return Result{ReadOnly: !a.AllowWrite}, nil
}

func (a Anonymous) CheckAcct(user, acct string) error { return nil }

// StaticUser is a fixed single-user/password backend useful for tests
// and simple deployments.
type StaticUser struct {
	User     string
	Pass     string
	ReadOnly bool
}

func (s StaticUser) CheckUser(user, host string) error {
	if user != s.User {
		return ErrDenied
	}
	return nil
}

func (s StaticUser) CheckPass(user, pass, host string) (Result, error) {
	if user != s.User || pass != s.Pass {
		return Result{}, ErrDenied
	}
	return Result{ReadOnly: s.ReadOnly}, nil
}

func (s StaticUser) CheckAcct(user, acct string) error { return nil }
