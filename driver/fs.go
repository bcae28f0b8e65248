package driver

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ftpcore/engine/auth"
)

// FSDriver implements Driver over the local filesystem, jailing every
// session within a root directory via os.Root (Go 1.24+). Adapted from
// gonzalop-ftp/server/driver_fs.go's FSDriver/fsContext, with the
// authentication half of that type (the authenticator hook and the
// anonymous-login default) removed: credential decisions now live in
// package auth, and Open here receives an already-validated auth.Result.
type FSDriver struct {
	rootPath string

	// PathForUser, if set, computes a per-user root subdirectory
	// (e.g. home-directory-per-user layouts) relative to rootPath.
	// Returning "" roots the user at rootPath itself.
	PathForUser func(user string) (string, error)

	settings Settings
}

// NewFSDriver validates rootPath and returns an FSDriver rooted there.
func NewFSDriver(rootPath string, settings Settings) (*FSDriver, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("driver: root path validation failed: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("driver: root path is not a directory: %s", rootPath)
	}
	rootPath, err = filepath.EvalSymlinks(rootPath)
	if err != nil {
		return nil, fmt.Errorf("driver: failed to resolve root path: %w", err)
	}
	return &FSDriver{rootPath: rootPath, settings: settings}, nil
}

// Open provisions an fsContext rooted at d.rootPath (or a per-user
// subdirectory of it, via PathForUser). result.ReadOnly gates every
// mutating operation on the returned FileSystem.
func (d *FSDriver) Open(user, host string, result auth.Result) (FileSystem, error) {
	root := d.rootPath
	if d.PathForUser != nil {
		sub, err := d.PathForUser(user)
		if err != nil {
			return nil, err
		}
		if sub != "" {
			root = filepath.Join(d.rootPath, sub)
		}
	}

	rootHandle, err := os.OpenRoot(root)
	if err != nil {
		return nil, err
	}

	return &fsContext{
		rootHandle: rootHandle,
		rootPath:   root,
		cwd:        "/",
		readOnly:   result.ReadOnly,
		settings:   d.settings,
	}, nil
}

// fsContext implements FileSystem for the local filesystem, tracking a
// virtual current working directory and jailing every operation within
// rootHandle. Kept essentially as gonzalop-ftp/server/driver_fs.go's
// fsContext, renamed to this module's interfaces.
type fsContext struct {
	rootHandle *os.Root
	rootPath   string
	cwd        string
	readOnly   bool
	settings   Settings
}

func (c *fsContext) Close() error {
	return c.rootHandle.Close()
}

func (c *fsContext) resolve(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = filepath.Join(c.cwd, path)
	}
	path = filepath.Clean(path)
	if !strings.HasPrefix(path, "/") {
		return "", errors.New("invalid path")
	}
	rel := strings.TrimPrefix(path, "/")
	if rel == "" {
		rel = "."
	}
	return rel, nil
}

func (c *fsContext) ChangeDir(path string) error {
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	info, err := c.rootHandle.Stat(rel)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("not a directory")
	}
	if !strings.HasPrefix(path, "/") {
		path = filepath.Join(c.cwd, path)
	}
	c.cwd = filepath.Clean(path)
	if !strings.HasPrefix(c.cwd, "/") {
		c.cwd = "/" + c.cwd
	}
	return nil
}

func (c *fsContext) GetWd() (string, error) {
	return c.cwd, nil
}

func (c *fsContext) MakeDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return c.rootHandle.Mkdir(rel, 0755)
}

func (c *fsContext) RemoveDir(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return c.rootHandle.Remove(rel)
}

func (c *fsContext) DeleteFile(path string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	return c.rootHandle.Remove(rel)
}

func (c *fsContext) Rename(fromPath, toPath string) error {
	if c.readOnly {
		return os.ErrPermission
	}
	srcRel, err := c.resolve(fromPath)
	if err != nil {
		return err
	}
	dstRel, err := c.resolve(toPath)
	if err != nil {
		return err
	}

	srcFull := filepath.Join(c.rootPath, srcRel)
	dstFull := filepath.Join(c.rootPath, dstRel)

	realSrc, err := filepath.EvalSymlinks(srcFull)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("failed to resolve source path")
	}
	if !strings.HasPrefix(realSrc, c.rootPath) {
		return os.ErrPermission
	}

	dstParent := filepath.Dir(dstFull)
	realDstParent, err := filepath.EvalSymlinks(dstParent)
	if err == nil {
		if !strings.HasPrefix(realDstParent, c.rootPath) {
			return os.ErrPermission
		}
	} else if !os.IsNotExist(err) {
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("failed to resolve destination path")
	}

	if err := os.Rename(srcFull, dstFull); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("rename failed")
	}
	return nil
}

func (c *fsContext) ListDir(path string) ([]os.FileInfo, error) {
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	f, err := c.rootHandle.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if info, err := entry.Info(); err == nil {
			infos = append(infos, info)
		}
	}
	return infos, nil
}

func (c *fsContext) OpenFile(path string, flag int) (io.ReadWriteCloser, error) {
	if c.readOnly {
		if flag&os.O_WRONLY != 0 || flag&os.O_RDWR != 0 || flag&os.O_CREATE != 0 || flag&os.O_TRUNC != 0 || flag&os.O_APPEND != 0 {
			return nil, os.ErrPermission
		}
	}
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.rootHandle.OpenFile(rel, flag, 0644)
}

func (c *fsContext) GetFileInfo(path string) (os.FileInfo, error) {
	rel, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	return c.rootHandle.Stat(rel)
}

func (c *fsContext) GetHash(path string, algo string) (string, error) {
	rel, err := c.resolve(path)
	if err != nil {
		return "", err
	}
	f, err := c.rootHandle.Open(rel)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var h interface {
		io.Writer
		Sum(b []byte) []byte
	}
	switch strings.ToUpper(algo) {
	case "SHA-256", "SHA256":
		h = sha256.New()
	case "SHA-512", "SHA512":
		h = sha512.New()
	case "SHA-1", "SHA1":
		h = sha1.New()
	case "MD5":
		h = md5.New()
	case "CRC32":
		h = crc32.NewIEEE()
	default:
		return "", errors.New("unsupported algorithm")
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *fsContext) SetTime(path string, t time.Time) error {
	if c.readOnly {
		return os.ErrPermission
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	fullPath := filepath.Join(c.rootPath, rel)
	realPath, err := filepath.EvalSymlinks(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("failed to resolve path")
	}
	if !strings.HasPrefix(realPath, c.rootPath) {
		return os.ErrPermission
	}
	if err := os.Chtimes(fullPath, t, t); err != nil {
		if os.IsNotExist(err) {
			return os.ErrNotExist
		}
		if os.IsPermission(err) {
			return os.ErrPermission
		}
		return errors.New("failed to set time")
	}
	return nil
}

func (c *fsContext) Chmod(path string, mode os.FileMode) error {
	if c.readOnly {
		return os.ErrPermission
	}
	if mode > 0777 {
		return os.ErrInvalid
	}
	rel, err := c.resolve(path)
	if err != nil {
		return err
	}
	f, err := c.rootHandle.OpenFile(rel, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Chmod(mode)
}

func (c *fsContext) Settings() Settings {
	return c.settings
}
