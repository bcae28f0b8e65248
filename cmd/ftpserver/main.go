// Command ftpserver runs the FTP engine against a local directory.
// Grounded on gonzalop-ftp/examples/server/main.go, generalized to wire
// the auth/driver split and the tint-colored logger
// _examples/isaacwein-ftpserver/example/main.go sets up.
package main

import (
	"crypto/tls"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"

	"github.com/ftpcore/engine/auth"
	"github.com/ftpcore/engine/driver"
	"github.com/ftpcore/engine/engine"
)

func main() {
	addr := flag.String("addr", ":2121", "address to listen on")
	root := flag.String("root", "", "root directory to serve (defaults to a temp dir)")
	user := flag.String("user", "user", "static username, in addition to anonymous read-only access")
	pass := flag.String("pass", "pass", "static user's password")
	certFile := flag.String("cert", "", "TLS certificate file, enables AUTH TLS/implicit FTPS when set with -key")
	keyFile := flag.String("key", "", "TLS private key file")
	maxConns := flag.Int("max-conns", 0, "maximum simultaneous connections (0 = unlimited)")
	maxConnsPerIP := flag.Int("max-conns-per-ip", 0, "maximum simultaneous connections per IP (0 = unlimited)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
	slog.SetDefault(logger)

	rootPath := *root
	if rootPath == "" {
		rootPath = filepath.Join(os.TempDir(), "ftpcore-engine")
		if err := os.MkdirAll(rootPath, 0755); err != nil {
			log.Fatalf("create root directory: %v", err)
		}
		_ = os.WriteFile(filepath.Join(rootPath, "hello.txt"), []byte("Hello, FTP World!\n"), 0644)
	}
	logger.Info("serving files", "root", rootPath)

	fsDriver, err := driver.NewFSDriver(rootPath, driver.Settings{})
	if err != nil {
		log.Fatal(err)
	}

	opts := []engine.Option{
		engine.WithDriver(fsDriver),
		engine.WithAuthBackend(multiBackend{
			static:    auth.StaticUser{User: *user, Pass: *pass},
			anonymous: auth.Anonymous{AllowWrite: false},
		}),
		engine.WithLogger(logger),
		engine.WithMaxConnections(*maxConns, *maxConnsPerIP),
		engine.WithMetrics(engine.NewLogMetrics(logger)),
	}

	if *certFile != "" && *keyFile != "" {
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			log.Fatalf("load TLS certificate: %v", err)
		}
		opts = append(opts, engine.WithTLS(&tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}))
	}

	srv, err := engine.New(*addr, opts...)
	if err != nil {
		log.Fatal(err)
	}

	logger.Info("starting ftp engine", "addr", *addr)
	logger.Info("credentials", "user", *user, "pass", *pass, "anonymous", "read-only")

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}

// multiBackend tries the static user first, then falls back to
// anonymous, so a single command-line invocation can demonstrate both
// auth.Backend implementations at once.
type multiBackend struct {
	static    auth.StaticUser
	anonymous auth.Anonymous
}

func (m multiBackend) CheckUser(user, host string) error {
	if err := m.static.CheckUser(user, host); err == nil {
		return nil
	}
	return m.anonymous.CheckUser(user, host)
}

func (m multiBackend) CheckPass(user, pass, host string) (auth.Result, error) {
	if user == m.static.User {
		return m.static.CheckPass(user, pass, host)
	}
	return m.anonymous.CheckPass(user, pass, host)
}

func (m multiBackend) CheckAcct(user, acct string) error {
	return nil
}
