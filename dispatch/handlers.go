package dispatch

import "github.com/ftpcore/engine/command"

// handlerFunc executes one command and sends its reply(ies). The bool
// result feeds command metrics only; the handler has already replied to
// the client by the time it returns.
type handlerFunc func(s *Session, cmd *command.Command) bool

// handlers is the verb -> implementation table, populated by each
// session_*.go file's init(). Grounded on gonzalop-ftp/server/session.go's
// commandHandlers map, generalized to route through the catalog's Code
// enum instead of raw verb strings.
var handlers = map[command.Code]handlerFunc{}

func register(code command.Code, fn handlerFunc) {
	handlers[code] = fn
}
