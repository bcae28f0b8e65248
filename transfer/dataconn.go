package transfer

import (
	"net"

	"github.com/ftpcore/engine/codec"
)

// Direction identifies which side dialed the data connection.
type Direction int

const (
	// DirectionPassive means the server listened (PASV/EPSV) and the
	// client connected to it.
	DirectionPassive Direction = iota
	// DirectionActive means the server dials out to the client's
	// advertised address (PORT/EPRT).
	DirectionActive
)

func (d Direction) String() string {
	if d == DirectionActive {
		return "active"
	}
	return "passive"
}

// Endpoint captures how a data connection is addressed before it
// exists: either a listener the server is waiting on (passive) or a
// remote address the server must dial (active).
type Endpoint struct {
	Direction  Direction
	RemoteAddr net.Addr // set for Direction == DirectionActive
}

// DataConn describes one data connection's negotiated shape: which
// representation pipeline governs its bytes and which side established
// it. It exists from the moment a PORT/PASV/EPRT/EPSV command is
// accepted until the connection is consumed or superseded by the next
// one.
type DataConn struct {
	Endpoint Endpoint
	Pipeline codec.Pipeline

	conn net.Conn
}

// Conn returns the underlying net.Conn once Controller has bound it, or
// nil beforehand.
func (d *DataConn) Conn() net.Conn { return d.conn }
