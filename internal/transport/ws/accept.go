package ws

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Accept resolves the handshake for r and, if admitted, upgrades it.
//
// Postcondition: On rejection an HTTP error with the rejection's status has
// been written, no upgrade happened, and the *Rejection is returned as the
// error. On success the returned Conn is Open.
func Accept(w http.ResponseWriter, r *http.Request, resolver HandshakeResolver, opts Options) (*Conn, error) {
	info := RequestInfo{
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
		Query:      r.URL.Query(),
		Header:     r.Header,
	}

	route, rej := resolver.ResolveHandshake(info)
	if rej != nil {
		http.Error(w, rej.Reason, rej.Status)
		return nil, rej
	}

	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrading connection from %s: %w", r.RemoteAddr, err)
	}
	return newConn(raw, route, r.RemoteAddr, opts), nil
}
