package rpc

import (
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	"github.com/bscrelay/bscrelay/light"
	"github.com/bscrelay/bscrelay/log"
)

// NewServer returns a JSON-RPC server with the relay API registered. The
// server is an http.Handler; WebsocketHandler serves the same API over
// websockets.
func NewServer(relay *light.Relay, logger *log.Logger) (*gethrpc.Server, error) {
	srv := gethrpc.NewServer()
	if err := srv.RegisterName(Namespace, NewRelayAPI(relay, logger)); err != nil {
		srv.Stop()
		return nil, err
	}
	return srv, nil
}
