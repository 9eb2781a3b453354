// Package socketclient talks to a running tempo daemon over its Unix socket.
//
// It is used by the tempo CLI and can be embedded in editor plugins or
// shell hooks written in Go.
//
// # Usage
//
//	client, err := socketclient.Dial(ctx, cfg.Socket.Path)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	ack, err := client.Activity(ctx, "terminal", "/src/api", "command")
//	status, err := client.Status(ctx)
//
// Requests carry a random request ID and block until the matching response
// arrives, the context is cancelled, or the request timeout passes. Error
// responses are returned as *SocketError with the daemon's error code, for
// example NO_ACTIVE_SESSION or INVALID_TRANSITION.
package socketclient
