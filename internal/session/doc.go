// Package session runs one collaborative session against a workspace.
//
// A Session owns the connection, the shared state and the three handlers
// that move data between them and the local host:
//
//	host events -> editor -> outbound -> conn
//	conn -> inbound -> state, host documents
//
// Every inbound message passes through one dispatch boundary where handler
// errors and panics are logged and reported. A bad message never ends the
// session; only a disconnect, a transport failure or Shutdown does.
//
// # Lifecycle
//
// A Session moves through Unstarted, Connecting, Authenticating, Joined and
// Terminated. Go checks the preconditions (a valid workspace URL, complete
// credentials, an existing shared directory and, when a WorkspaceChecker is
// set, a workspace that exists) before anything is built:
//
//	sess := session.New(session.Options{URL: u, Root: root, Host: h, ...})
//	if err := sess.Go(ctx); err != nil {
//	    return err
//	}
//	defer sess.Shutdown()
//	<-sess.Done()
//
// Shutdown is idempotent. Link runs the separate account-link handshake and
// needs no session.
package session
