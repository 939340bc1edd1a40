// Package conn maintains the duplex connection to the workspace service.
//
// A Conn dials once, then runs a read pump and a write pump until either
// fails or Shutdown is called. There is no reconnect: the owner decides what
// a lost connection means.
package conn
