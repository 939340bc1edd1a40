// Package inbound applies messages from the workspace service to the local
// session.
//
// Handle is called on the connection's read goroutine, one message at a time
// in arrival order. It decodes the payload and updates presence and
// permissions directly. Everything that reads or changes the buffer index,
// buffer text or live documents is submitted to the host executor as one task
// per message, so a patch followed by a rename or delete of the same buffer is
// applied in that order and never races the local edit path.
//
// A panic inside a submitted task is reported through Options.Report. The
// buffer it concerned is invalidated, and for a patch one fresh copy is
// requested with get_buf.
package inbound
