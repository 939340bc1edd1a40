// Package editor bridges local editor events to the workspace service.
//
// Handler implements host.Listener. Each event is checked against the local
// user's permissions before anything is sent; changes made by remote writes or
// by restores are recognized by their origin and never sent back.
package editor
