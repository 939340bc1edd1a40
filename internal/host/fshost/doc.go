// Package fshost is a headless host adapter backed by the local disk.
//
// There is no editor: the file system is the document store. A recursive
// watcher reports user changes, which are compared against the last text the
// host saw for each file. Writes made through the Documents interface update
// that record first, so the watcher events they cause compare equal and are
// dropped instead of coming back as local edits.
package fshost
