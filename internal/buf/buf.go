// Package buf holds the authoritative copy of one shared file.
//
// A Buf is created when the workspace lists it (unpopulated), when its content
// arrives (populated) or when a local file is uploaded. Its text may only be
// patched once populated, since patches are meaningless without a known base.
// All text mutations on one Buf are serialized by its mutex: a remote patch
// application and a local edit never interleave.
package buf

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sync"
	"unicode/utf8"
)

// Encoding is the content encoding of a buffer on the wire.
type Encoding string

const (
	// EncodingUTF8 buffers are patched as text.
	EncodingUTF8 Encoding = "utf8"
	// EncodingBase64 buffers are binary and are never patched.
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding maps a wire encoding to an Encoding, defaulting to utf8.
func ParseEncoding(s string) Encoding {
	if s == string(EncodingBase64) {
		return EncodingBase64
	}
	return EncodingUTF8
}

// Common errors.
var (
	// ErrNotPopulated indicates the buffer has no known base text.
	ErrNotPopulated = errors.New("buffer not populated")

	// ErrBinary indicates a text operation on a binary buffer.
	ErrBinary = errors.New("buffer is binary")

	// ErrChecksumMismatch indicates the patched text does not match the
	// checksum the sender computed. The buffer is left unpopulated.
	ErrChecksumMismatch = errors.New("patch checksum mismatch")

	// ErrPatchFailed indicates at least one hunk of a patch did not apply.
	// The buffer is left unpopulated.
	ErrPatchFailed = errors.New("patch did not apply")
)

// Buf is one synchronized file.
type Buf struct {
	mu        sync.Mutex
	id        int
	path      string
	text      string
	md5       string
	encoding  Encoding
	populated bool
}

// New creates an unpopulated buffer.
func New(id int, path string, enc Encoding) *Buf {
	if enc == "" {
		enc = EncodingUTF8
	}
	return &Buf{id: id, path: path, encoding: enc}
}

// NewPopulated creates a buffer with known content.
func NewPopulated(id int, path, text string, enc Encoding) *Buf {
	b := New(id, path, enc)
	b.text = text
	b.md5 = Checksum(text)
	b.populated = true
	return b
}

// ID returns the server-assigned id.
func (b *Buf) ID() int {
	return b.id
}

// Path returns the workspace-relative path.
func (b *Buf) Path() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.path
}

// SetPath renames the buffer.
func (b *Buf) SetPath(path string) {
	b.mu.Lock()
	b.path = path
	b.mu.Unlock()
}

// Encoding returns the wire encoding.
func (b *Buf) Encoding() Encoding {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.encoding
}

// IsBinary reports whether the buffer holds base64 content.
func (b *Buf) IsBinary() bool {
	return b.Encoding() == EncodingBase64
}

// Text returns the authoritative content.
func (b *Buf) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// MD5 returns the checksum of the authoritative content.
func (b *Buf) MD5() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.md5
}

// IsPopulated reports whether the buffer text is known.
func (b *Buf) IsPopulated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.populated
}

// Snapshot is a consistent copy of a buffer's fields.
type Snapshot struct {
	ID        int
	Path      string
	Text      string
	MD5       string
	Encoding  Encoding
	Populated bool
}

// Snapshot returns a consistent copy of the buffer.
func (b *Buf) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		ID:        b.id,
		Path:      b.path,
		Text:      b.text,
		MD5:       b.md5,
		Encoding:  b.encoding,
		Populated: b.populated,
	}
}

// Populate replaces the content with a fresh copy from the service and marks
// the buffer populated. If md5 is empty it is computed.
func (b *Buf) Populate(text, md5 string, enc Encoding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.populate(text, md5, enc)
}

func (b *Buf) populate(text, md5 string, enc Encoding) {
	if md5 == "" {
		md5 = Checksum(text)
	}
	if enc != "" {
		b.encoding = enc
	}
	b.text = text
	b.md5 = md5
	b.populated = true
}

// Invalidate marks the buffer as needing a fresh copy.
func (b *Buf) Invalidate() {
	b.mu.Lock()
	b.populated = false
	b.mu.Unlock()
}

// Do runs fn while holding the buffer lock. fn must not call other Buf
// methods; it receives a Tx for reads and writes.
func (b *Buf) Do(fn func(tx *Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fn(&Tx{b: b})
}

// Tx exposes a locked buffer to Do.
type Tx struct {
	b *Buf
}

// ID returns the buffer id.
func (tx *Tx) ID() int { return tx.b.id }

// Path returns the buffer path.
func (tx *Tx) Path() string { return tx.b.path }

// Text returns the buffer text.
func (tx *Tx) Text() string { return tx.b.text }

// MD5 returns the buffer checksum.
func (tx *Tx) MD5() string { return tx.b.md5 }

// Populated reports whether the text is known.
func (tx *Tx) Populated() bool { return tx.b.populated }

// Binary reports whether the buffer is base64 encoded.
func (tx *Tx) Binary() bool { return tx.b.encoding == EncodingBase64 }

// Populate replaces the content and marks the buffer populated.
func (tx *Tx) Populate(text, md5 string, enc Encoding) { tx.b.populate(text, md5, enc) }

// Invalidate marks the buffer as needing a fresh copy.
func (tx *Tx) Invalidate() { tx.b.populated = false }

// Checksum returns the hex md5 of text, the checksum used on the wire.
func Checksum(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// EncodeContent returns the wire form and encoding for raw file content.
// Content that is not valid UTF-8 is sent base64 encoded.
func EncodeContent(data []byte) (string, Encoding) {
	if utf8.Valid(data) {
		return string(data), EncodingUTF8
	}
	return base64.StdEncoding.EncodeToString(data), EncodingBase64
}

// DecodeContent returns the raw bytes for wire content.
func DecodeContent(content string, enc Encoding) ([]byte, error) {
	if enc == EncodingBase64 {
		return base64.StdEncoding.DecodeString(content)
	}
	return []byte(content), nil
}
