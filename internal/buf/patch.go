package buf

import (
	"fmt"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Patch is a text patch between two revisions of a buffer.
type Patch struct {
	// Text is the patch in diff-match-patch text form.
	Text string
	// MD5Before is the checksum of the text the patch was made against.
	MD5Before string
	// MD5After is the checksum of the text after the patch.
	MD5After string
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Text == ""
}

// newDMP returns a diff-match-patch instance with the settings used for
// both making and applying patches.
func newDMP() *diffmatchpatch.DiffMatchPatch {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	return dmp
}

// MakePatch computes the patch that turns before into after.
func MakePatch(before, after string) Patch {
	p := Patch{
		MD5Before: Checksum(before),
		MD5After:  Checksum(after),
	}
	if before == after {
		return p
	}
	dmp := newDMP()
	patches := dmp.PatchMake(before, after)
	p.Text = dmp.PatchToText(patches)
	return p
}

// ApplyPatch applies a patch in text form to base. It reports whether every
// hunk applied cleanly.
func ApplyPatch(base, patchText string) (string, bool, error) {
	dmp := newDMP()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		return base, false, fmt.Errorf("parse patch: %w", err)
	}
	result, applied := dmp.PatchApply(patches, base)
	for _, ok := range applied {
		if !ok {
			return result, false, nil
		}
	}
	return result, true, nil
}

// LocalEdit records a local edit. It computes the patch from the
// authoritative text to text, updates the buffer and calls send with the
// patch while the buffer is still locked, so patches for one buffer are
// emitted in edit order. Nothing is sent when the text is unchanged.
func (b *Buf) LocalEdit(text string, send func(id int, path string, p Patch)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.populated {
		return ErrNotPopulated
	}
	if b.encoding == EncodingBase64 {
		return ErrBinary
	}
	if text == b.text {
		return nil
	}

	p := MakePatch(b.text, text)
	b.text = text
	b.md5 = p.MD5After
	if send != nil {
		send(b.id, b.path, p)
	}
	return nil
}

// ApplyRemote applies a patch received from the service and returns the new
// text. apply, if non-nil, is called with the new text while the buffer is
// still locked; it is where the live document is updated.
//
// A patch whose result does not match MD5After (a missing MD5After never
// matches), or whose hunks fail, leaves
// the buffer unpopulated and returns ErrChecksumMismatch or ErrPatchFailed;
// the caller then requests a fresh copy. A mismatched MD5Before alone is not an
// error: the patch is applied fuzzily and judged by its result.
func (b *Buf) ApplyRemote(p Patch, apply func(text string)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.populated {
		return b.text, ErrNotPopulated
	}
	if b.encoding == EncodingBase64 {
		return b.text, ErrBinary
	}

	result, clean, err := ApplyPatch(b.text, p.Text)
	if err != nil {
		b.populated = false
		return b.text, err
	}
	if !clean {
		b.populated = false
		return b.text, ErrPatchFailed
	}

	sum := Checksum(result)
	if sum != p.MD5After {
		b.populated = false
		return b.text, ErrChecksumMismatch
	}

	b.text = result
	b.md5 = sum
	if apply != nil {
		apply(result)
	}
	return result, nil
}
