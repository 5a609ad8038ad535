package preview

// sizeCheckpoint tracks the best known-good encoded output across a
// sequence of growing candidates, so a caller can revert to the last
// candidate that fit the byte budget. This is the Go shape of the
// source's observable-buffer trick: measure the size after encoding
// each additional frame, and truncate back to the size recorded before
// that frame's append if the budget was exceeded.
type sizeCheckpoint struct {
	good []byte
}

// Consider records candidate as the new known-good output if it fits
// within limit, reporting whether it was accepted.
func (c *sizeCheckpoint) Consider(candidate []byte, limit int) bool {
	if len(candidate) > limit {
		return false
	}
	c.good = candidate
	return true
}

// Bytes returns the last accepted candidate, or nil if none fit.
func (c *sizeCheckpoint) Bytes() []byte { return c.good }
