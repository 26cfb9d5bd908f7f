package domain

// PositionSnapshot is a point-in-time view of where the user currently is in
// the open presentation. Snapshots are immutable: the worker builds a complete
// new value and publishes it as a single replacement, so a reader never sees a
// slide index from one document paired with a comment count from another.
type PositionSnapshot struct {
	// DocumentID is an opaque identity token for the open document. It
	// changes whenever the open document changes and is empty while no
	// document is open.
	DocumentID string `json:"document_id"`

	// SlideIndex is the 1-based index of the current slide, or 0 when no
	// slide is selected.
	SlideIndex int `json:"slide_index"`

	// CommentCount is the number of comments on the current slide.
	CommentCount int `json:"comment_count"`

	// HasNotes reports whether the current slide carries speaker notes.
	HasNotes bool `json:"has_notes"`

	// Seq increases by one on every published replacement. Consumers can
	// use it to discard a snapshot they have already processed.
	Seq uint64 `json:"seq"`
}

// NoSlide reports whether the snapshot describes "no current slide", either
// because no document is open or because nothing is selected.
func (s PositionSnapshot) NoSlide() bool {
	return s.SlideIndex == 0
}
