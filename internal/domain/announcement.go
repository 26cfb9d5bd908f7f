package domain

type Priority int

const (
	// PriorityNormal marks change-driven announcements (slide moved,
	// presentation became unavailable). Oldest normal announcements may be
	// dropped under overflow.
	PriorityNormal Priority = iota

	// PriorityInteractive marks direct replies to a user command ("read
	// notes"). Never dropped; displaces capacity if necessary.
	PriorityInteractive
)

func (p Priority) String() string {
	switch p {
	case PriorityNormal:
		return "normal"
	case PriorityInteractive:
		return "interactive"
	default:
		return "unknown"
	}
}

// Announcement is one unit of spoken output on its way to the host's speech
// sink. Delivered at most once, in production order.
type Announcement struct {
	Text     string   `json:"text"`
	Priority Priority `json:"priority"`

	// Seq is the sequence number of the snapshot the announcement was
	// derived from, or 0 when it does not describe a snapshot (for example
	// an unavailability notice before any position was read).
	Seq uint64 `json:"seq"`
}

func NewAnnouncement(text string, seq uint64) Announcement {
	return Announcement{Text: text, Priority: PriorityNormal, Seq: seq}
}

func NewInteractiveAnnouncement(text string, seq uint64) Announcement {
	return Announcement{Text: text, Priority: PriorityInteractive, Seq: seq}
}
