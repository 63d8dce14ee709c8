package thread

// Phase is the publisher's position in a thread.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePostingHead
	PhasePostingReply
	PhaseDone
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePostingHead:
		return "posting_head"
	case PhasePostingReply:
		return "posting_reply"
	case PhaseDone:
		return "done"
	case PhaseAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result summarizes a Publish call.
type Result struct {
	Total  int
	Posted int
	// Aborted is set when drafts were left unposted; AbortedAt is then the
	// index of the first unposted draft.
	Aborted   bool
	AbortedAt int
	// IDs holds the posted tweet ids in thread order.
	IDs   []string
	Phase Phase
}

// HeadID returns the id of the first posted tweet, or "".
func (r Result) HeadID() string {
	if len(r.IDs) == 0 {
		return ""
	}
	return r.IDs[0]
}

// state is scoped to one Publish call. posted only grows.
type state struct {
	phase     Phase
	headID    string
	posted    int
	remaining []string
	ids       []string
	total     int
}

func newState(drafts []string) *state {
	return &state{
		phase:     PhaseIdle,
		remaining: drafts,
		total:     len(drafts),
	}
}

func (s *state) advance(id string) {
	s.headID = id
	s.posted++
	s.ids = append(s.ids, id)
	s.remaining = s.remaining[1:]
}

func (s *state) result() Result {
	r := Result{
		Total:  s.total,
		Posted: s.posted,
		IDs:    append([]string(nil), s.ids...),
		Phase:  s.phase,
	}
	if s.phase == PhaseAborted {
		r.Aborted = true
		r.AbortedAt = s.posted
	}
	return r
}
