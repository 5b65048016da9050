package pipeline

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultMilestoneChars is the transcript length that raises the milestone signal
const DefaultMilestoneChars = 5000

// MergeMode selects how a reply is merged into the transcript
type MergeMode string

const (
	// MergeAppend treats each reply as new content following the transcript
	MergeAppend MergeMode = "append"
	// MergeReplace treats each reply as the whole transcript so far
	MergeReplace MergeMode = "replace"
)

// ParseMergeMode validates a configured merge mode; empty means append
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(s) {
	case "", MergeAppend:
		return MergeAppend, nil
	case MergeReplace:
		return MergeReplace, nil
	default:
		return "", fmt.Errorf("unknown merge mode %q", s)
	}
}

// TranscriptState is a snapshot of the running transcript
type TranscriptState struct {
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
	Fragments int    `json:"fragments"`
	Milestone bool   `json:"milestone"`
}

// Update describes the effect of one reply
type Update struct {
	Applied   bool // false for empty or whitespace-only replies
	Milestone bool // true only on the reply that first crossed the threshold
	State     TranscriptState
}

// TranscriptAssembler merges recognized text in the order replies are accepted
type TranscriptAssembler struct {
	mode      MergeMode
	threshold int

	text      strings.Builder
	chars     int
	fragments int
	milestone bool

	mu sync.RWMutex
}

// NewTranscriptAssembler creates an empty assembler
func NewTranscriptAssembler(mode MergeMode, milestoneChars int) *TranscriptAssembler {
	if mode == "" {
		mode = MergeAppend
	}
	if milestoneChars <= 0 {
		milestoneChars = DefaultMilestoneChars
	}
	return &TranscriptAssembler{
		mode:      mode,
		threshold: milestoneChars,
	}
}

// OnResult merges text. Empty or whitespace-only text means no speech and is ignored.
func (a *TranscriptAssembler) OnResult(text string) Update {
	a.mu.Lock()
	defer a.mu.Unlock()

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Update{State: a.snapshot()}
	}

	switch a.mode {
	case MergeReplace:
		a.text.Reset()
		a.text.WriteString(trimmed)
	default:
		if a.text.Len() > 0 && !endsWithSpace(a.text.String()) {
			a.text.WriteByte(' ')
		}
		a.text.WriteString(trimmed)
	}

	a.fragments++
	a.chars = utf8.RuneCountInString(a.text.String())

	crossed := false
	if !a.milestone && a.chars >= a.threshold {
		a.milestone = true
		crossed = true
	}

	return Update{Applied: true, Milestone: crossed, State: a.snapshot()}
}

// Reset clears the transcript and re-arms the milestone
func (a *TranscriptAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.text.Reset()
	a.chars = 0
	a.fragments = 0
	a.milestone = false
}

// Snapshot returns the current transcript
func (a *TranscriptAssembler) Snapshot() TranscriptState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot()
}

func (a *TranscriptAssembler) snapshot() TranscriptState {
	return TranscriptState{
		Text:      a.text.String(),
		CharCount: a.chars,
		Fragments: a.fragments,
		Milestone: a.milestone,
	}
}

func endsWithSpace(s string) bool {
	r, _ := utf8.DecodeLastRuneInString(s)
	return unicode.IsSpace(r)
}
