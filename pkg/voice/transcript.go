package voice

import (
	"sync"
	"time"
)

// TranscriptItem is one conversation bubble: a single speaker's turn. While
// the turn is in progress its Text grows in place; after the turn completes
// and its audio is finalized the item is immutable except for the late
// AudioURL backfill.
type TranscriptItem struct {
	Text           string    `json:"text"`
	Speaker        Speaker   `json:"speaker"`
	Timestamp      time.Time `json:"timestamp"`
	AudioURL       string    `json:"audio_url,omitempty"`
	Feedback       string    `json:"feedback,omitempty"`
	FeedbackReason string    `json:"feedback_reason,omitempty"`

	final bool
}

// Final reports whether the item's turn has completed.
func (t *TranscriptItem) Final() bool { return t.final }

// Transcript is the ordered list of turns, with the delta merge rule:
// consecutive deltas from the same speaker extend the last item; a speaker
// switch (or a finalized last item) starts a new one.
type Transcript struct {
	mu    sync.Mutex
	items []*TranscriptItem
	now   func() time.Time
}

// NewTranscript creates an empty transcript. now may be nil.
func NewTranscript(now func() time.Time) *Transcript {
	if now == nil {
		now = time.Now
	}
	return &Transcript{now: now}
}

// AppendDelta merges a partial text delta into the transcript and returns
// the index of the item it landed in and whether a new item was created.
func (tr *Transcript) AppendDelta(speaker Speaker, text string) (int, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if n := len(tr.items); n > 0 {
		last := tr.items[n-1]
		if last.Speaker == speaker && !last.final {
			last.Text += text
			return n - 1, false
		}
	}
	tr.items = append(tr.items, &TranscriptItem{
		Text:      text,
		Speaker:   speaker,
		Timestamp: tr.now(),
	})
	return len(tr.items) - 1, true
}

// FinalizePending marks the most recent in-progress item of every speaker
// final and returns their indexes. The remote protocol can close a user
// turn and an agent turn with the same signal, so both may finalize at once.
func (tr *Transcript) FinalizePending() []int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var done []int
	seen := map[Speaker]bool{}
	for i := len(tr.items) - 1; i >= 0 && len(seen) < 2; i-- {
		item := tr.items[i]
		if seen[item.Speaker] {
			continue
		}
		seen[item.Speaker] = true
		if !item.final {
			item.final = true
			done = append(done, i)
		}
	}
	// Restore chronological order.
	for l, r := 0, len(done)-1; l < r; l, r = l+1, r-1 {
		done[l], done[r] = done[r], done[l]
	}
	return done
}

// SetAudioURL backfills the audio reference on an item. Safe after the item
// turned immutable; this is the one permitted late write.
func (tr *Transcript) SetAudioURL(index int, url string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if index < 0 || index >= len(tr.items) {
		return false
	}
	tr.items[index].AudioURL = url
	return true
}

// Item returns a copy of the item at index.
func (tr *Transcript) Item(index int) (TranscriptItem, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if index < 0 || index >= len(tr.items) {
		return TranscriptItem{}, false
	}
	return *tr.items[index], true
}

// Items returns a snapshot of the whole transcript.
func (tr *Transcript) Items() []TranscriptItem {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]TranscriptItem, len(tr.items))
	for i, item := range tr.items {
		out[i] = *item
	}
	return out
}

// Len returns the number of items.
func (tr *Transcript) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.items)
}
