package voice

import (
	"testing"
	"time"
)

func TestTranscript_DeltasMergeIntoOneItem(t *testing.T) {
	tr := NewTranscript(nil)

	i0, created := tr.AppendDelta(SpeakerAgent, "Hi")
	if !created || i0 != 0 {
		t.Fatalf("first delta: index %d created %v", i0, created)
	}
	if i, created := tr.AppendDelta(SpeakerAgent, ","); created || i != 0 {
		t.Fatalf("second delta: index %d created %v", i, created)
	}
	tr.AppendDelta(SpeakerAgent, " there")

	if tr.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tr.Len())
	}
	item, _ := tr.Item(0)
	if item.Text != "Hi, there" {
		t.Errorf("Text = %q, want %q", item.Text, "Hi, there")
	}
}

func TestTranscript_SpeakerSwitchStartsNewItem(t *testing.T) {
	tr := NewTranscript(nil)
	tr.AppendDelta(SpeakerAgent, "Hello!")
	i1, created := tr.AppendDelta(SpeakerUser, "Hi")
	if !created || i1 != 1 {
		t.Fatalf("user delta: index %d created %v", i1, created)
	}
	if tr.Len() != 2 {
		t.Errorf("Len = %d, want 2", tr.Len())
	}
}

func TestTranscript_FinalizedItemNeverGrows(t *testing.T) {
	tr := NewTranscript(nil)
	tr.AppendDelta(SpeakerAgent, "First turn.")
	tr.FinalizePending()

	i, created := tr.AppendDelta(SpeakerAgent, "Second turn.")
	if !created || i != 1 {
		t.Fatalf("post-finalize delta: index %d created %v", i, created)
	}
	first, _ := tr.Item(0)
	if first.Text != "First turn." {
		t.Errorf("finalized item changed: %q", first.Text)
	}
}

func TestTranscript_FinalizePendingBothSpeakers(t *testing.T) {
	tr := NewTranscript(nil)
	tr.AppendDelta(SpeakerUser, "How do I say thanks?")
	tr.AppendDelta(SpeakerAgent, "You say: gracias.")

	done := tr.FinalizePending()
	if len(done) != 2 || done[0] != 0 || done[1] != 1 {
		t.Fatalf("FinalizePending = %v, want [0 1]", done)
	}
	for _, i := range done {
		item, _ := tr.Item(i)
		if !item.Final() {
			t.Errorf("item %d not final", i)
		}
	}

	// A second signal with nothing pending finalizes nothing.
	if done := tr.FinalizePending(); len(done) != 0 {
		t.Errorf("second FinalizePending = %v, want empty", done)
	}
}

func TestTranscript_FinalizeOnlyMostRecentPerSpeaker(t *testing.T) {
	tr := NewTranscript(nil)
	tr.AppendDelta(SpeakerAgent, "One.")
	tr.FinalizePending()
	tr.AppendDelta(SpeakerUser, "Two.")
	tr.AppendDelta(SpeakerAgent, "Three.")

	done := tr.FinalizePending()
	if len(done) != 2 || done[0] != 1 || done[1] != 2 {
		t.Fatalf("FinalizePending = %v, want [1 2]", done)
	}
}

func TestTranscript_SetAudioURLBackfill(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr := NewTranscript(func() time.Time { return now })
	tr.AppendDelta(SpeakerUser, "Hola")
	tr.FinalizePending()

	if !tr.SetAudioURL(0, "https://cdn.example.com/turn-000.ogg") {
		t.Fatal("SetAudioURL returned false")
	}
	item, _ := tr.Item(0)
	if item.AudioURL != "https://cdn.example.com/turn-000.ogg" {
		t.Errorf("AudioURL = %q", item.AudioURL)
	}
	if !item.Timestamp.Equal(now) {
		t.Errorf("Timestamp = %v, want %v", item.Timestamp, now)
	}

	if tr.SetAudioURL(5, "x") {
		t.Error("SetAudioURL out of range returned true")
	}
}

func TestTranscript_ItemsSnapshotIsIsolated(t *testing.T) {
	tr := NewTranscript(nil)
	tr.AppendDelta(SpeakerAgent, "Hello")
	snap := tr.Items()
	snap[0].Text = "mutated"

	item, _ := tr.Item(0)
	if item.Text != "Hello" {
		t.Errorf("snapshot mutation leaked into transcript: %q", item.Text)
	}
}
