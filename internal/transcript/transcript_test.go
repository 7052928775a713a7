package transcript

import (
	"testing"
)

func TestTranscript_StreamedReplyIsReplacedByFinalText(t *testing.T) {
	tr := New("astra", 0)

	tr.AddUser("Hi")
	tr.Start()
	tr.Append("Hel")
	tr.Append("lo")

	entries := tr.Entries()
	if got := entries[1].Text; got != "Hello" {
		t.Errorf("expected accumulated text %q, got %q", "Hello", got)
	}
	if !entries[1].Open {
		t.Error("expected streaming entry to be open")
	}

	if !tr.Finalize("Hello!") {
		t.Fatal("expected Finalize to close the open message")
	}

	entries = tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Sender != SenderUser || entries[0].Text != "Hi" {
		t.Errorf("unexpected user entry %+v", entries[0])
	}
	if entries[1].Sender != "astra" || entries[1].Text != "Hello!" || entries[1].Open {
		t.Errorf("unexpected assistant entry %+v", entries[1])
	}
	if tr.HasOpen() {
		t.Error("expected no open message after Finalize")
	}
}

func TestTranscript_AppendWithoutOpenMessage(t *testing.T) {
	tr := New("", 0)

	if tr.Append("stray") {
		t.Error("expected Append to report false with nothing open")
	}
	if tr.Finalize("stray") {
		t.Error("expected Finalize to report false with nothing open")
	}
	if tr.Len() != 0 {
		t.Errorf("expected empty transcript, got %d entries", tr.Len())
	}
}

func TestTranscript_StartClosesPreviousMessage(t *testing.T) {
	tr := New("astra", 0)

	tr.Start()
	tr.Append("first")
	tr.Start()
	tr.Append("second")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Open || entries[0].Text != "first" {
		t.Errorf("expected first message closed with its text, got %+v", entries[0])
	}
	if !entries[1].Open || entries[1].Text != "second" {
		t.Errorf("expected second message open, got %+v", entries[1])
	}
}

func TestTranscript_AtMostOneOpen(t *testing.T) {
	tr := New("astra", 0)

	for i := 0; i < 5; i++ {
		tr.Start()
		tr.Append("x")
		tr.AddUser("y")
	}

	open := 0
	for _, e := range tr.Entries() {
		if e.Open {
			open++
		}
	}
	if open != 1 {
		t.Errorf("expected exactly one open entry, got %d", open)
	}
}

func TestTranscript_TrimsOldEntries(t *testing.T) {
	tr := New("astra", 3)

	tr.AddUser("one")
	tr.AddUser("two")
	tr.Start()
	tr.Append("streaming")
	tr.AddUser("three")

	entries := tr.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries after trim, got %d", len(entries))
	}
	if entries[0].Text != "two" {
		t.Errorf("expected oldest entry dropped, first is %q", entries[0].Text)
	}

	// the open message survived the trim and still receives text
	tr.Append(" more")
	tr.Finalize("final")
	if got := tr.Entries()[1].Text; got != "final" {
		t.Errorf("expected finalized text %q, got %q", "final", got)
	}
}

func TestTranscript_TrimKeepsOpenMessage(t *testing.T) {
	tr := New("astra", 2)

	tr.AddUser("first")
	tr.Start()
	tr.Append("Hel")
	tr.AddUser("interrupting")
	tr.AddUser("again")

	if !tr.HasOpen() {
		t.Fatal("expected the streaming message to survive the trim")
	}
	if !tr.Append("lo") {
		t.Error("expected Append to reach the open message")
	}
	tr.Finalize("Hello")

	entries := tr.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Sender != "astra" || entries[0].Text != "Hello" || entries[0].Open {
		t.Errorf("expected one closed reply %q, got %+v", "Hello", entries[0])
	}
	if entries[1].Text != "again" {
		t.Errorf("expected newest user entry kept, got %q", entries[1].Text)
	}
}

func TestTranscript_TrimWithOnlyRoomForOpenMessage(t *testing.T) {
	tr := New("astra", 1)

	tr.Start()
	tr.AddUser("pushed out")

	if !tr.HasOpen() || tr.Len() != 1 {
		t.Fatalf("expected only the open message to remain, got %d entries", tr.Len())
	}
	tr.Finalize("done")
	if got := tr.Entries()[0].Text; got != "done" {
		t.Errorf("expected %q, got %q", "done", got)
	}
}

func TestTranscript_EntriesHaveIDs(t *testing.T) {
	tr := New("astra", 0)

	a := tr.AddUser("a")
	b := tr.AddUser("b")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
	if a.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}
