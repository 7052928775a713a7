// Package transcript keeps the session's chat history, including the one
// assistant message that may be receiving streamed text.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sender of the user's entries
const SenderUser = "user"

// Entry is one transcript line
type Entry struct {
	ID        string
	Sender    string
	Text      string
	Open      bool
	CreatedAt time.Time
}

// Transcript is an ordered chat history with at most one open streaming
// message. It is not safe for concurrent use.
type Transcript struct {
	assistant  string
	maxEntries int
	entries    []Entry
	open       int // index of the streaming entry, -1 if none
	buf        strings.Builder
}

// New creates a transcript whose streamed entries are attributed to
// assistant. maxEntries <= 0 keeps everything.
func New(assistant string, maxEntries int) *Transcript {
	if assistant == "" {
		assistant = "astra"
	}
	return &Transcript{
		assistant:  assistant,
		maxEntries: maxEntries,
		open:       -1,
	}
}

// AddUser records a user utterance
func (t *Transcript) AddUser(text string) Entry {
	return t.add(Entry{Sender: SenderUser, Text: text})
}

// Start opens a new streaming assistant message. An already open message
// is closed with the text it has accumulated.
func (t *Transcript) Start() Entry {
	if t.open >= 0 {
		t.close(t.buf.String())
	}
	t.open = len(t.entries)
	e := t.add(Entry{Sender: t.assistant, Open: true})
	t.buf.Reset()
	return e
}

// HasOpen reports whether a streaming message is open
func (t *Transcript) HasOpen() bool {
	return t.open >= 0
}

// Append adds streamed text to the open message. It reports false when no
// message is open.
func (t *Transcript) Append(text string) bool {
	if t.open < 0 {
		return false
	}
	t.buf.WriteString(text)
	t.entries[t.open].Text = t.buf.String()
	return true
}

// Finalize closes the open message, replacing its text with the
// authoritative final text. It reports false when no message is open.
func (t *Transcript) Finalize(text string) bool {
	if t.open < 0 {
		return false
	}
	t.close(text)
	return true
}

// Entries returns a copy of the transcript
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries
func (t *Transcript) Len() int {
	return len(t.entries)
}

func (t *Transcript) close(text string) {
	t.entries[t.open].Text = text
	t.entries[t.open].Open = false
	t.open = -1
	t.buf.Reset()
}

func (t *Transcript) add(e Entry) Entry {
	e.ID = uuid.NewString()
	e.CreatedAt = time.Now()
	t.entries = append(t.entries, e)

	// Trim to max size, oldest first. The open message is never evicted.
	if t.maxEntries > 0 && len(t.entries) > t.maxEntries {
		drop := len(t.entries) - t.maxEntries
		open := -1
		kept := make([]Entry, 0, t.maxEntries)
		for i, entry := range t.entries {
			if i == t.open {
				open = len(kept)
			} else if drop > 0 {
				drop--
				continue
			}
			kept = append(kept, entry)
		}
		t.entries = kept
		t.open = open
	}
	return e
}
