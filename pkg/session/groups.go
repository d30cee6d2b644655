package session

import (
	"time"

	"github.com/mahaj/chatkit/pkg/model"
)

// Entry is one rendered transcript row. ShowDateSeparator marks the rows
// preceded by a date header.
type Entry struct {
	Message           model.Message
	ShowDateSeparator bool
	DateLabel         string
}

// Grouped assigns date separators over the ordered transcript. A separator
// precedes a message whenever its calendar date, in the viewer's local
// zone, differs from the previous message's; the first message of a
// non-empty transcript always gets one. Pure; recomputed on render, never
// stored.
func Grouped(messages []model.Message) []Entry {
	entries := make([]Entry, len(messages))
	for i, msg := range messages {
		sep := i == 0 || !sameLocalDay(messages[i-1].Timestamp, msg.Timestamp)
		e := Entry{Message: msg, ShowDateSeparator: sep}
		if sep {
			e.DateLabel = msg.Timestamp.Local().Format("Monday, January 2, 2006")
		}
		entries[i] = e
	}
	return entries
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}
