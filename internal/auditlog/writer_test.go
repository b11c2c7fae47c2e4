package auditlog

import (
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Action: "test", ResourceType: "test"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{Action: "dropped", ResourceType: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLog_FillsTimestampWhenZero(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	w.Log(Entry{ActorID: uuid.New(), Action: "acknowledge", ResourceType: "alert"})

	entry := <-w.entries
	if entry.Timestamp.IsZero() {
		t.Fatal("expected Log to fill in a zero Timestamp")
	}
}
