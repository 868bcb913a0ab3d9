package ports

import "github.com/drguilhermecapel/ecgflow/internal/domain"

type JournalEntryID uint64

// Journal is an append-only audit trail of results.
type Journal interface {
	Append(r domain.DiagnosticResult) (JournalEntryID, error)
	Iterate(from JournalEntryID, fn func(id JournalEntryID, r domain.DiagnosticResult) error) error
	Sync() error
	Stats() JournalStats
}

type JournalStats struct {
	Entries   uint64
	LastID    JournalEntryID
	SizeBytes int64
}
