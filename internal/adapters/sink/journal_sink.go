package sink

import (
	"context"
	"fmt"

	"github.com/drguilhermecapel/ecgflow/internal/domain"
	"github.com/drguilhermecapel/ecgflow/internal/ports"
)

// JournalSink appends every result to the audit journal. CRITICAL and FAILED results
// are synced before OnResult returns.
type JournalSink struct {
	j ports.Journal
}

func NewJournalSink(j ports.Journal) *JournalSink { return &JournalSink{j: j} }

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) OnResult(_ context.Context, r domain.DiagnosticResult) error {
	if _, err := s.j.Append(r); err != nil {
		return fmt.Errorf("journal append %s: %w", r.JobID, err)
	}
	if r.Critical() || r.Failed() {
		return s.j.Sync()
	}
	return nil
}

var _ ports.ResultSink = (*JournalSink)(nil)
