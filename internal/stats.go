package internal

// Stats is an operational snapshot of a Sequence.
type Stats struct {
	Length            int           `json:"length"`
	Epoch             uint64        `json:"epoch"`
	Last              AntiPrime     `json:"last"`
	Appends           uint64        `json:"appends"`
	StaleDiscards     uint64        `json:"stale_discards"`
	DuplicateDiscards uint64        `json:"duplicate_discards"`
	InvalidResults    uint64        `json:"invalid_results"`
	Resets            uint64        `json:"resets"`
	Restarts          uint64        `json:"restarts"`
	Stopped           bool          `json:"stopped"`
	Mailbox           MailboxStats  `json:"mailbox"`
	Worker            WorkerStats   `json:"worker"`
	Notifier          NotifierStats `json:"notifier"`
}

// Stats returns operational statistics snapshot.
//
// Semantics:
//   - Non-blocking: each component is read under its own lock, one at a time
//   - Consistency: fields may be slightly out of step with each other
//     (acceptable for monitoring)
func (s *Sequence) Stats() Stats {
	s.mu.RLock()
	stats := Stats{
		Length: len(s.items),
		Epoch:  s.epoch,
	}
	if len(s.items) > 0 {
		stats.Last = s.items[len(s.items)-1]
	}
	s.mu.RUnlock()

	stats.Appends = s.appends.Load()
	stats.StaleDiscards = s.staleDiscards.Load()
	stats.DuplicateDiscards = s.duplicateDiscards.Load()
	stats.InvalidResults = s.invalidResults.Load()
	stats.Resets = s.resets.Load()
	stats.Restarts = s.restarts.Load()

	s.rtMu.Lock()
	mailbox, worker := s.mailbox, s.worker
	stats.Stopped = s.stopped
	s.rtMu.Unlock()

	if mailbox != nil {
		stats.Mailbox = mailbox.Stats()
	}
	if worker != nil {
		stats.Worker = worker.Stats()
	}
	if s.notifier != nil {
		stats.Notifier = s.notifier.Stats()
	}

	return stats
}
