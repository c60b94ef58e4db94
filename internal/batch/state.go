package batch

import (
	"math"

	"github.com/cwygoda/batchpress/internal/domain"
)

// State is the in-memory record of one batch while its files are processed.
// It is only accessed through Store, which serializes access per batch.
type State struct {
	ID       string
	AuthorID string
	Title    string
	Files    []domain.FileEntry

	valid     bool
	info      domain.MediaInfo
	outputs   map[string]string
	remaining int
}

// NewState returns the initial state of a batch with one pending job per
// file entry.
func NewState(id, authorID, title string, files []domain.FileEntry) *State {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name
	}
	return &State{
		ID:        id,
		AuthorID:  authorID,
		Title:     title,
		Files:     files,
		valid:     true,
		info:      domain.NewMediaInfo(names),
		outputs:   make(map[string]string),
		remaining: len(files),
	}
}

// Valid reports the batch validity flag.
func (s *State) Valid() bool {
	return s.valid
}

// MediaInfo returns a copy of the per-file records.
func (s *State) MediaInfo() domain.MediaInfo {
	return s.info.Clone()
}

// File returns the record of a single file.
func (s *State) File(name string) (domain.FileInfo, bool) {
	fi, ok := s.info[name]
	return fi, ok
}

// Output returns the compressed output path recorded for a file.
func (s *State) Output(name string) (string, bool) {
	p, ok := s.outputs[name]
	return p, ok
}

// Remaining returns the number of jobs that have not finished yet.
func (s *State) Remaining() int {
	return s.remaining
}

// Percent converts an engine progress pair into a percentage in [0, 100].
func Percent(total, completed int) int {
	if total <= 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(completed) / float64(total)))
	return min(max(pct, 0), 100)
}

// SetProgress records progress for a file. Progress never decreases and is
// frozen once the file is invalid. Reaching 100 sets the success message.
// It reports whether the record changed.
func (s *State) SetProgress(name string, pct int) bool {
	fi, ok := s.info[name]
	if !ok || !fi.Valid {
		return false
	}
	pct = min(max(pct, 0), 100)
	if pct <= fi.Progress {
		return false
	}
	fi.Progress = pct
	if pct == 100 && fi.Message == nil {
		fi.Message = domain.StringPtr(domain.MessageCompressed)
	}
	s.info[name] = fi
	return true
}

// SetOutput records the compressed output of a file and marks it complete.
// It returns the path of a previous output for the same name, which is no
// longer referenced.
func (s *State) SetOutput(name, path string) (replaced string) {
	if prev, ok := s.outputs[name]; ok && prev != path {
		replaced = prev
	}
	s.outputs[name] = path
	s.SetProgress(name, 100)
	return replaced
}

// Invalidate marks a file and the whole batch as failed. The first reason
// recorded for a file is kept.
func (s *State) Invalidate(name, reason string) {
	s.valid = false
	fi, ok := s.info[name]
	if !ok || !fi.Valid {
		return
	}
	fi.Valid = false
	fi.Message = domain.StringPtr(reason)
	s.info[name] = fi
}

// Done reports whether the completeness predicate holds.
func (s *State) Done() bool {
	return s.info.Done()
}

// Snapshot is an immutable copy of a batch state handed to the finalizer.
type Snapshot struct {
	ID        string
	AuthorID  string
	Title     string
	Files     []domain.FileEntry
	Valid     bool
	MediaInfo domain.MediaInfo
	Outputs   map[string]string
}

func (s *State) snapshot() Snapshot {
	outputs := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		outputs[k] = v
	}
	files := make([]domain.FileEntry, len(s.Files))
	copy(files, s.Files)
	return Snapshot{
		ID:        s.ID,
		AuthorID:  s.AuthorID,
		Title:     s.Title,
		Files:     files,
		Valid:     s.valid,
		MediaInfo: s.info.Clone(),
		Outputs:   outputs,
	}
}
