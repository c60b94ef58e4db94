package domain

import (
	"encoding/json"
	"time"
)

// Messages written to batch rows and file records.
const (
	MessageCompressed  = "File successfully compressed."
	MessageCompressErr = "File compression failed."
	MessageBatchFailed = "Upload failed"
	MessageBatchDone   = "Upload completed"
	MessageInterrupted = "Upload interrupted"
)

// FileInfo is the per-file progress record of a batch.
type FileInfo struct {
	Valid    bool    `json:"valid"`
	Progress int     `json:"progress"`
	Message  *string `json:"message"`
}

// NewFileInfo returns the initial record for a freshly accepted file.
func NewFileInfo() FileInfo {
	return FileInfo{Valid: true}
}

// Terminal reports whether the file has reached a final state.
func (f FileInfo) Terminal() bool {
	return !f.Valid || f.Progress >= 100
}

// MediaInfo maps file names to their progress records.
type MediaInfo map[string]FileInfo

// NewMediaInfo builds the initial media info for the given file names.
func NewMediaInfo(names []string) MediaInfo {
	mi := make(MediaInfo, len(names))
	for _, name := range names {
		mi[name] = NewFileInfo()
	}
	return mi
}

// Clone returns a copy that shares no state with mi.
func (mi MediaInfo) Clone() MediaInfo {
	out := make(MediaInfo, len(mi))
	for k, v := range mi {
		if v.Message != nil {
			msg := *v.Message
			v.Message = &msg
		}
		out[k] = v
	}
	return out
}

// Done reports whether every file is terminal.
func (mi MediaInfo) Done() bool {
	for _, fi := range mi {
		if !fi.Terminal() {
			return false
		}
	}
	return true
}

// Encode serializes media info for storage in a batch row.
func (mi MediaInfo) Encode() (string, error) {
	if mi == nil {
		mi = MediaInfo{}
	}
	b, err := json.Marshal(mi)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMediaInfo parses the stored representation produced by Encode.
func DecodeMediaInfo(s string) (MediaInfo, error) {
	mi := MediaInfo{}
	if s == "" {
		return mi, nil
	}
	if err := json.Unmarshal([]byte(s), &mi); err != nil {
		return nil, err
	}
	return mi, nil
}

// Batch is the persisted row tracking one upload.
type Batch struct {
	ID        string
	UserID    string
	MediaInfo MediaInfo
	Valid     bool
	Message   *string
	PostID    *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FileEntry is one file of an upload request with its description.
type FileEntry struct {
	Name        string
	Description string
}

// FileJob is a unit of work for the worker pool.
type FileJob struct {
	BatchID  string
	FileName string
	TempPath string
}

// Post is the published result of a successful batch.
type Post struct {
	ID           string
	AuthorID     string
	Title        string
	Media        []string
	Descriptions []string
	CreatedAt    time.Time
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
