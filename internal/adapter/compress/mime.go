package compress

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Sniff detects the media type of a file from its content. Parameters such
// as charset are dropped.
func Sniff(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect mime type: %w", err)
	}
	base, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(base), nil
}
