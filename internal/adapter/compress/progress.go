package compress

import (
	"bufio"
	"io"
	"strings"
)

// Report is one block of ffmpeg's -progress output.
type Report map[string]string

// ReadProgress parses a line-oriented key=value progress stream and calls fn
// for every block. A block ends with a progress=<status> line. Reading stops
// at EOF or at the first error returned by fn.
func ReadProgress(r io.Reader, fn func(Report) error) error {
	sc := bufio.NewScanner(r)
	block := Report{}
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		block[key] = strings.TrimSpace(value)
		if key == "progress" {
			if err := fn(block); err != nil {
				return err
			}
			block = Report{}
		}
	}
	return sc.Err()
}
