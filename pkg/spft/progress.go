package spft

import (
	"bufio"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Progress is one line of flashing tool console output.
type Progress struct {
	Line string
	// Percent is -1 when the line carries no percentage
	Percent int
}

// ProgressScanner scans the console output of the flashing tool.
type ProgressScanner struct {
	scanner *bufio.Scanner
}

func NewProgressScanner(r io.Reader) *ProgressScanner {
	sc := bufio.NewScanner(r)
	sc.Split(scanLinesCR)
	return &ProgressScanner{scanner: sc}
}

var percentRE = regexp.MustCompile(`(\d{1,3})\s*%`)

// Progress returns the next non-empty line or nil at the end of the output.
func (ps *ProgressScanner) Progress() (*Progress, error) {
	for ps.scanner.Scan() {
		line := strings.TrimSpace(ps.scanner.Text())
		if line == "" {
			continue
		}
		p := &Progress{Line: line, Percent: -1}
		if m := percentRE.FindAllStringSubmatch(line, -1); m != nil {
			// the last percentage is the most recent on redrawn lines
			if v, err := strconv.Atoi(m[len(m)-1][1]); err == nil && v <= 100 {
				p.Percent = v
			}
		}
		return p, nil
	}
	return nil, ps.scanner.Err()
}

// scanLinesCR splits on \n and on bare \r, the tool redraws its progress
// bar with carriage returns.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
