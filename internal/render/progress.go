package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The worker's stdout is an unversioned contract; keep the matcher small.
var framePattern = regexp.MustCompile(`Frame (\d+)/(\d+) \((\d+)%\)`)

var completionKeywords = []string{"render complete", "rendered successfully", "done"}

// ProgressUpdate is what one stdout line told us.
type ProgressUpdate struct {
	Frame    int
	Total    int
	Percent  int
	Complete bool
}

// ParseProgressLine matches a single worker output line. ok is false when the
// line carries no progress information; err reports a line that looked like
// progress but could not be decoded.
func ParseProgressLine(line string) (update ProgressUpdate, ok bool, err error) {
	if m := framePattern.FindStringSubmatch(line); m != nil {
		frame, ferr := strconv.Atoi(m[1])
		total, terr := strconv.Atoi(m[2])
		pct, perr := strconv.Atoi(m[3])
		if ferr != nil || terr != nil || perr != nil {
			return ProgressUpdate{}, false, fmt.Errorf("malformed progress line %q", line)
		}
		update = ProgressUpdate{Frame: frame, Total: total, Percent: min(max(pct, 0), 100)}
		ok = true
	}

	lower := strings.ToLower(line)
	for _, kw := range completionKeywords {
		if strings.Contains(lower, kw) {
			update.Complete = true
			update.Percent = 100
			ok = true
			break
		}
	}
	return update, ok, nil
}

// scanProgressLines is a bufio.SplitFunc that treats both '\n' and '\r' as
// line terminators, since renderers redraw progress in place.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
