package errors

import (
	"fmt"
	"path/filepath"
	"sync"
)

// ParseError reports a CSV upload that neither the primary reader nor the
// fallback splitter could turn into rows. The message of the last failure is
// kept so the caller sees it verbatim.
func ParseError(code ErrorCode, source string, line int, err error) *ReconcilerError {
	message := fmt.Sprintf("could not parse %s", filepath.Base(source))
	if line > 0 {
		message = fmt.Sprintf("%s at line %d", message, line)
	}
	if err != nil {
		message = fmt.Sprintf("%s: %v", message, err)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}

	result = result.WithContext("file", source)
	if line > 0 {
		result = result.WithContext("line", line)
	}
	return result
}

// RowIssue records a data row that was read but could not be used.
type RowIssue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// RowIssueCollector gathers RowIssues up to a cap. The count keeps growing
// past the cap so callers can still report the total.
type RowIssueCollector struct {
	mu     sync.Mutex
	issues []RowIssue
	total  int
	max    int
}

// NewRowIssueCollector creates a collector that retains at most max issues.
func NewRowIssueCollector(max int) *RowIssueCollector {
	if max <= 0 {
		max = 100
	}
	return &RowIssueCollector{max: max}
}

// Add records an issue.
func (c *RowIssueCollector) Add(line int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if len(c.issues) < c.max {
		c.issues = append(c.issues, RowIssue{Line: line, Reason: reason})
	}
}

// Total is the number of issues seen, including those past the cap.
func (c *RowIssueCollector) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Issues returns a copy of the retained issues.
func (c *RowIssueCollector) Issues() []RowIssue {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RowIssue, len(c.issues))
	copy(out, c.issues)
	return out
}
