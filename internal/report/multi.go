package report

import "io"

// Multi fans events out to several reporters.
type Multi struct {
	reporters []Reporter
}

// NewMulti creates a Multi reporter.
func NewMulti(rs ...Reporter) *Multi {
	return &Multi{reporters: rs}
}

// Report sends e to every reporter and returns the first error.
func (m *Multi) Report(e Event) error {
	var first error
	for _, r := range m.reporters {
		if err := r.Report(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes every reporter that implements io.Closer.
func (m *Multi) Close() error {
	var first error
	for _, r := range m.reporters {
		if c, ok := r.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}
