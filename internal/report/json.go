package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// JSON prints events as JSON lines.
type JSON struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSON creates a JSON reporter writing to out, or os.Stdout when out is nil.
func NewJSON(out io.Writer) *JSON {
	if out == nil {
		out = os.Stdout
	}
	return &JSON{out: out}
}

// Report implements Reporter.
func (j *JSON) Report(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err = fmt.Fprintln(j.out, string(data))
	return err
}
