package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"medfleet-sim/internal/config"
	"medfleet-sim/internal/report"
)

// Output modes.
const (
	outputAuto    = "auto"
	outputConsole = "console"
	outputJSON    = "json"
	outputTUI     = "tui"
)

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// newReporter picks the operator reporter for output and, when logFile is
// set, also records every event to it. The cleanup function closes any
// resources.
func newReporter(out io.Writer, output, logFile string, ov *report.Overview, tty bool) (report.Reporter, func(), error) {
	base, err := baseReporter(out, output, ov, tty)
	if err != nil {
		return nil, nil, err
	}
	if logFile == "" {
		return base, closer(base), nil
	}
	mr := report.NewMulti(base, report.NewFile(logFile, 0, 0))
	return mr, func() { mr.Close() }, nil
}

// baseReporter chooses console output on a terminal and JSON lines otherwise.
func baseReporter(out io.Writer, output string, ov *report.Overview, tty bool) (report.Reporter, error) {
	switch output {
	case "", outputAuto:
		if tty {
			return report.NewConsole(out, ov), nil
		}
		return report.NewJSON(out), nil
	case outputConsole:
		return report.NewConsole(out, ov), nil
	case outputJSON:
		return report.NewJSON(out), nil
	case outputTUI:
		title := "device-sim"
		if ov != nil {
			title = fmt.Sprintf("%s · %s", ov.DeviceID, ov.Mode)
		}
		return report.NewTUI(title), nil
	default:
		return nil, fmt.Errorf("%w: unknown output %q", config.ErrConfig, output)
	}
}

func closer(r report.Reporter) func() {
	if c, ok := r.(io.Closer); ok {
		return func() { c.Close() }
	}
	return func() {}
}
