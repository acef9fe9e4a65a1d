package feed

import (
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/sjson"
)

// unknownMachine is shown for records without a machine identifier.
const unknownMachine = "Unknown Machine"

// FormatLine renders an entry as one human-readable line, e.g.
//
//	[CRIT] M1 temp=95 (threshold 80) overheat @ 2023-11-14 22:13:20
func FormatLine(e Entry) string {
	a := e.Alert
	machine := a.Machine
	if machine == "" {
		machine = unknownMachine
	}
	line := fmt.Sprintf("[%s] %s %s=%s (threshold %s)",
		a.Severity, machine, a.Metric, formatNumber(a.Value), formatNumber(a.Threshold))
	if a.Msg != "" {
		line += " " + a.Msg
	}
	if a.TS > 0 {
		line += " @ " + a.Time().Local().Format("2006-01-02 15:04:05")
	}
	return line
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// StampJSON returns the entry's original payload with a "received" field set to
// the time the client accepted it. The rest of the payload is left untouched.
func StampJSON(e Entry) ([]byte, error) {
	return sjson.SetBytes(e.Raw, "received", e.Received.UTC().Format(time.RFC3339Nano))
}
