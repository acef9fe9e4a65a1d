// Package alert reads the fault-alert record format produced by the supervisor.
//
// The relay itself never validates or rewrites records; it only uses Peek to
// pull a few fields out for log lines and metric labels. Decode is used by
// feed consumers that want the full record.
package alert

import (
	"errors"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// SeverityCritical marks alerts that crossed the hard threshold.
	SeverityCritical = "CRIT"
	// SeverityWarning marks alerts in the warning tier.
	SeverityWarning = "WARN"
	// SeverityUnknown labels lines that are not recognizable alert records.
	SeverityUnknown = "unknown"
)

// Alert is one fault record as emitted by the supervisor.
type Alert struct {
	Machine   string  `json:"machine"`
	Severity  string  `json:"severity"`
	Metric    string  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
	// TS is the epoch timestamp in milliseconds.
	TS  int64  `json:"ts"`
	Msg string `json:"msg"`
}

// Time converts TS to a time.Time.
func (a Alert) Time() time.Time {
	return time.UnixMilli(a.TS)
}

// Critical reports whether the alert is in the critical tier.
func (a Alert) Critical() bool {
	return strings.EqualFold(a.Severity, SeverityCritical)
}

// Summary is the subset of fields Peek extracts.
type Summary struct {
	Machine  string
	Severity string
	Metric   string
	Valid    bool
}

// Peek extracts machine, severity and metric from line without allocating a
// full decode. Lines that are not JSON objects yield Valid=false and severity
// "unknown".
func Peek(line []byte) Summary {
	if !gjson.ValidBytes(line) {
		return Summary{Severity: SeverityUnknown}
	}
	res := gjson.ParseBytes(line)
	if !res.IsObject() {
		return Summary{Severity: SeverityUnknown}
	}
	fields := res.Get("{machine,severity,metric}")
	s := Summary{
		Machine:  fields.Get("machine").String(),
		Severity: normalizeSeverity(fields.Get("severity").String()),
		Metric:   fields.Get("metric").String(),
	}
	s.Valid = s.Machine != "" && s.Severity != SeverityUnknown
	return s
}

func normalizeSeverity(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case SeverityCritical, "CRITICAL":
		return SeverityCritical
	case SeverityWarning, "WARNING":
		return SeverityWarning
	default:
		return SeverityUnknown
	}
}

// ErrNotAlert is returned by Decode for payloads that are not JSON objects.
var ErrNotAlert = errors.New("alert: payload is not an alert record")

// Decode reads a record leniently: any JSON object is accepted, missing fields
// stay zero, and numeric fields may also arrive as numeric strings.
func Decode(data []byte) (Alert, error) {
	if !gjson.ValidBytes(data) {
		return Alert{}, ErrNotAlert
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return Alert{}, ErrNotAlert
	}
	fields := res.Get("{machine,severity,metric,value,threshold,ts,msg}")
	return Alert{
		Machine:   fields.Get("machine").String(),
		Severity:  fields.Get("severity").String(),
		Metric:    fields.Get("metric").String(),
		Value:     fields.Get("value").Float(),
		Threshold: fields.Get("threshold").Float(),
		TS:        fields.Get("ts").Int(),
		Msg:       fields.Get("msg").String(),
	}, nil
}
