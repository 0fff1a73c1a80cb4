package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// tsFormat keeps millisecond precision. Stream segments log many lines per
// second; whole-second stamps make their order ambiguous.
const tsFormat = "2006-01-02T15:04:05.000Z07:00"

// Info writes an info-level log line with the given fields.
func Info(msg string, fields map[string]any) {
	write("info", msg, fields)
}

// Warn writes a warn-level log line. Protocol anomalies the stream survives
// (stale rounds, trailing fragments, unknown events) land here so they can
// be alerted on separately from hard failures.
func Warn(msg string, fields map[string]any) {
	write("warn", msg, fields)
}

// Error writes an error-level log line with the given fields.
func Error(msg string, fields map[string]any) {
	write("error", msg, fields)
}

func write(level, msg string, fields map[string]any) {
	entry := make(map[string]any, len(fields)+3)
	entry["ts"] = time.Now().UTC().Format(tsFormat)
	entry["level"] = level
	entry["msg"] = msg
	for k, v := range fields {
		entry[k] = v
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stdout, `{"ts":"%s","level":"error","msg":"logger marshal failed","err":%q}`+"\n", time.Now().UTC().Format(tsFormat), err.Error())
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}
