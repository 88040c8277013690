package kernel

import (
	"fmt"
	"strings"
)

// DebugLog collects the messages actors log while the machine runs in
// debug mode.
type DebugLog struct {
	buf *strings.Builder
}

func NewDebugLog() *DebugLog {
	return &DebugLog{buf: &strings.Builder{}}
}

func (debug *DebugLog) Printfln(msg string, args ...interface{}) {
	debug.buf.WriteString(fmt.Sprintf(msg, args...))
	debug.buf.WriteString("\n")
}

func (debug *DebugLog) String() string {
	if debug == nil {
		return ""
	}
	return debug.buf.String()
}
