package docker

import (
	"strconv"
	"strings"
	"time"
)

// Decode turns runtime output into text. Invalid UTF-8 sequences become
// U+FFFD so the same bytes always yield the same string.
func Decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

// Seconds formats a timeout the way reports state it, e.g. "5s" or "2.5s".
func Seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}

// TimeoutMessage is the stderr text synthesized for a timed out command.
func TimeoutMessage(d time.Duration) string {
	return "Command timed out (" + Seconds(d) + ")"
}
