package log

import (
	"runtime"
	"strconv"
	"strings"
)

// SkipCaller returns the file:line of the caller skip frames up the stack.
func SkipCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "?"
	}
	return file + ":" + strconv.Itoa(line)
}

// PanicInvoker returns the file:line that raised the panic being recovered,
// skipping runtime frames.
func PanicInvoker(skipTip int) string {
	for {
		_, file, line, ok := runtime.Caller(skipTip)
		if !ok {
			return "?"
		} else if strings.HasSuffix(file, "runtime/panic.go") {
			skipTip++
			continue
		}

		return file + ":" + strconv.Itoa(line)
	}
}
