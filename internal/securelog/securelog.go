package securelog

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// Error logs an error without including user-provided data.
// It records the caller location and error type chain, never the message.
// A nil logger falls back to the logrus standard logger.
func Error(logger logrus.FieldLogger, op string, err error) {
	if err == nil {
		return
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	fields := logrus.Fields{
		"at":    callerLocation(2),
		"types": strings.Join(errorTypes(err), "->"),
	}
	if op != "" {
		fields["op"] = op
	}
	logger.WithFields(fields).Error("operation failed")
}

func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	name := "unknown"
	if fn != nil {
		name = fn.Name()
	}
	return fmt.Sprintf("%s:%d %s", file, line, name)
}

func errorTypes(err error) []string {
	types := []string{}
	seen := map[string]struct{}{}
	for err != nil {
		name := fmt.Sprintf("%T", err)
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			types = append(types, name)
		}
		err = errors.Unwrap(err)
	}
	return types
}
