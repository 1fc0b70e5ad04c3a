package logsink

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders fallback log lines as "time level msg field=...",
// the layout the taskManager degrades to once the external viewer is
// unreachable. The fallback path only ever runs on this process, so
// there is no remote viewer UI to align columns with.
type formatter struct {
	timeLayout string
}

// NewFallbackLogger builds the logrus.Logger used once a Sink degrades to
// local output.
func NewFallbackLogger() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&formatter{timeLayout: "2006-01-02T15:04:05.000Z07:00"})
	return l
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format(f.timeLayout))
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(entry.Level.String()))
	b.WriteByte(' ')
	b.WriteString(entry.Message)
	if len(entry.Data) > 0 {
		b.WriteByte(' ')
		b.WriteString(buildFields(entry))
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func buildFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		str, ok := val.(string)
		if !ok {
			str = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+str)
	}
	return strings.Join(fields, " ")
}
