package wsf

import (
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/sirupsen/logrus"
)

// WarnRates bounds how often one warning category is logged.
var WarnRates = map[time.Duration]int{
	time.Second: 5,
	time.Minute: 60,
}

// ThrottledLog wraps a component logger and drops repeated warnings from hot
// paths such as pool exhaustion or ingress overflow.
type ThrottledLog struct {
	*logrus.Entry
	limiter *catrate.Limiter
}

// NewThrottledLog returns a logger tagged with component. A nil logger is
// replaced with a fresh logrus instance.
func NewThrottledLog(logger *logrus.Logger, component string) *ThrottledLog {
	if logger == nil {
		logger = logrus.New()
	}
	return &ThrottledLog{
		Entry:   logger.WithField("component", component),
		limiter: catrate.NewLimiter(WarnRates),
	}
}

// Throttled logs at warn level unless category exceeded its rate.
func (l *ThrottledLog) Throttled(category string, fields logrus.Fields, format string, args ...any) {
	if _, ok := l.limiter.Allow(category); !ok {
		return
	}
	l.Entry.WithFields(fields).WithField("category", category).Warnf(format, args...)
}
