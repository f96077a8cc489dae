// Package log is the gateway's logging facade. It is backed by glog, so
// verbosity and destinations come from glog's flags (-v, -logtostderr and
// friends). Tagged prefixes lines with an interface tag such as "[ETH]" or
// "[AP]" so per-interface output can be picked out of one stream.
package log // import "go.jonnrb.io/apgw/log"

type Log interface {
	FatalLog
	ErrorLog
	WarningLog
	InfoLog
}

type Level int

type FatalLog interface {
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
}

type ErrorLog interface {
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
}

type WarningLog interface {
	Warning(args ...interface{})
	Warningf(format string, args ...interface{})
}

type InfoLog interface {
	Info(args ...interface{})
	Infof(format string, args ...interface{})
}

func Fatal(args ...interface{}) {
	get().Fatal(args...)
}

func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}

func Error(args ...interface{}) {
	get().Error(args...)
}

func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

func Warning(args ...interface{}) {
	get().Warning(args...)
}

func Warningf(format string, args ...interface{}) {
	get().Warningf(format, args...)
}

func Info(args ...interface{}) {
	get().Info(args...)
}

func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func V(level Level) InfoLog {
	return wrapI{getV(level)}
}

// Tagged returns a Log whose messages are all prefixed with tag. Each
// interface gets one ("[ETH]", "[AP]") so the console reads like a per-link
// event stream.
func Tagged(tag string) Log {
	return tagged{tag: tag}
}
