package log

// V() wraps its implementation in one extra call so that the glog
// implementation can always consider the user's frame to be a fixed depth
// above it.

type wrapI struct {
	i InfoLog
}

func (w wrapI) Info(args ...interface{}) {
	w.i.Info(args...)
}

func (w wrapI) Infof(format string, args ...interface{}) {
	w.i.Infof(format, args...)
}

type emptyI struct{}

func (emptyI) Info(...interface{}) {}

func (emptyI) Infof(string, ...interface{}) {}
