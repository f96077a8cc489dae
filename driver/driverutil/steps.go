// Package driverutil holds the netlink plumbing shared by the link drivers.
package driverutil // import "go.jonnrb.io/apgw/driver/driverutil"

import "errors"

// One reversible piece of link configuration.
type Step interface {
	Start() error
	Stop() error
}

type StepFuncs struct {
	StartFunc func() error
	StopFunc  func() error
}

func (s StepFuncs) Start() error {
	return s.StartFunc()
}

func (s StepFuncs) Stop() error {
	if s.StopFunc == nil {
		return nil
	}
	return s.StopFunc()
}

// Starts and stops a list of steps in order. If a step fails to start, the
// steps already started are stopped in reverse order.
type Steps struct {
	Steps []Step

	started []Step
}

func (s *Steps) Start() error {
	s.started = make([]Step, 0, len(s.Steps))
	for _, st := range s.Steps {
		if err := st.Start(); err != nil {
			if errStop := s.Stop(); errStop != nil {
				return errors.Join(err, errStop)
			}
			return err
		}
		s.started = append(s.started, st)
	}
	return nil
}

// Stops the started steps in reverse order, attempting all of them.
func (s *Steps) Stop() error {
	var errs []error
	for i := len(s.started) - 1; i >= 0; i-- {
		if err := s.started[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.started = nil
	return errors.Join(errs...)
}
