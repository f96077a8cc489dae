package driverutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

type actionRecorder struct {
	a  []string
	mu sync.Mutex
}

func (r *actionRecorder) record(a string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.a = append(r.a, a)
}

func (r *actionRecorder) get() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return strings.Join(r.a, " ")
}

func step(r *actionRecorder, name string, startErr, stopErr bool) Step {
	return StepFuncs{
		StartFunc: func() error {
			r.record("start" + name)
			if startErr {
				return errors.New("fail" + name)
			}
			return nil
		},
		StopFunc: func() error {
			r.record("stop" + name)
			if stopErr {
				return errors.New("fail" + name)
			}
			return nil
		},
	}
}

func TestSteps(t *testing.T) {
	var r actionRecorder
	s := &Steps{Steps: []Step{
		step(&r, "S1", false, false),
		step(&r, "S2", false, false),
	}}

	if err := s.Start(); err != nil {
		t.Errorf("expected err == nil; got err == %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("expected err == nil; got err == %v", err)
	}
	if a := r.get(); a != "startS1 startS2 stopS2 stopS1" {
		t.Errorf("got bad action sequence: %v", a)
	}
}

func TestSteps_earlyStepFailsOnStart(t *testing.T) {
	var r actionRecorder
	s := &Steps{Steps: []Step{
		step(&r, "S1", true, false),
		step(&r, "S2", false, false),
	}}

	err := s.Start()

	if err == nil || err.Error() != "failS1" {
		t.Errorf("expected err == errors.New(\"failS1\"); got err == %v", err)
	}
	if a := r.get(); a != "startS1" {
		t.Errorf("got bad action sequence: %v", a)
	}
}

func TestSteps_lateStepFailsOnStart(t *testing.T) {
	var r actionRecorder
	s := &Steps{Steps: []Step{
		step(&r, "S1", false, false),
		step(&r, "S2", false, false),
		step(&r, "S3", true, false),
	}}

	err := s.Start()

	if err == nil || err.Error() != "failS3" {
		t.Errorf("expected err == errors.New(\"failS3\"); got err == %v", err)
	}
	if a := r.get(); a != "startS1 startS2 startS3 stopS2 stopS1" {
		t.Errorf("got bad action sequence: %v", a)
	}
}

func TestSteps_rollbackFails(t *testing.T) {
	var r actionRecorder
	s := &Steps{Steps: []Step{
		step(&r, "S1", false, true),
		step(&r, "S2", true, false),
	}}

	err := s.Start()

	if err == nil || !strings.Contains(err.Error(), "failS2") || !strings.Contains(err.Error(), "failS1") {
		t.Errorf("expected both the start and rollback errors; got err == %v", err)
	}
	if a := r.get(); a != "startS1 startS2 stopS1" {
		t.Errorf("got bad action sequence: %v", a)
	}
}

func TestSteps_stopAttemptsAll(t *testing.T) {
	var r actionRecorder
	s := &Steps{Steps: []Step{
		step(&r, "S1", false, false),
		step(&r, "S2", false, true),
	}}

	if err := s.Start(); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	err := s.Stop()

	if err == nil || err.Error() != "failS2" {
		t.Errorf("expected err == errors.New(\"failS2\"); got err == %v", err)
	}
	if a := r.get(); a != "startS1 startS2 stopS2 stopS1" {
		t.Errorf("got bad action sequence: %v", a)
	}

	// Nothing is left to stop.
	if err := s.Stop(); err != nil {
		t.Errorf("expected err == nil on second stop; got err == %v", err)
	}
}

func TestResolvConf(t *testing.T) {
	got := string(ResolvConf("8.8.8.8", "", "1.1.1.1"))
	want := "# Written by apgw.\nnameserver 8.8.8.8\nnameserver 1.1.1.1\n"
	if got != want {
		t.Errorf("expected %q; got %q", want, got)
	}
}

func TestWriteResolvConf(t *testing.T) {
	p := filepath.Join(t.TempDir(), "resolv.conf")
	if err := os.WriteFile(p, []byte("nameserver 9.9.9.9\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := WriteResolvConf(p, "8.8.8.8"); err != nil {
		t.Fatalf("expected err == nil; got err == %v", err)
	}
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), "nameserver 8.8.8.8\n") || strings.Contains(string(b), "9.9.9.9") {
		t.Errorf("unexpected resolv.conf: %q", b)
	}
}
