// Package health reports whether the gateway is doing its job: both
// interfaces ready and, optionally, an upstream host reachable through the
// wired side.
package health // import "go.jonnrb.io/apgw/health"

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.jonnrb.io/apgw/gateway"
	"golang.org/x/net/context/ctxhttp"
)

type Source interface {
	Snapshot() gateway.Snapshot
}

type HealthChecker struct {
	src      Source
	upstream string
	c        chan chan error
}

// Checks src. If upstream is set, a HEAD request to it must also succeed.
// Probes are serialized and stop when ctx is done.
func New(ctx context.Context, src Source, upstream string) *HealthChecker {
	hc := &HealthChecker{
		src:      src,
		upstream: upstream,
		c:        make(chan chan error),
	}
	if upstream != "" {
		go hc.loop(ctx)
	}
	return hc
}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	s := hc.src.Snapshot()
	if !s.Wired.Up() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "wired down (%v)\n", s.Wired.State)
		return
	}
	if !s.Wireless.Up() {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "ap down (%v)\n", s.Wireless.State)
		return
	}
	if !s.TranslationEnabled {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "translation disabled\n")
		return
	}

	if hc.upstream == "" {
		io.WriteString(w, "OK\n")
		return
	}

	var err error
	c := make(chan error, 1)
	select {
	case hc.c <- c:
		select {
		case err = <-c:
		case <-ctx.Done():
			err = ctx.Err()
		}
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, fmt.Sprintf("%v\n", err.Error()))
	} else {
		io.WriteString(w, "OK\n")
	}
}

func (hc *HealthChecker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ret := <-hc.c:
			func() {
				ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				defer cancel()

				ret <- httpHeadCheck(ctx, hc.upstream)
			}()
		}
	}
}

func httpHeadCheck(ctx context.Context, url string) error {
	resp, err := ctxhttp.Head(ctx, nil, url)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Asks the health endpoint of a gateway serving on httpAddr, copying the
// answer to out. Returns the HTTP status code.
func Probe(ctx context.Context, httpAddr string, out io.Writer) (int, error) {
	_, port, err := net.SplitHostPort(httpAddr)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: %w", httpAddr, err)
	}
	resp, err := ctxhttp.Get(ctx, nil, fmt.Sprintf("http://localhost:%v/health", port))
	if err != nil {
		return 0, fmt.Errorf("error connecting to healthcheck: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(out, resp.Body)
	return resp.StatusCode, nil
}
