// Package httpupdate receives firmware images over HTTP.
//
// A transfer is a single `POST` whose body is the image. The image is written
// next to its final path and renamed into place once it has been received
// completely, so a failed transfer never clobbers the previous image.
package httpupdate // import "go.jonnrb.io/apgw/update/httpupdate"

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"

	"go.jonnrb.io/apgw/log"
	"go.jonnrb.io/apgw/update"
)

const PassphraseHeader = "X-Update-Passphrase"

// Receives transfer lifecycle callbacks. Implemented by *update.Gate.
type Session interface {
	Begin() error
	Complete()
	Fail(code int)
}

type Transport struct {
	Session Session

	// Required in the PassphraseHeader when set.
	Passphrase string

	// Where the received image ends up.
	ImagePath string

	// Zero means unlimited.
	MaxBytes int64

	// When set, a transfer must be addressed to and come from this network.
	// This is the wired subnet; access point clients are refused even though
	// they can route to the wired address.
	Trusted *net.IPNet

	accepting atomic.Bool
}

var _ update.Transport = (*Transport)(nil)

func (t *Transport) SetAccepting(accept bool) {
	t.accepting.Store(accept)
}

type writeError struct{ err error }

func (e writeError) Error() string { return e.err.Error() }

type fileWriter struct{ f *os.File }

func (w fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		err = writeError{err}
	}
	return n, err
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !t.trusted(r) {
		log.Warningf("httpupdate: refusing transfer from %s: not on %v", r.RemoteAddr, t.Trusted)
		http.Error(w, "updates are only accepted over the wired link", http.StatusForbidden)
		return
	}
	if !t.accepting.Load() {
		http.Error(w, "not accepting updates", http.StatusServiceUnavailable)
		return
	}

	switch err := t.Session.Begin(); {
	case errors.Is(err, update.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	n, code, err := t.receive(w, r)
	if err != nil {
		log.Warningf("httpupdate: transfer from %s failed: %v", r.RemoteAddr, err)
		t.Session.Fail(code)
		http.Error(w, err.Error(), statusFor(code))
		return
	}
	t.Session.Complete()
	log.V(2).Infof("httpupdate: received %d bytes from %s", n, r.RemoteAddr)
	fmt.Fprintf(w, "OK %d\n", n)
}

func statusFor(code int) int {
	switch code {
	case update.CodeAuth:
		return http.StatusUnauthorized
	case update.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	case update.CodeReceive:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (t *Transport) trusted(r *http.Request) bool {
	if t.Trusted == nil {
		return true
	}
	if la, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if !t.Trusted.Contains(hostIP(la.String())) {
			return false
		}
	}
	return t.Trusted.Contains(hostIP(r.RemoteAddr))
}

// Nil (which no network contains) if addr isn't host:port or an IP.
func hostIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	return net.ParseIP(host)
}

func (t *Transport) authorized(r *http.Request) bool {
	if t.Passphrase == "" {
		return true
	}
	got := r.Header.Get(PassphraseHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(t.Passphrase)) == 1
}

func (t *Transport) receive(w http.ResponseWriter, r *http.Request) (int64, int, error) {
	if !t.authorized(r) {
		return 0, update.CodeAuth, errors.New("httpupdate: bad passphrase")
	}
	if t.MaxBytes > 0 {
		if r.ContentLength > t.MaxBytes {
			return 0, update.CodeTooLarge, fmt.Errorf("httpupdate: image of %d bytes exceeds limit of %d", r.ContentLength, t.MaxBytes)
		}
		r.Body = http.MaxBytesReader(w, r.Body, t.MaxBytes)
	}

	part := t.ImagePath + ".part"
	f, err := os.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, update.CodeWrite, fmt.Errorf("httpupdate: error creating %q: %w", part, err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(part)
		}
	}()

	n, err := io.Copy(fileWriter{f}, r.Body)
	if err != nil {
		var (
			we  writeError
			mbe *http.MaxBytesError
		)
		switch {
		case errors.As(err, &we):
			return n, update.CodeWrite, fmt.Errorf("httpupdate: error writing %q: %w", part, we.err)
		case errors.As(err, &mbe):
			return n, update.CodeTooLarge, fmt.Errorf("httpupdate: image exceeds limit of %d bytes", mbe.Limit)
		default:
			return n, update.CodeReceive, fmt.Errorf("httpupdate: error receiving image: %w", err)
		}
	}
	if n == 0 {
		return 0, update.CodeReceive, errors.New("httpupdate: empty image")
	}

	if err := f.Sync(); err != nil {
		return n, update.CodeWrite, fmt.Errorf("httpupdate: error syncing %q: %w", part, err)
	}
	if err := f.Close(); err != nil {
		return n, update.CodeWrite, fmt.Errorf("httpupdate: error closing %q: %w", part, err)
	}
	if err := os.Rename(part, t.ImagePath); err != nil {
		os.Remove(part)
		ok = true
		return n, update.CodeWrite, fmt.Errorf("httpupdate: error moving image into place: %w", err)
	}
	ok = true
	return n, 0, nil
}
