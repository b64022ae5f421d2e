package duplex

import (
	"crypto/tls"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// CertWatcher hot-reloads a certificate/key pair off disk, handing
// Listeners a GetCertificate hook instead of a fixed tls.Certificate so a
// rotated cert takes effect without restarting the Context, spec.md
// §4.10's configuration-reload requirement.
type CertWatcher struct {
	certFile, keyFile string
	cur               atomic.Pointer[tls.Certificate]
	watcher           *fsnotify.Watcher
	logger            logFn
	stop              chan struct{}
}

type logFn func(prefix, format string, args ...any)

// NewCertWatcher loads certFile/keyFile once, then watches both paths for
// writes/renames (the common atomic-replace pattern editors and ACME
// clients use) and reloads on change.
func NewCertWatcher(certFile, keyFile string, logger logFn) (*CertWatcher, error) {
	cw := &CertWatcher{certFile: certFile, keyFile: keyFile, logger: logger, stop: make(chan struct{})}
	if err := cw.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(certFile); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(keyFile); err != nil {
		w.Close()
		return nil, err
	}
	cw.watcher = w
	go cw.run()
	return cw, nil
}

func (cw *CertWatcher) reload() error {
	cert, err := tls.LoadX509KeyPair(cw.certFile, cw.keyFile)
	if err != nil {
		return err
	}
	cw.cur.Store(&cert)
	return nil
}

func (cw *CertWatcher) run() {
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := cw.reload(); err != nil && cw.logger != nil {
				cw.logger(cw.certFile, "cert reload failed: %v", err)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.logger != nil {
				cw.logger(cw.certFile, "watch error: %v", err)
			}
		case <-cw.stop:
			return
		}
	}
}

// GetCertificate satisfies tls.Config.GetCertificate.
func (cw *CertWatcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cw.cur.Load(), nil
}

// Close stops the underlying fsnotify watcher.
func (cw *CertWatcher) Close() error {
	close(cw.stop)
	return cw.watcher.Close()
}
