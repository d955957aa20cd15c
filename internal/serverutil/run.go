// Package serverutil runs the gateway's HTTP listener with graceful
// shutdown on context cancellation.
package serverutil

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds the drain when no timeout is configured.
const DefaultShutdownTimeout = 10 * time.Second

// TLSConfig names the certificate pair for a TLS listener. Both paths must
// be set together.
type TLSConfig struct {
	CertFile string
	KeyFile  string
}

func (c TLSConfig) enabled() bool {
	return c.CertFile != "" || c.KeyFile != ""
}

// Config controls Run.
type Config struct {
	// Server carries the listen address and handler.
	Server *http.Server
	TLS    TLSConfig
	// ShutdownTimeout bounds the drain of in-flight requests.
	ShutdownTimeout time.Duration
	// Ready, if non-nil, is closed once the listener is accepting.
	Ready chan<- struct{}
}

// Run serves cfg.Server until ctx is cancelled or the listener fails, then
// drains in-flight requests within ShutdownTimeout.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Server == nil {
		return errors.New("serverutil: nil server")
	}
	ln, err := listen(cfg)
	if err != nil {
		return err
	}
	if cfg.Ready != nil {
		close(cfg.Ready)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- cfg.Server.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cfg.Server.Shutdown(drainCtx); err != nil {
		return err
	}
	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func listen(cfg Config) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.enabled() {
		return ln, nil
	}
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		ln.Close()
		return nil, errors.New("serverutil: TLS requires both a certificate and a key file")
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		ln.Close()
		return nil, err
	}
	tlsCfg := cfg.Server.TLSConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{}
	} else {
		tlsCfg = tlsCfg.Clone()
	}
	tlsCfg.Certificates = append([]tls.Certificate{cert}, tlsCfg.Certificates...)
	return tls.NewListener(ln, tlsCfg), nil
}
