// Command netmgrdemo wires a TCP-DNS listener and client through
// [netmgr.Manager] for manual smoke testing: it starts a listener that
// echoes back whatever length-prefixed payload it receives, then dials
// itself and prints the round trip.
package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"os"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/caarlos0/env/v7"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AdguardTeam/netmgr/internal/netmgr"
	"github.com/AdguardTeam/netmgr/internal/netmgr/metricsprom"
)

// config is read from the environment.
type config struct {
	ListenAddr string `env:"NETMGRDEMO_LISTEN_ADDR" envDefault:"127.0.0.1:0"`
	Workers    int    `env:"NETMGRDEMO_WORKERS" envDefault:"2"`
	UseTLS     bool   `env:"NETMGRDEMO_TLS" envDefault:"false"`
	Verbose    bool   `env:"NETMGRDEMO_VERBOSE" envDefault:"false"`
}

func main() {
	ctx := context.Background()

	cfg := &config{}
	err := env.Parse(cfg)
	errors.Check(err)

	logger := newLogger(cfg.Verbose)
	defer slogutil.RecoverAndExit(ctx, logger, osutil.ExitCodeFailure)

	if err = run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "demo failed", slogutil.KeyError, err)
		os.Exit(int(osutil.ExitCodeFailure))
	}
}

func newLogger(verbose bool) (logger *slog.Logger) {
	return slogutil.New(&slogutil.Config{
		Output:       os.Stdout,
		Format:       slogutil.FormatAdGuardLegacy,
		AddTimestamp: true,
		Verbose:      verbose,
	})
}

func run(ctx context.Context, cfg *config, logger *slog.Logger) (err error) {
	metricsListener, err := metricsprom.New("netmgrdemo", prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	m := netmgr.New(netmgr.Config{
		Workers: cfg.Workers,
		Timeouts: netmgr.Timeouts{
			Idle: 5000,
		},
		Metrics: metricsListener,
		Logger:  logger,
	})
	defer m.Destroy(ctx)

	var tlsServerConf, tlsClientConf *tls.Config
	if cfg.UseTLS {
		tlsServerConf, tlsClientConf, err = selfSignedTLSConfigs()
		if err != nil {
			return fmt.Errorf("building tls configs: %w", err)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)

	var addr net.Addr

	listenCfg := netmgr.ListenConfig{
		Addr:      cfg.ListenAddr,
		TLSConfig: tlsServerConf,
		OnAccept: func(ctx context.Context, h *netmgr.Handle, result error) {
			logger.InfoContext(ctx, "accepted connection", "peer", h.Peer(), slogutil.KeyError, result)
		},
		OnMessage: func(ctx context.Context, h *netmgr.Handle, result error, region []byte) {
			if result != nil {
				logger.InfoContext(ctx, "server recv failed", slogutil.KeyError, result)

				return
			}

			logger.InfoContext(ctx, "server received", "payload", string(region))

			h.Send(ctx, region, func(ctx context.Context, err error) {
				if err != nil {
					logger.ErrorContext(ctx, "server echo failed", slogutil.KeyError, err)
				}
			})
		},
	}

	var parent *netmgr.Socket
	if cfg.UseTLS {
		parent, err = netmgr.ListenTLSDNS(ctx, m, listenCfg)
	} else {
		parent, err = netmgr.ListenTCPDNS(ctx, m, listenCfg)
	}
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}
	defer parent.StopListening(ctx)

	addr = listenerAddr(parent)
	logger.InfoContext(ctx, "listening", "addr", addr)

	payload := []byte("hello netmgr")

	connectCfg := netmgr.ConnectConfig{
		Peer:      addr.String(),
		TimeoutMS: 2000,
		TLSConfig: tlsClientConf,
		OnConnect: func(ctx context.Context, h *netmgr.Handle, result error) {
			if result != nil {
				logger.ErrorContext(ctx, "client connect failed", slogutil.KeyError, result)
				wg.Done()

				return
			}

			logger.InfoContext(ctx, "client connected")

			h.Send(ctx, payload, func(ctx context.Context, err error) {
				if err != nil {
					logger.ErrorContext(ctx, "client send failed", slogutil.KeyError, err)
				}
			})
		},
		OnMessage: func(ctx context.Context, h *netmgr.Handle, result error, region []byte) {
			defer wg.Done()

			if result != nil {
				logger.ErrorContext(ctx, "client recv failed", slogutil.KeyError, result)

				return
			}

			logger.InfoContext(ctx, "client received echo", "payload", string(region))
		},
	}

	if cfg.UseTLS {
		netmgr.ConnectTLSDNS(ctx, m, connectCfg)
	} else {
		netmgr.ConnectTCPDNS(ctx, m, connectCfg)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.WarnContext(ctx, "timed out waiting for round trip")
	}

	return nil
}

func listenerAddr(parent *netmgr.Socket) (addr net.Addr) {
	return parent.Addr()
}

// selfSignedTLSConfigs builds a minimal self-signed cert pair for the demo's
// TLS-DNS mode: a server config presenting the cert, and a client config
// that trusts exactly it.
func selfSignedTLSConfigs() (serverConf, clientConf *tls.Config, err error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "netmgrdemo"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating certificate: %w", err)
	}

	cert := tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	serverConf = &tls.Config{Certificates: []tls.Certificate{cert}}
	clientConf = &tls.Config{RootCAs: pool, ServerName: "localhost"}

	return serverConf, clientConf, nil
}
