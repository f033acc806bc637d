package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	xproxy "golang.org/x/net/proxy"
)

// ErrUnsupported is returned when no dispatcher can be built for a proxy type.
var ErrUnsupported = errors.New("unsupported proxy type")

// TransportOptions carries the per-request transport settings. A nil Dispatcher
// means the request goes out directly.
type TransportOptions struct {
	Dispatcher http.RoundTripper
	Proxy      *Config
}

// Stats summarises the loaded proxy list.
type Stats struct {
	Total       int          `json:"total"`
	ByType      map[Type]int `json:"byType"`
	WithAuth    int          `json:"withAuth"`
	WithoutAuth int          `json:"withoutAuth"`
}

// Registry holds the proxy list for the process lifetime. The list is loaded
// lazily on first use and never changes afterwards.
type Registry struct {
	path    string
	once    sync.Once
	proxies []Config

	randMu sync.Mutex
	rand   *rand.Rand

	dispMu      sync.Mutex
	dispatchers map[int]http.RoundTripper
}

// NewRegistry creates a registry that reads its list from path on first use.
// An empty path yields an empty registry.
func NewRegistry(path string) *Registry {
	return &Registry{
		path: path,
		rand: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// NewStaticRegistry creates a registry over an already parsed list.
func NewStaticRegistry(proxies []Config) *Registry {
	r := NewRegistry("")
	r.once.Do(func() {
		r.proxies = append([]Config(nil), proxies...)
	})
	return r
}

// WithRand replaces the random source used for selection.
func (r *Registry) WithRand(src *rand.Rand) *Registry {
	r.randMu.Lock()
	r.rand = src
	r.randMu.Unlock()
	return r
}

func (r *Registry) load() {
	r.once.Do(func() {
		if r.path == "" {
			return
		}

		f, err := os.Open(r.path)
		if err != nil {
			if os.IsNotExist(err) {
				log.Warn().Str("file", r.path).Msg("Proxy list not found, requests will go direct")
			} else {
				log.Error().Err(err).Str("file", r.path).Msg("Failed to open proxy list")
			}
			return
		}
		defer f.Close()

		r.proxies = Parse(f)
		stats := r.statsLocked()
		log.Info().
			Int("total", stats.Total).
			Interface("byType", stats.ByType).
			Msg("Loaded proxies")
	})
}

// Proxies returns a copy of the loaded list.
func (r *Registry) Proxies() []Config {
	r.load()
	return append([]Config(nil), r.proxies...)
}

// Len returns the number of valid proxies.
func (r *Registry) Len() int {
	r.load()
	return len(r.proxies)
}

// Select returns a uniformly random proxy, or nil when none are configured.
func (r *Registry) Select() *Config {
	idx := r.selectIndex()
	if idx < 0 {
		return nil
	}
	p := r.proxies[idx]
	return &p
}

func (r *Registry) selectIndex() int {
	r.load()
	if len(r.proxies) == 0 {
		return -1
	}

	r.randMu.Lock()
	defer r.randMu.Unlock()
	return r.rand.IntN(len(r.proxies))
}

// dispatcher returns the transport for the proxy at idx, building it on first
// use. Transports are reused so their idle connections are shared.
func (r *Registry) dispatcher(idx int) (http.RoundTripper, error) {
	r.dispMu.Lock()
	defer r.dispMu.Unlock()

	if d, ok := r.dispatchers[idx]; ok {
		return d, nil
	}
	d, err := NewDispatcher(r.proxies[idx])
	if err != nil {
		return nil, err
	}
	if r.dispatchers == nil {
		r.dispatchers = make(map[int]http.RoundTripper)
	}
	r.dispatchers[idx] = d
	return d, nil
}

// Stats returns counts by type and by authentication.
func (r *Registry) Stats() Stats {
	r.load()
	return r.statsLocked()
}

func (r *Registry) statsLocked() Stats {
	withAuth := lo.CountBy(r.proxies, func(p Config) bool { return p.HasAuth() })
	return Stats{
		Total:       len(r.proxies),
		ByType:      lo.CountValuesBy(r.proxies, func(p Config) Type { return p.Type }),
		WithAuth:    withAuth,
		WithoutAuth: len(r.proxies) - withAuth,
	}
}

// BuildTransportOptions returns base augmented with a dispatcher for a randomly
// selected proxy. When no proxy is configured, or a dispatcher cannot be built
// for the chosen one, base is returned unchanged and the request goes direct.
func (r *Registry) BuildTransportOptions(base TransportOptions) TransportOptions {
	idx := r.selectIndex()
	if idx < 0 {
		return base
	}
	p := r.proxies[idx]

	dispatcher, err := r.dispatcher(idx)
	if err != nil {
		log.Warn().Err(err).Str("proxy", p.String()).Msg("Failed to create proxy dispatcher, making direct request")
		return base
	}

	log.Debug().
		Str("proxy", p.String()).
		Bool("auth", p.HasAuth()).
		Msg("Using proxy")

	opts := base
	opts.Dispatcher = dispatcher
	opts.Proxy = &p
	return opts
}

// NewDispatcher builds an HTTP transport that routes through p.
func NewDispatcher(p Config) (http.RoundTripper, error) {
	transport := baseTransport()

	switch p.Type {
	case TypeHTTP, TypeHTTPS:
		transport.Proxy = http.ProxyURL(p.URL())
		// Target certificates are not verified when tunnelling through a proxy.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		return transport, nil

	case TypeSOCKS5:
		var auth *xproxy.Auth
		if p.HasAuth() {
			auth = &xproxy.Auth{User: p.Username, Password: p.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", p.Address(), auth, &net.Dialer{Timeout: 10 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to create socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", p)
		}
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return contextDialer.DialContext(ctx, network, addr)
		}
		return transport, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, p.Type)
	}
}

func baseTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
