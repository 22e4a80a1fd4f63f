package client

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds outbound HTTP client configuration.
type Config struct {
	Timeout time.Duration

	// CacheDir enables a disk cache; empty keeps responses in memory.
	CacheDir string

	// TLS is used for every connection when set (e.g. mutual TLS).
	TLS *tls.Config
}

// NewCachingHTTPClient creates an instrumented HTTP client that honours the
// server's cache headers. Directory responses such as group lists are cached
// for as long as the proxy allows.
func NewCachingHTTPClient(cfg Config) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLS != nil {
		base.TLSClientConfig = cfg.TLS
	}

	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cfg.CacheDir != "" {
		// Use disk-based cache for persistence across restarts
		cache = diskcache.New(cfg.CacheDir)
	}

	transport := httpcache.NewTransport(cache)
	transport.Transport = base

	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}
}

// NewInMemoryCachingHTTPClient creates an HTTP client with in-memory caching only.
// Suitable for testing or when disk caching is not desired.
func NewInMemoryCachingHTTPClient() *http.Client {
	return NewCachingHTTPClient(Config{})
}
