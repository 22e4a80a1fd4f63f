// Package tenant loads the static registry of accounting backends.
package tenant

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"

	"github.com/parusinf/timesheets-parus-bot/internal/pgpool"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort    = 5432
	defaultPoolMax = 4
)

var ErrEmptyRegistry = errors.New("tenant registry has no tenants")

// Connection holds the parameters of one tenant backend.
type Connection struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	ServiceName string `yaml:"service_name"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	PoolMin     int32  `yaml:"pool_min"`
	PoolMax     int32  `yaml:"pool_max"`
	SSLMode     string `yaml:"sslmode"`
}

// ConnString builds a libpq URL for the connection.
func (c Connection) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.ServiceName,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// PoolConfig returns the pool configuration for the connection.
func (c Connection) PoolConfig() *pgpool.Config {
	return &pgpool.Config{
		ConnString: c.ConnString(),
		MinConns:   c.PoolMin,
		MaxConns:   c.PoolMax,
	}
}

func (c *Connection) applyDefaults() {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.PoolMax == 0 {
		c.PoolMax = defaultPoolMax
	}
}

func (c *Connection) validate() error {
	switch {
	case c.Host == "":
		return fmt.Errorf("host is required")
	case c.ServiceName == "":
		return fmt.Errorf("service_name is required")
	case c.User == "":
		return fmt.Errorf("user is required")
	case c.PoolMin < 0 || c.PoolMin > c.PoolMax:
		return fmt.Errorf("pool_min %d must be between 0 and pool_max %d", c.PoolMin, c.PoolMax)
	}
	return nil
}

// Registry maps tenant keys to backend connections. It is immutable after load.
type Registry struct {
	tenants map[string]Connection
	keys    []string
}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tenant registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates registry YAML.
func Parse(data []byte) (*Registry, error) {
	var tenants map[string]Connection
	if err := yaml.Unmarshal(data, &tenants); err != nil {
		return nil, fmt.Errorf("failed to parse tenant registry: %w", err)
	}
	return New(tenants)
}

// New builds a registry from already decoded connections.
func New(tenants map[string]Connection) (*Registry, error) {
	if len(tenants) == 0 {
		return nil, ErrEmptyRegistry
	}

	r := &Registry{tenants: make(map[string]Connection, len(tenants))}
	for key, conn := range tenants {
		conn.applyDefaults()
		if err := conn.validate(); err != nil {
			return nil, fmt.Errorf("tenant %s: %w", key, err)
		}
		r.tenants[key] = conn
		r.keys = append(r.keys, key)
	}
	slices.Sort(r.keys)

	return r, nil
}

// Keys returns tenant keys in scan order.
func (r *Registry) Keys() []string {
	return slices.Clone(r.keys)
}

// Get returns the connection for a tenant.
func (r *Registry) Get(key string) (Connection, bool) {
	conn, ok := r.tenants[key]
	return conn, ok
}
