package pgpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{ConnString: "postgres://u:p@localhost:5432/db"}
	cfg.ApplyDefaults()

	require.Equal(t, int32(20), cfg.MaxConns)
	require.Equal(t, int32(0), cfg.MinConns)
	require.Equal(t, int32(3600), cfg.MaxConnLifetime)
	require.Equal(t, int32(10), cfg.ConnectTimeout)
	require.Equal(t, uint(3), cfg.ConnectAttempts)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{ConnString: "postgres://localhost/db", MinConns: 1, MaxConns: 4}},
		{name: "missing conn string", cfg: Config{MaxConns: 4}, wantErr: true},
		{name: "min above max", cfg: Config{ConnString: "postgres://localhost/db", MinConns: 5, MaxConns: 4}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestConfig_PoolConfig(t *testing.T) {
	cfg := &Config{ConnString: "postgres://u:p@db.example:5433/parus", MinConns: 1, MaxConns: 4}
	cfg.ApplyDefaults()

	pc, err := cfg.PoolConfig()
	require.NoError(t, err)
	require.Equal(t, int32(4), pc.MaxConns)
	require.Equal(t, int32(1), pc.MinConns)
	require.Equal(t, "db.example", pc.ConnConfig.Host)
	require.Equal(t, uint16(5433), pc.ConnConfig.Port)
	require.Equal(t, 10*time.Second, pc.ConnConfig.ConnectTimeout)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := &Config{
		ConnString:      "postgres://u:p@127.0.0.1:1/db?sslmode=disable",
		ConnectTimeout:  1,
		ConnectAttempts: 1,
	}
	_, err := New(ctx, cfg)
	require.Error(t, err)
}
