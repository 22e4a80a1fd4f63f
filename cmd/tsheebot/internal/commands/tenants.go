package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/parusinf/timesheets-parus-bot/internal/logger"
	"github.com/parusinf/timesheets-parus-bot/internal/pgpool"
	"github.com/parusinf/timesheets-parus-bot/internal/tenant"
)

type TenantsCmd struct {
	List  TenantsListCmd  `cmd:"" help:"List registered tenants"`
	Check TenantsCheckCmd `cmd:"" help:"Connect to every tenant backend"`
}

type TenantsListCmd struct {
	Tenants string `help:"path to the tenant registry YAML" default:"tenants.yaml" env:"TSHEEBOT_TENANTS" type:"path"`
}

func (c *TenantsListCmd) Run(globals *Globals) error {
	reg, err := tenant.Load(c.Tenants)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tHOST\tDATABASE\tUSER\tPOOL")
	for _, key := range reg.Keys() {
		conn, _ := reg.Get(key)
		fmt.Fprintf(w, "%s\t%s:%d\t%s\t%s\t%d-%d\n",
			key, conn.Host, conn.Port, conn.ServiceName, conn.User, conn.PoolMin, conn.PoolMax)
	}
	return w.Flush()
}

type TenantsCheckCmd struct {
	Tenants string        `help:"path to the tenant registry YAML" default:"tenants.yaml" env:"TSHEEBOT_TENANTS" type:"path"`
	Timeout time.Duration `help:"per-tenant connect timeout" default:"10s"`
}

func (c *TenantsCheckCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	reg, err := tenant.Load(c.Tenants)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tSTATUS\tLATENCY")

	failed := 0
	for _, key := range reg.Keys() {
		conn, _ := reg.Get(key)
		cfg := conn.PoolConfig()
		cfg.ConnectAttempts = 1

		latency, err := checkTenant(ctx, cfg, c.Timeout)
		if err != nil {
			failed++
			log.Debug().Err(err).Str("tenant", key).Msg("Tenant check failed")
			fmt.Fprintf(w, "%s\tFAIL: %v\t-\n", key, err)
			continue
		}
		fmt.Fprintf(w, "%s\tOK\t%s\n", key, latency.Round(time.Millisecond))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d tenants unavailable", failed, len(reg.Keys()))
	}
	return nil
}

func checkTenant(ctx context.Context, cfg *pgpool.Config, timeout time.Duration) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	pool, err := pgpool.New(ctx, cfg)
	if err != nil {
		return 0, err
	}
	defer pool.Close()

	return time.Since(started), nil
}
