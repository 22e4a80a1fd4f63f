package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/parusinf/timesheets-parus-bot/cmd/tsheebot/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool `help:"Enable debug mode." env:"TSHEEBOT_DEBUG"`
		Version kong.VersionFlag
		Serve   commands.ServeCmd   `cmd:"" help:"Start the webhook server"`
		Tenants commands.TenantsCmd `cmd:"" help:"Inspect the tenant registry"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("tsheebot"),
		kong.Description("Attendance report exchange between chat contacts and Parus"),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
