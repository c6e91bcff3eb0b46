// Command order-hub runs the webhook integration hub and its operator tools.
package main

import (
	"github.com/alecthomas/kong"
)

type Globals struct {
	Config   string   `help:"Path to the YAML config file." default:"config.yaml" type:"path"`
	EnvFile  []string `help:"Dotenv files read before the process environment." default:".env" sep:","`
	LogLevel string   `help:"Log level." default:"info" enum:"debug,info,warn,error"`
}

type CLI struct {
	Globals

	Serve      ServeCmd      `cmd:"" default:"1" help:"Serve provider webhooks."`
	Migrate    MigrateCmd    `cmd:"" help:"Apply database migrations and exit."`
	Replay     ReplayCmd     `cmd:"" help:"Move a dead-lettered event back to RETRYING."`
	MapBranch  MapBranchCmd  `cmd:"" name:"map-branch" help:"Create or update a branch mapping."`
	MapProduct MapProductCmd `cmd:"" name:"map-product" help:"Create or update a product mapping."`
	Events     EventsCmd     `cmd:"" help:"Show one event or list recent events."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("order-hub"),
		kong.Description("Receives delivery platform webhooks and forwards unified orders downstream."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
