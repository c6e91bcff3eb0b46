package gocommand

import (
	hubcommand "github.com/goliatone/go-order-hub/command"
	"github.com/goliatone/go-order-hub/core"
	hubquery "github.com/goliatone/go-order-hub/query"
)

// OperatorDeps are the collaborators behind the operator commands and
// queries. Nil members skip the handlers that need them.
type OperatorDeps struct {
	Replayer hubcommand.DeadLetterReplayer
	Mappings core.MappingWriter
	Events   hubquery.EventReader
	Breakers hubquery.BreakerStateReader
}

// RegisterOperators adds every operator handler whose dependency is present.
// On error the bus is closed.
func RegisterOperators(bus *Bus, deps OperatorDeps) (err error) {
	defer func() {
		if err != nil {
			bus.Close()
		}
	}()

	if deps.Replayer != nil {
		if err = AddCommand(bus, hubcommand.NewReplayDeadLetterCommand(deps.Replayer)); err != nil {
			return err
		}
	}
	if deps.Mappings != nil {
		if err = AddCommand(bus, hubcommand.NewUpsertBranchMappingCommand(deps.Mappings)); err != nil {
			return err
		}
		if err = AddCommand(bus, hubcommand.NewUpsertProductMappingCommand(deps.Mappings)); err != nil {
			return err
		}
	}
	if deps.Events != nil {
		if err = AddQuery(bus, hubquery.NewGetWebhookEventQuery(deps.Events)); err != nil {
			return err
		}
		if err = AddQuery(bus, hubquery.NewListWebhookEventsQuery(deps.Events)); err != nil {
			return err
		}
	}
	if deps.Breakers != nil {
		if err = AddQuery(bus, hubquery.NewGetBreakerStateQuery(deps.Breakers)); err != nil {
			return err
		}
	}
	return nil
}
