// Package command holds the operator mutations exposed through go-command.
// Each command validates nothing beyond its dependencies; message validation
// happens in the dispatcher before Execute runs.
package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-order-hub/core"
)

type DeadLetterReplayer interface {
	ReplayDeadLetter(ctx context.Context, eventID string) (core.WebhookEvent, error)
}

type ReplayDeadLetterCommand struct {
	replayer DeadLetterReplayer
}

func NewReplayDeadLetterCommand(replayer DeadLetterReplayer) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{replayer: replayer}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.replayer == nil {
		return core.MissingDependency("dead letter replayer")
	}
	out, err := c.replayer.ReplayDeadLetter(ctx, msg.EventID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertBranchMappingCommand struct {
	writer core.MappingWriter
}

func NewUpsertBranchMappingCommand(writer core.MappingWriter) *UpsertBranchMappingCommand {
	return &UpsertBranchMappingCommand{writer: writer}
}

func (c *UpsertBranchMappingCommand) Execute(ctx context.Context, msg UpsertBranchMappingMessage) error {
	if c == nil || c.writer == nil {
		return core.MissingDependency("mapping writer")
	}
	out, err := c.writer.UpsertBranch(ctx, msg.Mapping)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertProductMappingCommand struct {
	writer core.MappingWriter
}

func NewUpsertProductMappingCommand(writer core.MappingWriter) *UpsertProductMappingCommand {
	return &UpsertProductMappingCommand{writer: writer}
}

func (c *UpsertProductMappingCommand) Execute(ctx context.Context, msg UpsertProductMappingMessage) error {
	if c == nil || c.writer == nil {
		return core.MissingDependency("mapping writer")
	}
	out, err := c.writer.UpsertProduct(ctx, msg.Mapping)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[ReplayDeadLetterMessage]     = (*ReplayDeadLetterCommand)(nil)
	_ gocmd.Commander[UpsertBranchMappingMessage]  = (*UpsertBranchMappingCommand)(nil)
	_ gocmd.Commander[UpsertProductMappingMessage] = (*UpsertProductMappingCommand)(nil)
)
