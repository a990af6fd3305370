package cli

import (
	"context"

	"github.com/tempolog/tempolog/internal/eventlog"
	"github.com/tempolog/tempolog/internal/schema"
	"github.com/tempolog/tempolog/internal/store"
)

// openStore opens the replica database and replays it into a live
// store. The returned cleanup closes the log.
func openStore(ctx context.Context, database string) (*store.Store, func(), error) {
	log, err := eventlog.Open(database)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "open event log", err)
	}

	validator, err := schema.NewValidator()
	if err != nil {
		log.Close()
		return nil, nil, WrapExitError(ExitCommandError, "compile schemas", err)
	}

	st, err := store.Open(ctx, log, validator)
	if err != nil {
		log.Close()
		return nil, nil, WrapExitError(ExitCommandError, "open store", err)
	}
	return st, func() { log.Close() }, nil
}
