package esdb

import (
	"fmt"

	esdbclient "github.com/EventStore/EventStore-Client-Go/v4/esdb"

	"github.com/arrowlake/ges"
)

// classify maps an EventStoreDB error onto the spec §7 taxonomy: a
// version-precondition failure becomes a ConflictUnknown the caller
// handles without an error; everything else becomes a wrapped
// ges.ErrTransient or ges.ErrFatal.
func classify(stream string, err error) (conflict bool, wrapped error) {
	if err == nil {
		return false, nil
	}
	esdbErr, ok := esdbclient.FromError(err)
	if !ok {
		return false, fmt.Errorf("ges-esdb: %w: %v", ges.ErrTransient, err)
	}

	switch esdbErr.Code() {
	case esdbclient.ErrorCodeWrongExpectedVersion:
		return true, nil
	case esdbclient.ErrorCodeResourceNotFound:
		// an empty/absent stream is not an error at this layer — callers
		// translate it into ges.EmptyToken with no events.
		return false, nil
	default:
		// Every other esdb error code, including transport-availability
		// failures, is treated as Fatal: only the two codes above are
		// attested in the grounding source, and guessing at the
		// classification of an unverified code risks retrying something
		// that should not be retried.
		return false, fmt.Errorf("ges-esdb: %w: %v", ges.ErrFatal, err)
	}
}
