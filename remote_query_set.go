package convex

import (
	"fmt"

	"golang.org/x/exp/maps"
)

// last-known-good server state per query, advanced by strictly ordered
// version-stamped transitions. After a reconnect the whole struct is replaced
// with a fresh one, in lock-step with `LocalSyncState.Restart`.
type RemoteQuerySet struct {
	version        StateVersion
	remoteQuerySet map[QueryId]FunctionResult

	logSink LogSink
}

func NewRemoteQuerySet(logSink LogSink) *RemoteQuerySet {
	return &RemoteQuerySet{
		version:        StateVersion{},
		remoteQuerySet: map[QueryId]FunctionResult{},
		logSink:        logSink,
	}
}

func (self *RemoteQuerySet) Version() StateVersion {
	return self.version
}

// a start version mismatch means the client's view of server state is stale.
// no state is mutated and the error is session-fatal, not retryable.
func (self *RemoteQuerySet) Transition(message *Transition) error {
	if message.StartVersion != self.version {
		return &SessionError{
			Reason: fmt.Sprintf(
				"Transition start version %s does not match remote version %s.",
				message.StartVersion,
				self.version,
			),
		}
	}

	for _, modification := range message.Modifications {
		// log lines are forwarded before the value they explain is applied
		switch v := modification.(type) {
		case *QueryUpdated:
			if 0 < len(v.LogLines) {
				self.logSink.QueryLogLines(v.QueryId, v.LogLines)
			}
			self.remoteQuerySet[v.QueryId] = ValueResult{Value: v.Value}
		case *QueryFailed:
			if 0 < len(v.LogLines) {
				self.logSink.QueryLogLines(v.QueryId, v.LogLines)
			}
			if v.ErrorData != nil {
				self.remoteQuerySet[v.QueryId] = ConvexErrorResult{
					Message: v.ErrorMessage,
					Data:    v.ErrorData,
				}
			} else {
				self.remoteQuerySet[v.QueryId] = ErrorMessageResult{
					Message: v.ErrorMessage,
				}
			}
		case *QueryRemoved:
			delete(self.remoteQuerySet, v.QueryId)
		}
	}

	self.version = message.EndVersion
	return nil
}

func (self *RemoteQuerySet) Snapshot() map[QueryId]FunctionResult {
	return maps.Clone(self.remoteQuerySet)
}
