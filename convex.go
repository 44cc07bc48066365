package convex

import (
	"encoding/json"
	"fmt"

	"github.com/oklog/ulid/v2"

	"golang.org/x/exp/maps"
)

/*
Client-side sync state machine for a convex deployment with properties:
- the desired query set is reconciled against server-pushed version-stamped deltas
- identical subscriptions share one query id and one wire message
- fire-and-forget writes are correlated to out-of-order responses
- a full reconnect replays the desired query set and unresponded writes

The engine itself is a plain single-writer state machine. `Client` drives it
from one logical thread of control and owns the websocket transport.
*/

// comparable
// id for a client instance / session
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}

// allocated by the client, sent to the server so it can tag pushed results
type QueryId uint32

// correlates an outgoing mutation/action to its eventual response
type RequestId uint64

// advanced by exactly 1 per accepted add/remove batch on the desired query set
type QuerySetVersion uint32

// advanced on every auth change
type IdentityVersion uint64

// server logical clock
type Timestamp int64

// comparable
// a point in the remote query-set history as declared by the server
type StateVersion struct {
	QuerySet QuerySetVersion `json:"query_set"`
	Identity IdentityVersion `json:"identity"`
	TS       Timestamp       `json:"ts"`
}

func (self StateVersion) String() string {
	return fmt.Sprintf("(%d,%d,%d)", self.QuerySet, self.Identity, self.TS)
}

// comparable
// minted once per subscribe call and owned exclusively by that caller.
// duplicate subscribes to the same query share the query id with distinct seq.
type SubscriberId struct {
	QueryId QueryId
	Seq     uint64
}

func (self SubscriberId) String() string {
	return fmt.Sprintf("%d:%d", self.QueryId, self.Seq)
}

// canonical key for the logical identity of a query, used only for local
// de-duplication. Never sent over the wire.
type QueryToken string

func NewQueryToken(udfPath string, args map[string]any) QueryToken {
	return QueryToken(fmt.Sprintf("%s|%s", udfPath, canonicalJson(args)))
}

// a decoded json value
type Value = any

// `encoding/json` emits map keys in sorted order at every level,
// which makes the encoding canonical for decoded json values
func canonicalJson(value any) string {
	b, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("%#v", value)
	}
	return string(b)
}

// the externally visible snapshot. Each accessor call returns a consistent
// point-in-time copy.
type QueryResults struct {
	Subscribers map[SubscriberId]struct{}
	Results     map[QueryId]FunctionResult
}

func NewQueryResults() QueryResults {
	return QueryResults{
		Subscribers: map[SubscriberId]struct{}{},
		Results:     map[QueryId]FunctionResult{},
	}
}

func (self *QueryResults) Copy() QueryResults {
	return QueryResults{
		Subscribers: maps.Clone(self.Subscribers),
		Results:     maps.Clone(self.Results),
	}
}

// fatal, session-ending failure. The only recovery is to discard the
// transport, establish a new one, and either rebuild the engine or call
// `ResendOngoingQueriesMutations`. Never retried internally.
type SessionError struct {
	Reason string
}

func (self *SessionError) Error() string {
	return self.Reason
}
