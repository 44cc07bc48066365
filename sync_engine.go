package convex

import (
	"fmt"

	"github.com/golang/glog"
)

// composes the local desired state, the remote query set, the optimistic
// results view, and the request table. The engine is not concurrent: it is a
// plain state machine driven from a single logical thread of control. The
// embedding application serializes all calls and runs network i/o on separate
// tasks that hand decoded messages in and drain the outgoing queue.
type SyncEngine struct {
	logSink LogSink

	localState     *LocalSyncState
	remoteQuerySet *RemoteQuerySet
	optimistic     *OptimisticQueryResults
	requestManager *RequestManager

	nextRequestId RequestId
	// fifo, drained by PopNextMessage
	outgoing []ClientMessage

	results QueryResults

	maxObservedTimestamp Timestamp
	hasObservedTimestamp bool
}

func NewSyncEngine(logSink LogSink) *SyncEngine {
	if logSink == nil {
		logSink = &GlogSink{}
	}
	return &SyncEngine{
		logSink:        logSink,
		localState:     NewLocalSyncState(),
		remoteQuerySet: NewRemoteQuerySet(logSink),
		optimistic:     NewOptimisticQueryResults(),
		requestManager: NewRequestManager(),
		nextRequestId:  0,
		outgoing:       []ClientMessage{},
		results:        NewQueryResults(),
	}
}

func (self *SyncEngine) enqueue(message ClientMessage) {
	self.outgoing = append(self.outgoing, message)
}

// always succeeds locally. At most one ModifyQuerySet is enqueued per
// distinct query token.
func (self *SyncEngine) Subscribe(udfPath string, args map[string]any) SubscriberId {
	message, subscriberId := self.localState.Subscribe(udfPath, args)
	if _, ok := self.results.Subscribers[subscriberId]; ok {
		panic(fmt.Sprintf("Duplicate subscriber %s.", subscriberId))
	}
	self.results.Subscribers[subscriberId] = struct{}{}
	if message != nil {
		self.enqueue(message)
	}
	return subscriberId
}

// fatal if the subscriber is unknown or already removed
func (self *SyncEngine) Unsubscribe(subscriberId SubscriberId) {
	if _, ok := self.results.Subscribers[subscriberId]; !ok {
		panic(fmt.Sprintf("Unsubscribe of unknown subscriber %s.", subscriberId))
	}
	delete(self.results.Subscribers, subscriberId)
	if message := self.localState.Unsubscribe(subscriberId); message != nil {
		self.enqueue(message)
	}
}

func (self *SyncEngine) Mutation(udfPath string, args map[string]any) *RequestHandle {
	requestId := self.nextRequestId
	self.nextRequestId += 1

	message := &MutationRequest{
		RequestId: requestId,
		UdfPath:   udfPath,
		Args:      args,
	}
	handle := self.requestManager.TrackRequest(message, requestId, RequestKindMutation)
	self.enqueue(message)
	return handle
}

func (self *SyncEngine) Action(udfPath string, args map[string]any) *RequestHandle {
	requestId := self.nextRequestId
	self.nextRequestId += 1

	message := &ActionRequest{
		RequestId: requestId,
		UdfPath:   udfPath,
		Args:      args,
	}
	handle := self.requestManager.TrackRequest(message, requestId, RequestKindAction)
	self.enqueue(message)
	return handle
}

func (self *SyncEngine) SetAuth(token string) {
	self.enqueue(self.localState.SetAuth(token))
}

// fifo drain of the outgoing queue. The transport is solely responsible for
// actually sending the message.
func (self *SyncEngine) PopNextMessage() (ClientMessage, bool) {
	if len(self.outgoing) == 0 {
		return nil, false
	}
	message := self.outgoing[0]
	self.outgoing[0] = nil
	self.outgoing = self.outgoing[1:]
	return message, true
}

func (self *SyncEngine) observeTimestamp(ts Timestamp) {
	if !self.hasObservedTimestamp || self.maxObservedTimestamp < ts {
		self.maxObservedTimestamp = ts
		self.hasObservedTimestamp = true
	}
}

// dispatches one decoded server message. Returns the full updated results
// snapshot for transitions, nil for messages that do not change subscription
// data, and a `*SessionError` when the session must be torn down.
func (self *SyncEngine) ReceiveMessage(message ServerMessage) (*QueryResults, error) {
	switch v := message.(type) {
	case *Transition:
		self.observeTimestamp(v.EndVersion.TS)
		if err := self.remoteQuerySet.Transition(v); err != nil {
			return nil, err
		}
		completed := self.requestManager.RemoveCompleted(v.EndVersion.TS)
		changed := self.optimistic.Ingest(self.remoteQuerySet.Snapshot(), completed)
		for queryId, result := range changed {
			self.results.Results[queryId] = result
		}
		for queryId := range self.results.Results {
			if _, ok := self.optimistic.Lookup(queryId); !ok {
				delete(self.results.Results, queryId)
			}
		}
		snapshot := self.results.Copy()
		return &snapshot, nil
	case *MutationResponse:
		if v.TS != nil {
			self.observeTimestamp(*v.TS)
		}
		if 0 < len(v.LogLines) {
			self.logSink.RequestLogLines(v.RequestId, v.LogLines)
		}
		if err := self.requestManager.UpdateRequest(v.RequestId, RequestKindMutation, v.Result, v.TS); err != nil {
			// duplicate response, or the write was already completed by timestamp
			glog.V(1).Infof("[e]drop mutation response = %s\n", err)
		}
		return nil, nil
	case *ActionResponse:
		if 0 < len(v.LogLines) {
			self.logSink.RequestLogLines(v.RequestId, v.LogLines)
		}
		if err := self.requestManager.UpdateRequest(v.RequestId, RequestKindAction, v.Result, nil); err != nil {
			glog.V(1).Infof("[e]drop action response = %s\n", err)
		}
		return nil, nil
	case *AuthError:
		return nil, &SessionError{
			Reason: v.ErrorMessage,
		}
	case *FatalError:
		return nil, &SessionError{
			Reason: v.ErrorMessage,
		}
	case *Ping:
		return nil, nil
	default:
		glog.V(1).Infof("[e]drop unknown server message %T\n", message)
		return nil, nil
	}
}

// prepares the engine for a fresh connection: the remote query set is
// replaced with an empty one, stale queued deltas are discarded, and the
// restart messages for the desired query set and unresponded writes are
// enqueued in order. Must be called exactly once per reconnect, before any
// new subscribe/mutation calls interleave.
func (self *SyncEngine) ResendOngoingQueriesMutations() {
	self.remoteQuerySet = NewRemoteQuerySet(self.logSink)
	self.outgoing = []ClientMessage{}
	self.outgoing = append(self.outgoing, self.localState.Restart()...)
	self.outgoing = append(self.outgoing, self.requestManager.Restart()...)
}

// point-in-time copy of the externally visible results
func (self *SyncEngine) LatestResults() QueryResults {
	return self.results.Copy()
}

// point read of one query in the current merged view
func (self *SyncEngine) QueryResult(queryId QueryId) (FunctionResult, bool) {
	return self.optimistic.Lookup(queryId)
}

// running maximum of every server timestamp seen, from transitions and
// mutation confirmations
func (self *SyncEngine) MaxObservedTimestamp() (Timestamp, bool) {
	return self.maxObservedTimestamp, self.hasObservedTimestamp
}
