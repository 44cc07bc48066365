package convex

import (
	"context"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type RequestKind int

const (
	RequestKindMutation RequestKind = iota
	RequestKindAction
)

func (self RequestKind) String() string {
	switch self {
	case RequestKindMutation:
		return "mutation"
	case RequestKindAction:
		return "action"
	default:
		return fmt.Sprintf("kind(%d)", int(self))
	}
}

// single-resolution completion handle for a mutation/action result.
// dropping the handle discards the eventual result and cancels nothing
// remotely. There is no network-level cancel message.
type RequestHandle struct {
	c chan FunctionResult
}

func newRequestHandle() *RequestHandle {
	return &RequestHandle{
		c: make(chan FunctionResult, 1),
	}
}

// blocks until a matching response resolves the handle elsewhere
func (self *RequestHandle) Await(ctx context.Context) (FunctionResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-self.c:
		return result, nil
	}
}

func (self *RequestHandle) resolve(result FunctionResult) {
	select {
	case self.c <- result:
	default:
		panic("Request resolved twice.")
	}
}

type requestStatus int

const (
	// sent, no response yet
	requestStatusRequested requestStatus = iota
	// responded with a commit timestamp, kept until a transition reaches it
	requestStatusCompleted
)

type trackedRequest struct {
	requestId RequestId
	kind      RequestKind
	message   ClientMessage
	handle    *RequestHandle

	status requestStatus
	ts     Timestamp
}

// correlates outgoing mutation/action requests with their asynchronous
// responses, independent of the query subscription lifecycle
type RequestManager struct {
	inflightRequests map[RequestId]*trackedRequest
}

func NewRequestManager() *RequestManager {
	return &RequestManager{
		inflightRequests: map[RequestId]*trackedRequest{},
	}
}

func (self *RequestManager) InflightCount() int {
	return len(self.inflightRequests)
}

func (self *RequestManager) TrackRequest(message ClientMessage, requestId RequestId, kind RequestKind) *RequestHandle {
	handle := newRequestHandle()
	self.inflightRequests[requestId] = &trackedRequest{
		requestId: requestId,
		kind:      kind,
		message:   message,
		handle:    handle,
		status:    requestStatusRequested,
	}
	return handle
}

// fulfills the matching handle. An unknown request id is reported but not
// fatal: a response can legitimately arrive after the request was already
// removed by timestamp-based completion, or be a duplicate after a resend.
func (self *RequestManager) UpdateRequest(requestId RequestId, kind RequestKind, result FunctionResult, ts *Timestamp) error {
	request, ok := self.inflightRequests[requestId]
	if !ok || request.kind != kind {
		return fmt.Errorf("no inflight %s request %d", kind, requestId)
	}
	if request.status != requestStatusRequested {
		return fmt.Errorf("%s request %d already resolved", kind, requestId)
	}

	request.handle.resolve(result)

	if kind == RequestKindMutation && ts != nil {
		// a confirmed write is observable once a transition reaches its
		// commit timestamp. Keep it tracked until then.
		request.status = requestStatusCompleted
		request.ts = *ts
	} else {
		delete(self.inflightRequests, requestId)
	}
	return nil
}

// removes confirmed writes whose commit timestamp has been reached and
// returns their request ids, so the caller can plumb them into
// `OptimisticQueryResults.Ingest`
func (self *RequestManager) RemoveCompleted(ts Timestamp) map[RequestId]struct{} {
	completed := map[RequestId]struct{}{}
	for requestId, request := range self.inflightRequests {
		if request.status == requestStatusCompleted && request.ts <= ts {
			completed[requestId] = struct{}{}
			delete(self.inflightRequests, requestId)
		}
	}
	return completed
}

// re-emits the original message for every request that never got a response,
// in request id order, so a fresh connection can recover in-flight writes.
// confirmed writes are not re-sent: the server already committed them.
func (self *RequestManager) Restart() []ClientMessage {
	requestIds := maps.Keys(self.inflightRequests)
	slices.Sort(requestIds)

	messages := []ClientMessage{}
	for _, requestId := range requestIds {
		request := self.inflightRequests[requestId]
		if request.status == requestStatusRequested {
			messages = append(messages, request.message)
		}
	}
	return messages
}
