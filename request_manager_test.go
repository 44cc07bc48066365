package convex

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func awaitHandle(t *testing.T, handle *RequestHandle) FunctionResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := handle.Await(ctx)
	assert.Equal(t, err, nil)
	return result
}

func TestMutationLifecycle(t *testing.T) {
	manager := NewRequestManager()

	message := &MutationRequest{RequestId: 0, UdfPath: "messages:send", Args: map[string]any{"text": "hi"}}
	handle := manager.TrackRequest(message, 0, RequestKindMutation)
	assert.Equal(t, 1, manager.InflightCount())

	ts := Timestamp(10)
	err := manager.UpdateRequest(0, RequestKindMutation, ValueResult{Value: "ok"}, &ts)
	assert.Equal(t, err, nil)
	assert.Equal(t, ValueResult{Value: "ok"}, awaitHandle(t, handle))

	// a confirmed write stays tracked until a transition reaches its commit ts
	assert.Equal(t, 1, manager.InflightCount())
	assert.Equal(t, 0, len(manager.RemoveCompleted(9)))

	completed := manager.RemoveCompleted(10)
	assert.Equal(t, map[RequestId]struct{}{0: {}}, completed)
	assert.Equal(t, 0, manager.InflightCount())

	// a late duplicate response is an error, not a panic
	err = manager.UpdateRequest(0, RequestKindMutation, ValueResult{Value: "ok"}, &ts)
	assert.NotEqual(t, err, nil)
}

func TestMutationFailureRemovedImmediately(t *testing.T) {
	manager := NewRequestManager()

	message := &MutationRequest{RequestId: 1, UdfPath: "messages:send", Args: map[string]any{}}
	handle := manager.TrackRequest(message, 1, RequestKindMutation)

	err := manager.UpdateRequest(1, RequestKindMutation, ErrorMessageResult{Message: "boom"}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, ErrorMessageResult{Message: "boom"}, awaitHandle(t, handle))
	assert.Equal(t, 0, manager.InflightCount())
}

func TestActionRemovedImmediately(t *testing.T) {
	manager := NewRequestManager()

	message := &ActionRequest{RequestId: 2, UdfPath: "emails:send", Args: map[string]any{}}
	handle := manager.TrackRequest(message, 2, RequestKindAction)

	err := manager.UpdateRequest(2, RequestKindAction, ValueResult{Value: nil}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, ValueResult{}, awaitHandle(t, handle))
	assert.Equal(t, 0, manager.InflightCount())
}

func TestUpdateRequestKindMismatch(t *testing.T) {
	manager := NewRequestManager()

	message := &MutationRequest{RequestId: 3, UdfPath: "f", Args: map[string]any{}}
	manager.TrackRequest(message, 3, RequestKindMutation)

	err := manager.UpdateRequest(3, RequestKindAction, ValueResult{}, nil)
	assert.NotEqual(t, err, nil)

	err = manager.UpdateRequest(4, RequestKindMutation, ValueResult{}, nil)
	assert.NotEqual(t, err, nil)
}

func TestDuplicateResponseBeforeObservation(t *testing.T) {
	manager := NewRequestManager()

	message := &MutationRequest{RequestId: 5, UdfPath: "f", Args: map[string]any{}}
	manager.TrackRequest(message, 5, RequestKindMutation)

	ts := Timestamp(20)
	assert.Equal(t, manager.UpdateRequest(5, RequestKindMutation, ValueResult{Value: "ok"}, &ts), nil)

	// still tracked, but already resolved. the duplicate is reported, not fatal
	err := manager.UpdateRequest(5, RequestKindMutation, ValueResult{Value: "ok"}, &ts)
	assert.NotEqual(t, err, nil)
}

func TestRestartReEmitsUnrespondedInOrder(t *testing.T) {
	manager := NewRequestManager()

	message0 := &MutationRequest{RequestId: 0, UdfPath: "a", Args: map[string]any{}}
	message1 := &ActionRequest{RequestId: 1, UdfPath: "b", Args: map[string]any{}}
	message2 := &MutationRequest{RequestId: 2, UdfPath: "c", Args: map[string]any{}}
	manager.TrackRequest(message0, 0, RequestKindMutation)
	manager.TrackRequest(message1, 1, RequestKindAction)
	manager.TrackRequest(message2, 2, RequestKindMutation)

	// a responded request is not re-sent: the server already ran it
	ts := Timestamp(3)
	manager.UpdateRequest(1, RequestKindAction, ValueResult{}, nil)
	manager.UpdateRequest(2, RequestKindMutation, ValueResult{}, &ts)

	messages := manager.Restart()
	assert.Equal(t, 1, len(messages))
	assert.Equal(t, message0, messages[0].(*MutationRequest))
}

func TestDroppedHandleHasNoSideEffect(t *testing.T) {
	manager := NewRequestManager()

	message := &MutationRequest{RequestId: 6, UdfPath: "f", Args: map[string]any{}}
	manager.TrackRequest(message, 6, RequestKindMutation)

	// the caller dropped the handle. resolving it is still fine
	err := manager.UpdateRequest(6, RequestKindMutation, ValueResult{Value: "ok"}, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, 0, manager.InflightCount())
}
