package convex

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeModifyQuerySet(t *testing.T) {
	b, err := EncodeClientMessage(&ModifyQuerySet{
		BaseVersion: 0,
		NewVersion:  1,
		Modifications: []QuerySetModification{
			&AddQuery{
				QueryId: 0,
				UdfPath: "messages:list",
				Args:    map[string]any{"channel": "general"},
			},
		},
	})
	assert.Equal(t, err, nil)
	assert.Equal(
		t,
		`{"type":"ModifyQuerySet","base_version":0,"new_version":1,"modifications":[{"type":"Add","query_id":0,"udf_path":"messages:list","args":{"channel":"general"}}]}`,
		string(b),
	)
}

func TestEncodeAuthenticate(t *testing.T) {
	b, err := EncodeClientMessage(&Authenticate{
		BaseVersion: 0,
		Token:       "jwt",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, `{"type":"Authenticate","base_version":0,"token":"jwt"}`, string(b))
}

func TestClientMessageRoundTrip(t *testing.T) {
	messages := []ClientMessage{
		&ModifyQuerySet{
			BaseVersion: 3,
			NewVersion:  4,
			Modifications: []QuerySetModification{
				&AddQuery{QueryId: 2, UdfPath: "users:me", Args: map[string]any{}},
				&RemoveQuery{QueryId: 1},
			},
		},
		&Authenticate{BaseVersion: 2, Token: "jwt"},
		&MutationRequest{RequestId: 7, UdfPath: "messages:send", Args: map[string]any{"text": "hi"}},
		&ActionRequest{RequestId: 8, UdfPath: "emails:send", Args: map[string]any{"to": "a@b"}},
	}
	for _, message := range messages {
		b, err := EncodeClientMessage(message)
		assert.Equal(t, err, nil)
		decoded, err := DecodeClientMessage(b)
		assert.Equal(t, err, nil)
		assert.Equal(t, message, decoded)
	}
}

func TestServerMessageRoundTrip(t *testing.T) {
	ts := Timestamp(42)
	baseVersion := IdentityVersion(1)
	messages := []ServerMessage{
		&Transition{
			StartVersion: StateVersion{QuerySet: 1, Identity: 1, TS: 10},
			EndVersion:   StateVersion{QuerySet: 2, Identity: 1, TS: 11},
			Modifications: []QueryModification{
				&QueryUpdated{QueryId: 0, Value: []any{"hi"}, LogLines: []string{"log"}},
				&QueryFailed{QueryId: 1, ErrorMessage: "boom", ErrorData: map[string]any{"code": "BAD"}},
				&QueryRemoved{QueryId: 2},
			},
		},
		&MutationResponse{
			RequestId: 7,
			Result:    ValueResult{Value: "sent"},
			TS:        &ts,
			LogLines:  []string{"wrote 1 row"},
		},
		&MutationResponse{
			RequestId: 8,
			Result:    ErrorMessageResult{Message: "denied"},
		},
		&ActionResponse{
			RequestId: 9,
			Result:    ConvexErrorResult{Message: "bad", Data: map[string]any{"code": "BAD"}},
		},
		&AuthError{ErrorMessage: "expired", BaseVersion: &baseVersion},
		&FatalError{ErrorMessage: "tear down"},
		&Ping{},
	}
	for _, message := range messages {
		b, err := EncodeServerMessage(message)
		assert.Equal(t, err, nil)
		decoded, err := DecodeServerMessage(b)
		assert.Equal(t, err, nil)
		assert.Equal(t, message, decoded)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := DecodeServerMessage([]byte(`{"type":"Surprise"}`))
	assert.NotEqual(t, err, nil)

	_, err = DecodeClientMessage([]byte(`{"type":"Surprise"}`))
	assert.NotEqual(t, err, nil)
}

func TestQueryTokenCanonical(t *testing.T) {
	// key order does not matter
	a := NewQueryToken("f", map[string]any{"x": 1.0, "y": "z"})
	b := NewQueryToken("f", map[string]any{"y": "z", "x": 1.0})
	assert.Equal(t, a, b)

	// args matter
	c := NewQueryToken("f", map[string]any{"x": 2.0})
	assert.NotEqual(t, a, c)

	// path matters
	d := NewQueryToken("g", map[string]any{"x": 1.0, "y": "z"})
	assert.NotEqual(t, a, d)
}
