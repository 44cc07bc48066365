package convex

import (
	"encoding/json"
	"fmt"
)

// wire messages are json text frames with a `type` envelope field.
// both directions of the codec are exported so that test servers and
// tooling can speak the protocol.

// client -> server

type ClientMessage interface {
	clientMessage()
}

type ModifyQuerySet struct {
	BaseVersion   QuerySetVersion
	NewVersion    QuerySetVersion
	Modifications []QuerySetModification
}

func (self *ModifyQuerySet) clientMessage() {}

type Authenticate struct {
	BaseVersion IdentityVersion
	Token       string
}

func (self *Authenticate) clientMessage() {}

type MutationRequest struct {
	RequestId RequestId
	UdfPath   string
	Args      map[string]any
}

func (self *MutationRequest) clientMessage() {}

type ActionRequest struct {
	RequestId RequestId
	UdfPath   string
	Args      map[string]any
}

func (self *ActionRequest) clientMessage() {}

type QuerySetModification interface {
	querySetModification()
}

type AddQuery struct {
	QueryId QueryId
	UdfPath string
	Args    map[string]any
}

func (self *AddQuery) querySetModification() {}

type RemoveQuery struct {
	QueryId QueryId
}

func (self *RemoveQuery) querySetModification() {}

// server -> client

type ServerMessage interface {
	serverMessage()
}

type Transition struct {
	StartVersion  StateVersion
	EndVersion    StateVersion
	Modifications []QueryModification
}

func (self *Transition) serverMessage() {}

type QueryModification interface {
	queryModification()
}

type QueryUpdated struct {
	QueryId  QueryId
	Value    Value
	LogLines []string
}

func (self *QueryUpdated) queryModification() {}

type QueryFailed struct {
	QueryId      QueryId
	ErrorMessage string
	// structured error data raised by the udf, if any
	ErrorData Value
	LogLines  []string
}

func (self *QueryFailed) queryModification() {}

type QueryRemoved struct {
	QueryId QueryId
}

func (self *QueryRemoved) queryModification() {}

type MutationResponse struct {
	RequestId RequestId
	Result    FunctionResult
	// commit timestamp, set on success
	TS       *Timestamp
	LogLines []string
}

func (self *MutationResponse) serverMessage() {}

type ActionResponse struct {
	RequestId RequestId
	Result    FunctionResult
	LogLines  []string
}

func (self *ActionResponse) serverMessage() {}

type AuthError struct {
	ErrorMessage string
	BaseVersion  *IdentityVersion
}

func (self *AuthError) serverMessage() {}

type FatalError struct {
	ErrorMessage string
}

func (self *FatalError) serverMessage() {}

type Ping struct{}

func (self *Ping) serverMessage() {}

// json wire forms

type querySetModificationJson struct {
	Type    string         `json:"type"`
	QueryId QueryId        `json:"query_id"`
	UdfPath string         `json:"udf_path,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

type modifyQuerySetJson struct {
	Type          string                     `json:"type"`
	BaseVersion   QuerySetVersion            `json:"base_version"`
	NewVersion    QuerySetVersion            `json:"new_version"`
	Modifications []querySetModificationJson `json:"modifications"`
}

type authenticateJson struct {
	Type        string          `json:"type"`
	BaseVersion IdentityVersion `json:"base_version"`
	Token       string          `json:"token"`
}

type requestJson struct {
	Type      string         `json:"type"`
	RequestId RequestId      `json:"request_id"`
	UdfPath   string         `json:"udf_path"`
	Args      map[string]any `json:"args"`
}

type queryModificationJson struct {
	Type         string          `json:"type"`
	QueryId      QueryId         `json:"query_id"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorData    json.RawMessage `json:"error_data,omitempty"`
	LogLines     []string        `json:"log_lines,omitempty"`
}

type transitionJson struct {
	Type          string                  `json:"type"`
	StartVersion  StateVersion            `json:"start_version"`
	EndVersion    StateVersion            `json:"end_version"`
	Modifications []queryModificationJson `json:"modifications"`
}

type functionResultJson struct {
	Status       string          `json:"status"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ErrorData    json.RawMessage `json:"error_data,omitempty"`
}

type mutationResponseJson struct {
	Type      string             `json:"type"`
	RequestId RequestId          `json:"request_id"`
	Result    functionResultJson `json:"result"`
	TS        *Timestamp         `json:"ts,omitempty"`
	LogLines  []string           `json:"log_lines,omitempty"`
}

type actionResponseJson struct {
	Type      string             `json:"type"`
	RequestId RequestId          `json:"request_id"`
	Result    functionResultJson `json:"result"`
	LogLines  []string           `json:"log_lines,omitempty"`
}

type authErrorJson struct {
	Type         string           `json:"type"`
	ErrorMessage string           `json:"error_message"`
	BaseVersion  *IdentityVersion `json:"base_version,omitempty"`
}

type fatalErrorJson struct {
	Type         string `json:"type"`
	ErrorMessage string `json:"error_message"`
}

type pingJson struct {
	Type string `json:"type"`
}

func encodeRawValue(value Value) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	b, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func decodeRawValue(raw json.RawMessage) (Value, error) {
	if raw == nil {
		return nil, nil
	}
	var value Value
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, err
	}
	return value, nil
}

func encodeFunctionResult(result FunctionResult) (functionResultJson, error) {
	switch v := result.(type) {
	case ValueResult:
		raw, err := encodeRawValue(v.Value)
		if err != nil {
			return functionResultJson{}, err
		}
		return functionResultJson{
			Status: "success",
			Value:  raw,
		}, nil
	case ErrorMessageResult:
		return functionResultJson{
			Status:       "error",
			ErrorMessage: v.Message,
		}, nil
	case ConvexErrorResult:
		raw, err := encodeRawValue(v.Data)
		if err != nil {
			return functionResultJson{}, err
		}
		return functionResultJson{
			Status:       "error",
			ErrorMessage: v.Message,
			ErrorData:    raw,
		}, nil
	default:
		return functionResultJson{}, fmt.Errorf("cannot encode function result %T", result)
	}
}

func decodeFunctionResult(resultJson functionResultJson) (FunctionResult, error) {
	switch resultJson.Status {
	case "success":
		value, err := decodeRawValue(resultJson.Value)
		if err != nil {
			return nil, err
		}
		return ValueResult{Value: value}, nil
	case "error":
		if resultJson.ErrorData != nil {
			errorData, err := decodeRawValue(resultJson.ErrorData)
			if err != nil {
				return nil, err
			}
			return ConvexErrorResult{
				Message: resultJson.ErrorMessage,
				Data:    errorData,
			}, nil
		}
		return ErrorMessageResult{Message: resultJson.ErrorMessage}, nil
	default:
		return nil, fmt.Errorf("cannot decode function result status %q", resultJson.Status)
	}
}

func EncodeClientMessage(message ClientMessage) ([]byte, error) {
	switch v := message.(type) {
	case *ModifyQuerySet:
		modifications := []querySetModificationJson{}
		for _, modification := range v.Modifications {
			switch m := modification.(type) {
			case *AddQuery:
				modifications = append(modifications, querySetModificationJson{
					Type:    "Add",
					QueryId: m.QueryId,
					UdfPath: m.UdfPath,
					Args:    m.Args,
				})
			case *RemoveQuery:
				modifications = append(modifications, querySetModificationJson{
					Type:    "Remove",
					QueryId: m.QueryId,
				})
			default:
				return nil, fmt.Errorf("cannot encode query set modification %T", modification)
			}
		}
		return json.Marshal(&modifyQuerySetJson{
			Type:          "ModifyQuerySet",
			BaseVersion:   v.BaseVersion,
			NewVersion:    v.NewVersion,
			Modifications: modifications,
		})
	case *Authenticate:
		return json.Marshal(&authenticateJson{
			Type:        "Authenticate",
			BaseVersion: v.BaseVersion,
			Token:       v.Token,
		})
	case *MutationRequest:
		return json.Marshal(&requestJson{
			Type:      "Mutation",
			RequestId: v.RequestId,
			UdfPath:   v.UdfPath,
			Args:      v.Args,
		})
	case *ActionRequest:
		return json.Marshal(&requestJson{
			Type:      "Action",
			RequestId: v.RequestId,
			UdfPath:   v.UdfPath,
			Args:      v.Args,
		})
	default:
		return nil, fmt.Errorf("cannot encode client message %T", message)
	}
}

func DecodeClientMessage(b []byte) (ClientMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case "ModifyQuerySet":
		var messageJson modifyQuerySetJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		modifications := []QuerySetModification{}
		for _, modificationJson := range messageJson.Modifications {
			switch modificationJson.Type {
			case "Add":
				modifications = append(modifications, &AddQuery{
					QueryId: modificationJson.QueryId,
					UdfPath: modificationJson.UdfPath,
					Args:    modificationJson.Args,
				})
			case "Remove":
				modifications = append(modifications, &RemoveQuery{
					QueryId: modificationJson.QueryId,
				})
			default:
				return nil, fmt.Errorf("cannot decode query set modification %q", modificationJson.Type)
			}
		}
		return &ModifyQuerySet{
			BaseVersion:   messageJson.BaseVersion,
			NewVersion:    messageJson.NewVersion,
			Modifications: modifications,
		}, nil
	case "Authenticate":
		var messageJson authenticateJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		return &Authenticate{
			BaseVersion: messageJson.BaseVersion,
			Token:       messageJson.Token,
		}, nil
	case "Mutation":
		var messageJson requestJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		return &MutationRequest{
			RequestId: messageJson.RequestId,
			UdfPath:   messageJson.UdfPath,
			Args:      messageJson.Args,
		}, nil
	case "Action":
		var messageJson requestJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		return &ActionRequest{
			RequestId: messageJson.RequestId,
			UdfPath:   messageJson.UdfPath,
			Args:      messageJson.Args,
		}, nil
	default:
		return nil, fmt.Errorf("cannot decode client message %q", envelope.Type)
	}
}

func EncodeServerMessage(message ServerMessage) ([]byte, error) {
	switch v := message.(type) {
	case *Transition:
		modifications := []queryModificationJson{}
		for _, modification := range v.Modifications {
			switch m := modification.(type) {
			case *QueryUpdated:
				raw, err := encodeRawValue(m.Value)
				if err != nil {
					return nil, err
				}
				modifications = append(modifications, queryModificationJson{
					Type:     "QueryUpdated",
					QueryId:  m.QueryId,
					Value:    raw,
					LogLines: m.LogLines,
				})
			case *QueryFailed:
				raw, err := encodeRawValue(m.ErrorData)
				if err != nil {
					return nil, err
				}
				modifications = append(modifications, queryModificationJson{
					Type:         "QueryFailed",
					QueryId:      m.QueryId,
					ErrorMessage: m.ErrorMessage,
					ErrorData:    raw,
					LogLines:     m.LogLines,
				})
			case *QueryRemoved:
				modifications = append(modifications, queryModificationJson{
					Type:    "QueryRemoved",
					QueryId: m.QueryId,
				})
			default:
				return nil, fmt.Errorf("cannot encode query modification %T", modification)
			}
		}
		return json.Marshal(&transitionJson{
			Type:          "Transition",
			StartVersion:  v.StartVersion,
			EndVersion:    v.EndVersion,
			Modifications: modifications,
		})
	case *MutationResponse:
		resultJson, err := encodeFunctionResult(v.Result)
		if err != nil {
			return nil, err
		}
		return json.Marshal(&mutationResponseJson{
			Type:      "MutationResponse",
			RequestId: v.RequestId,
			Result:    resultJson,
			TS:        v.TS,
			LogLines:  v.LogLines,
		})
	case *ActionResponse:
		resultJson, err := encodeFunctionResult(v.Result)
		if err != nil {
			return nil, err
		}
		return json.Marshal(&actionResponseJson{
			Type:      "ActionResponse",
			RequestId: v.RequestId,
			Result:    resultJson,
			LogLines:  v.LogLines,
		})
	case *AuthError:
		return json.Marshal(&authErrorJson{
			Type:         "AuthError",
			ErrorMessage: v.ErrorMessage,
			BaseVersion:  v.BaseVersion,
		})
	case *FatalError:
		return json.Marshal(&fatalErrorJson{
			Type:         "FatalError",
			ErrorMessage: v.ErrorMessage,
		})
	case *Ping:
		return json.Marshal(&pingJson{
			Type: "Ping",
		})
	default:
		return nil, fmt.Errorf("cannot encode server message %T", message)
	}
}

func DecodeServerMessage(b []byte) (ServerMessage, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Type {
	case "Transition":
		var messageJson transitionJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		modifications := []QueryModification{}
		for _, modificationJson := range messageJson.Modifications {
			switch modificationJson.Type {
			case "QueryUpdated":
				value, err := decodeRawValue(modificationJson.Value)
				if err != nil {
					return nil, err
				}
				modifications = append(modifications, &QueryUpdated{
					QueryId:  modificationJson.QueryId,
					Value:    value,
					LogLines: modificationJson.LogLines,
				})
			case "QueryFailed":
				errorData, err := decodeRawValue(modificationJson.ErrorData)
				if err != nil {
					return nil, err
				}
				modifications = append(modifications, &QueryFailed{
					QueryId:      modificationJson.QueryId,
					ErrorMessage: modificationJson.ErrorMessage,
					ErrorData:    errorData,
					LogLines:     modificationJson.LogLines,
				})
			case "QueryRemoved":
				modifications = append(modifications, &QueryRemoved{
					QueryId: modificationJson.QueryId,
				})
			default:
				return nil, fmt.Errorf("cannot decode query modification %q", modificationJson.Type)
			}
		}
		return &Transition{
			StartVersion:  messageJson.StartVersion,
			EndVersion:    messageJson.EndVersion,
			Modifications: modifications,
		}, nil
	case "MutationResponse":
		var messageJson mutationResponseJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		result, err := decodeFunctionResult(messageJson.Result)
		if err != nil {
			return nil, err
		}
		return &MutationResponse{
			RequestId: messageJson.RequestId,
			Result:    result,
			TS:        messageJson.TS,
			LogLines:  messageJson.LogLines,
		}, nil
	case "ActionResponse":
		var messageJson actionResponseJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		result, err := decodeFunctionResult(messageJson.Result)
		if err != nil {
			return nil, err
		}
		return &ActionResponse{
			RequestId: messageJson.RequestId,
			Result:    result,
			LogLines:  messageJson.LogLines,
		}, nil
	case "AuthError":
		var messageJson authErrorJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		return &AuthError{
			ErrorMessage: messageJson.ErrorMessage,
			BaseVersion:  messageJson.BaseVersion,
		}, nil
	case "FatalError":
		var messageJson fatalErrorJson
		if err := json.Unmarshal(b, &messageJson); err != nil {
			return nil, err
		}
		return &FatalError{
			ErrorMessage: messageJson.ErrorMessage,
		}, nil
	case "Ping":
		return &Ping{}, nil
	default:
		return nil, fmt.Errorf("cannot decode server message %q", envelope.Type)
	}
}
