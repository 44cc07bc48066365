package convex

import (
	"fmt"
)

// outcome of any query, mutation, or action
type FunctionResult interface {
	Equal(other FunctionResult) bool
	isFunctionResult()
}

type ValueResult struct {
	Value Value
}

func (self ValueResult) Equal(other FunctionResult) bool {
	v, ok := other.(ValueResult)
	return ok && canonicalJson(self.Value) == canonicalJson(v.Value)
}

func (self ValueResult) String() string {
	return canonicalJson(self.Value)
}

func (self ValueResult) isFunctionResult() {}

type ErrorMessageResult struct {
	Message string
}

func (self ErrorMessageResult) Equal(other FunctionResult) bool {
	v, ok := other.(ErrorMessageResult)
	return ok && self.Message == v.Message
}

func (self ErrorMessageResult) String() string {
	return fmt.Sprintf("error: %s", self.Message)
}

func (self ErrorMessageResult) isFunctionResult() {}

// an application error raised by the udf, with structured error data
type ConvexErrorResult struct {
	Message string
	Data    Value
}

func (self ConvexErrorResult) Equal(other FunctionResult) bool {
	v, ok := other.(ConvexErrorResult)
	return ok && self.Message == v.Message && canonicalJson(self.Data) == canonicalJson(v.Data)
}

func (self ConvexErrorResult) String() string {
	return fmt.Sprintf("error: %s %s", self.Message, canonicalJson(self.Data))
}

func (self ConvexErrorResult) isFunctionResult() {}
