package convex

import (
	"github.com/golang/glog"
)

// Logging convention follows the transfer engine components:
// Info:
//     essential events for abnormal behavior. Silent on normal operation.
//     this includes session-fatal errors and dropped responses
// V(1):
//     server log lines forwarded from query and write execution
// V(2):
//     frequent trace events - send, receive, deliver - with ids that can be
//     used to filter

// receives ordered server log lines attached to query modifications and write
// responses. Invoked before the corresponding value is applied, so log output
// always precedes the value it explains.
type LogSink interface {
	QueryLogLines(queryId QueryId, lines []string)
	RequestLogLines(requestId RequestId, lines []string)
}

type GlogSink struct{}

func (self *GlogSink) QueryLogLines(queryId QueryId, lines []string) {
	for _, line := range lines {
		glog.V(1).Infof("[q]%d %s\n", queryId, line)
	}
}

func (self *GlogSink) RequestLogLines(requestId RequestId, lines []string) {
	for _, line := range lines {
		glog.V(1).Infof("[r]%d %s\n", requestId, line)
	}
}
