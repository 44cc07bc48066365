package convex

// merges RemoteQuerySet snapshots into a stable, diffable view and reports
// exactly which queries changed since the previous snapshot.
type OptimisticQueryResults struct {
	queryResults map[QueryId]FunctionResult
}

func NewOptimisticQueryResults() *OptimisticQueryResults {
	return &OptimisticQueryResults{
		queryResults: map[QueryId]FunctionResult{},
	}
}

// returns the changed subset only: entries that are new or whose result
// differs by value equality from the previous snapshot. Re-ingesting an
// unchanged snapshot returns an empty map.
//
// completedRequests is the hook for an optimistic-write overlay: a fuller
// client drops speculative local overlays for queries whose underlying
// mutation just completed. With no overlays tracked it has no further effect.
func (self *OptimisticQueryResults) Ingest(
	newSnapshot map[QueryId]FunctionResult,
	completedRequests map[RequestId]struct{},
) map[QueryId]FunctionResult {
	changed := map[QueryId]FunctionResult{}
	for queryId, result := range newSnapshot {
		previous, ok := self.queryResults[queryId]
		if !ok || !previous.Equal(result) {
			changed[queryId] = result
		}
	}
	self.queryResults = newSnapshot
	return changed
}

// point read of the current merged view
func (self *OptimisticQueryResults) Lookup(queryId QueryId) (FunctionResult, bool) {
	result, ok := self.queryResults[queryId]
	return result, ok
}
