package convex

import (
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type localQuery struct {
	queryId QueryId
	udfPath string
	args    map[string]any

	numSubscribers    int
	nextSubscriberSeq uint64
}

// authoritative record of what the client wants subscribed, and minting of
// version-stamped delta messages. Query identity is the QueryToken; duplicate
// subscribes share one QueryId and produce no wire message.
type LocalSyncState struct {
	nextQueryId     QueryId
	querySetVersion QuerySetVersion
	identityVersion IdentityVersion

	querySet       map[QueryToken]*localQuery
	queryIdToToken map[QueryId]QueryToken

	authToken    string
	hasAuthToken bool
}

func NewLocalSyncState() *LocalSyncState {
	return &LocalSyncState{
		nextQueryId:     0,
		querySetVersion: 0,
		identityVersion: 0,
		querySet:        map[QueryToken]*localQuery{},
		queryIdToToken:  map[QueryId]QueryToken{},
	}
}

func (self *LocalSyncState) QuerySetVersion() QuerySetVersion {
	return self.querySetVersion
}

func (self *LocalSyncState) IdentityVersion() IdentityVersion {
	return self.identityVersion
}

// the message is nil when the token already has a subscriber
func (self *LocalSyncState) Subscribe(udfPath string, args map[string]any) (ClientMessage, SubscriberId) {
	token := NewQueryToken(udfPath, args)

	if query, ok := self.querySet[token]; ok {
		subscriberId := SubscriberId{
			QueryId: query.queryId,
			Seq:     query.nextSubscriberSeq,
		}
		query.nextSubscriberSeq += 1
		query.numSubscribers += 1
		return nil, subscriberId
	}

	queryId := self.nextQueryId
	self.nextQueryId += 1

	query := &localQuery{
		queryId:           queryId,
		udfPath:           udfPath,
		args:              args,
		numSubscribers:    1,
		nextSubscriberSeq: 1,
	}
	self.querySet[token] = query
	self.queryIdToToken[queryId] = token

	baseVersion := self.querySetVersion
	self.querySetVersion += 1

	message := &ModifyQuerySet{
		BaseVersion: baseVersion,
		NewVersion:  self.querySetVersion,
		Modifications: []QuerySetModification{
			&AddQuery{
				QueryId: queryId,
				UdfPath: udfPath,
				Args:    args,
			},
		},
	}
	return message, SubscriberId{QueryId: queryId, Seq: 0}
}

// the message is nil while other subscribers remain.
// an unknown subscriber is a caller contract violation.
func (self *LocalSyncState) Unsubscribe(subscriberId SubscriberId) ClientMessage {
	token, ok := self.queryIdToToken[subscriberId.QueryId]
	if !ok {
		panic(fmt.Sprintf("Unsubscribe of unknown subscriber %s.", subscriberId))
	}
	query := self.querySet[token]

	query.numSubscribers -= 1
	if 0 < query.numSubscribers {
		return nil
	}

	delete(self.querySet, token)
	delete(self.queryIdToToken, subscriberId.QueryId)

	baseVersion := self.querySetVersion
	self.querySetVersion += 1

	return &ModifyQuerySet{
		BaseVersion: baseVersion,
		NewVersion:  self.querySetVersion,
		Modifications: []QuerySetModification{
			&RemoveQuery{
				QueryId: subscriberId.QueryId,
			},
		},
	}
}

// unconditional. Identical tokens are not de-duplicated.
func (self *LocalSyncState) SetAuth(token string) ClientMessage {
	baseVersion := self.identityVersion
	self.identityVersion += 1
	self.authToken = token
	self.hasAuthToken = true
	return &Authenticate{
		BaseVersion: baseVersion,
		Token:       token,
	}
}

// messages to bring a fresh connection up to the current desired state.
// the server has no memory of the old connection, so version counters reset
// and the single ModifyQuerySet carries an Add for every live query.
// local queries and subscribers are untouched.
func (self *LocalSyncState) Restart() []ClientMessage {
	messages := []ClientMessage{}

	if self.hasAuthToken {
		self.identityVersion = 1
		messages = append(messages, &Authenticate{
			BaseVersion: 0,
			Token:       self.authToken,
		})
	}

	queryIds := maps.Keys(self.queryIdToToken)
	slices.Sort(queryIds)
	modifications := []QuerySetModification{}
	for _, queryId := range queryIds {
		query := self.querySet[self.queryIdToToken[queryId]]
		modifications = append(modifications, &AddQuery{
			QueryId: query.queryId,
			UdfPath: query.udfPath,
			Args:    query.args,
		})
	}

	self.querySetVersion = 1
	messages = append(messages, &ModifyQuerySet{
		BaseVersion:   0,
		NewVersion:    1,
		Modifications: modifications,
	})

	return messages
}
