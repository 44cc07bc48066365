package convex

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

type ClientSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration

	SubscriptionBufferSize int
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		WsHandshakeTimeout:     2 * time.Second,
		ReconnectTimeout:       5 * time.Second,
		PingTimeout:            15 * time.Second,
		WriteTimeout:           5 * time.Second,
		ReadTimeout:            60 * time.Second,
		SubscriptionBufferSize: 16,
	}
}

// drives one SyncEngine from a single logical thread of control and owns the
// websocket transport. All engine access is serialized through `stateLock`;
// the read and write goroutines only hand decoded messages to the engine and
// drain its outgoing queue. One client per logical session.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId Id
	syncUrl    string
	settings   *ClientSettings

	stateLock     sync.Mutex
	engine        *SyncEngine
	subscriptions map[SubscriberId]*Subscription

	sendMonitor chan struct{}
}

func NewClientWithDefaults(ctx context.Context, syncUrl string, logSink LogSink) *Client {
	return NewClient(ctx, syncUrl, logSink, DefaultClientSettings())
}

func NewClient(ctx context.Context, syncUrl string, logSink LogSink, settings *ClientSettings) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		ctx:           cancelCtx,
		cancel:        cancel,
		instanceId:    NewId(),
		syncUrl:       syncUrl,
		settings:      settings,
		engine:        NewSyncEngine(logSink),
		subscriptions: map[SubscriberId]*Subscription{},
		sendMonitor:   make(chan struct{}, 1),
	}
	go client.run()
	return client
}

func (self *Client) InstanceId() Id {
	return self.instanceId
}

// a live query subscription owned by one subscriber.
// updates are delivered latest-wins when the subscriber is slow.
type Subscription struct {
	client       *Client
	subscriberId SubscriberId
	updates      chan FunctionResult

	// guarded by client.stateLock
	last         FunctionResult
	unsubscribed bool
}

func (self *Subscription) SubscriberId() SubscriberId {
	return self.subscriberId
}

// closed on unsubscribe
func (self *Subscription) Updates() <-chan FunctionResult {
	return self.updates
}

func (self *Subscription) Unsubscribe() {
	self.client.unsubscribe(self)
}

func (self *Client) Subscribe(udfPath string, args map[string]any) *Subscription {
	self.stateLock.Lock()
	subscriberId := self.engine.Subscribe(udfPath, args)
	subscription := &Subscription{
		client:       self,
		subscriberId: subscriberId,
		updates:      make(chan FunctionResult, self.settings.SubscriptionBufferSize),
	}
	// a duplicate subscribe sees the last known value immediately
	if result, ok := self.engine.QueryResult(subscriberId.QueryId); ok {
		subscription.last = result
		subscription.updates <- result
	}
	self.subscriptions[subscriberId] = subscription
	self.stateLock.Unlock()

	self.notifySend()
	return subscription
}

func (self *Client) unsubscribe(subscription *Subscription) {
	self.stateLock.Lock()
	if subscription.unsubscribed {
		self.stateLock.Unlock()
		return
	}
	subscription.unsubscribed = true
	delete(self.subscriptions, subscription.subscriberId)
	self.engine.Unsubscribe(subscription.subscriberId)
	close(subscription.updates)
	self.stateLock.Unlock()

	self.notifySend()
}

func (self *Client) Mutation(udfPath string, args map[string]any) *RequestHandle {
	self.stateLock.Lock()
	handle := self.engine.Mutation(udfPath, args)
	self.stateLock.Unlock()

	self.notifySend()
	return handle
}

func (self *Client) Action(udfPath string, args map[string]any) *RequestHandle {
	self.stateLock.Lock()
	handle := self.engine.Action(udfPath, args)
	self.stateLock.Unlock()

	self.notifySend()
	return handle
}

func (self *Client) SetAuth(token string) {
	if claims, err := ParseAuthClaimsUnverified(token); err == nil && claims.HasExpiry() {
		glog.V(1).Infof("[c]%s auth %s expires %s\n", self.instanceId, claims.Subject, claims.Expiry)
	}

	self.stateLock.Lock()
	self.engine.SetAuth(token)
	self.stateLock.Unlock()

	self.notifySend()
}

func (self *Client) LatestResults() QueryResults {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.engine.LatestResults()
}

func (self *Client) MaxObservedTimestamp() (Timestamp, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.engine.MaxObservedTimestamp()
}

func (self *Client) notifySend() {
	select {
	case self.sendMonitor <- struct{}{}:
	default:
	}
}

// caller holds stateLock
func (self *Client) deliver(snapshot *QueryResults) {
	for subscriberId, subscription := range self.subscriptions {
		result, ok := snapshot.Results[subscriberId.QueryId]
		if !ok {
			continue
		}
		if subscription.last != nil && subscription.last.Equal(result) {
			continue
		}
		subscription.last = result
		select {
		case subscription.updates <- result:
		default:
			// slow subscriber. drop the oldest so the latest wins
			select {
			case <-subscription.updates:
			default:
			}
			select {
			case subscription.updates <- result:
			default:
			}
			glog.V(2).Infof("[c]%s drop update %s\n", self.instanceId, subscriberId)
		}
	}
}

func (self *Client) run() {
	defer self.cancel()

	first := true
	for {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, self.syncUrl, nil)
		if err != nil {
			glog.Infof("[ws]%s connect error = %s\n", self.instanceId, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		self.stateLock.Lock()
		if !first {
			// the server has no memory of the old connection.
			// exactly once per reconnect, before any new calls interleave
			self.engine.ResendOngoingQueriesMutations()
		}
		first = false
		self.stateLock.Unlock()
		self.notifySend()

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-self.sendMonitor:
						if !self.drainOutgoing(ws) {
							return
						}
					case <-time.After(self.settings.PingTimeout):
						ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
						if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
							return
						}
					}
				}
			}()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					default:
					}

					ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
					_, b, err := ws.ReadMessage()
					if err != nil {
						glog.V(2).Infof("[ws]%s<- error = %s\n", self.instanceId, err)
						return
					}
					message, err := DecodeServerMessage(b)
					if err != nil {
						glog.Infof("[ws]%s<- decode error = %s\n", self.instanceId, err)
						return
					}

					self.stateLock.Lock()
					snapshot, err := self.engine.ReceiveMessage(message)
					if snapshot != nil {
						self.deliver(snapshot)
					}
					self.stateLock.Unlock()
					if err != nil {
						glog.Infof("[ws]%s session error = %s\n", self.instanceId, err)
						return
					}
					glog.V(2).Infof("[ws]%s<-\n", self.instanceId)
				}
			}()

			select {
			case <-handleCtx.Done():
			}
		}
		c()

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

// returns false on a write or encode error, which tears down the connection.
// a message popped but not delivered is regenerated by the restart messages
// on the next connection.
func (self *Client) drainOutgoing(ws *websocket.Conn) bool {
	for {
		self.stateLock.Lock()
		message, ok := self.engine.PopNextMessage()
		self.stateLock.Unlock()
		if !ok {
			return true
		}

		b, err := EncodeClientMessage(message)
		if err != nil {
			glog.Infof("[ws]%s-> encode error = %s\n", self.instanceId, err)
			return false
		}
		ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
		if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
			glog.Infof("[ws]%s-> error = %s\n", self.instanceId, err)
			return false
		}
		glog.V(2).Infof("[ws]%s->\n", self.instanceId)
	}
}

func (self *Client) Close() {
	self.cancel()
}
