package service

// Live event names pushed to websocket clients.
const (
	EventOrderCreated   = "order.created"
	EventOrderUpdated   = "order.updated"
	EventOrderArchived  = "order.archived"
	EventCashboxUpdated = "cashbox.updated"
)

// Publisher fans an event out to live clients. Implementations must not block.
type Publisher interface {
	Publish(event string, payload interface{})
}

type NopPublisher struct{}

func (NopPublisher) Publish(string, interface{}) {}
