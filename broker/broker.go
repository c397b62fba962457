package broker

import "sync"

// subscriberBuffer is the per-subscriber channel depth. A consumer that
// falls this far behind starts losing live events; durability comes from
// the bounded lists, not from live delivery.
const subscriberBuffer = 16

// Broker is an in-process, topic-addressed publish/subscribe registry.
// Construct one per process and pass it by reference to every component
// that broadcasts or subscribes.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[chan []byte]struct{}
}

func New() *Broker {
	return &Broker{topics: make(map[string]map[chan []byte]struct{})}
}

// Subscription is a single-consumer live event sequence for one topic.
type Subscription struct {
	// C receives every event published to the topic while the
	// subscription is active. It is closed by Cancel.
	C <-chan []byte

	broker *Broker
	topic  string
	ch     chan []byte
	once   sync.Once
}

// Subscribe registers a new consumer for topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	ch := make(chan []byte, subscriberBuffer)
	b.mu.Lock()
	subs := b.topics[topic]
	if subs == nil {
		subs = make(map[chan []byte]struct{})
		b.topics[topic] = subs
	}
	subs[ch] = struct{}{}
	b.mu.Unlock()
	return &Subscription{C: ch, broker: b, topic: topic, ch: ch}
}

// Cancel releases the topic registration and closes C. It is safe to call
// more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		if subs, ok := b.topics[s.topic]; ok {
			delete(subs, s.ch)
			if len(subs) == 0 {
				delete(b.topics, s.topic)
			}
		}
		b.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers data to every current subscriber of topic. Events
// published with no subscriber are dropped, and a subscriber whose buffer
// is full is skipped rather than blocking the publisher.
func (b *Broker) Publish(topic string, data []byte) {
	b.mu.RLock()
	for ch := range b.topics[topic] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.RUnlock()
}

// Subscribers reports the current consumer count for topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	n := len(b.topics[topic])
	b.mu.RUnlock()
	return n
}
