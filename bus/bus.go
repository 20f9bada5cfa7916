// bus/bus.go
package bus

import (
	"sync"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Token is a single element in a topic path: a string or an int
// (pin numbers and timer ids address naturally as ints).
type Token = any

// Topic is a sequence of tokens, e.g. Topic{"hal", "state"} or
// Topic{"hal", "gpio", 17, "event"}.
type Topic []Token

// Subscription topics may use MQTT-style wildcards: Plus matches exactly one
// token at its level, Hash matches the remainder of the topic (including an
// empty remainder). Publish topics must be literal.
const (
	Plus = "+"
	Hash = "#"
)

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	topic Topic
	ch    chan *Message
	conn  *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.topic }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

type node struct {
	children map[Token]*node
	subs     []*Subscription
	retained *Message
}

// -----------------------------------------------------------------------------
// Broker
// -----------------------------------------------------------------------------

// Broker is an in-process pub/sub hub with retained messages. Queues are
// bounded; a full subscriber queue drops its oldest message rather than
// blocking the publisher.
type Broker struct {
	mu   sync.RWMutex
	root *node
	qLen int
}

// NewBroker creates a broker with the given subscription queue length.
func NewBroker(queueLen int) *Broker {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Broker{
		root: &node{},
		qLen: queueLen,
	}
}

// addSubscription inserts a subscription into the trie.
func (b *Broker) addSubscription(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	for _, tok := range topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, ok := n.children[tok]
		if !ok {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}

	n.subs = append(n.subs, sub)

	// Deliver every retained message the (possibly wildcarded) topic matches.
	var retained []*Message
	collectRetained(b.root, topic, &retained)
	for _, msg := range retained {
		select {
		case sub.ch <- msg:
		default:
		}
	}
}

// Publish delivers a message to all subscribers whose topics match,
// wildcards included. Retained messages are stored at the literal path.
func (b *Broker) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var targets []*Subscription
	collectSubs(b.root, msg.Topic, &targets)

	for _, sub := range targets {
		select {
		case sub.ch <- msg:
		default:
			// drop oldest if queue full
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- msg:
			default:
			}
		}
	}

	if !msg.Retained {
		return
	}

	// Store or clear the retained message at the literal path.
	n := b.root
	for _, tok := range msg.Topic {
		if n.children == nil {
			n.children = make(map[Token]*node)
		}
		child, exists := n.children[tok]
		if !exists {
			child = &node{}
			n.children[tok] = child
		}
		n = child
	}
	if msg.Payload == nil {
		n.retained = nil
	} else {
		n.retained = msg
	}
}

// collectSubs walks the trie gathering subscriptions that match topic.
// A Hash child matches the whole remainder, a Plus child consumes one token.
func collectSubs(n *node, topic Topic, out *[]*Subscription) {
	if h := n.children[Token(Hash)]; h != nil {
		*out = append(*out, h.subs...)
	}
	if len(topic) == 0 {
		*out = append(*out, n.subs...)
		return
	}
	if c := n.children[topic[0]]; c != nil {
		collectSubs(c, topic[1:], out)
	}
	if p := n.children[Token(Plus)]; p != nil {
		collectSubs(p, topic[1:], out)
	}
}

// collectRetained gathers retained messages matching a subscription pattern.
func collectRetained(n *node, pattern Topic, out *[]*Message) {
	if len(pattern) == 0 {
		if n.retained != nil {
			*out = append(*out, n.retained)
		}
		return
	}
	switch pattern[0] {
	case Token(Hash):
		gatherRetained(n, out)
	case Token(Plus):
		for _, c := range n.children {
			collectRetained(c, pattern[1:], out)
		}
	default:
		if c := n.children[pattern[0]]; c != nil {
			collectRetained(c, pattern[1:], out)
		}
	}
}

// gatherRetained collects every retained message at n and below.
func gatherRetained(n *node, out *[]*Message) {
	if n.retained != nil {
		*out = append(*out, n.retained)
	}
	for _, c := range n.children {
		gatherRetained(c, out)
	}
}

// unsubscribe removes a subscription and prunes empty trie nodes.
func (b *Broker) unsubscribe(topic Topic, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.root
	var stack []*node
	for _, tok := range topic {
		if n.children == nil {
			return
		}
		child, ok := n.children[tok]
		if !ok {
			return
		}
		stack = append(stack, n)
		n = child
	}

	for i, s := range n.subs {
		if s == sub {
			n.subs = append(n.subs[:i], n.subs[i+1:]...)
			break
		}
	}

	for i := len(topic) - 1; i >= 0; i-- {
		parent := stack[i]
		key := topic[i]
		child := parent.children[key]
		if len(child.subs) == 0 && len(child.children) == 0 && child.retained == nil {
			delete(parent.children, key)
		} else {
			break
		}
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	broker *Broker
	mu     sync.Mutex
	subs   []*Subscription
	id     string
}

// NewConnection creates a connection bound to this broker.
func (b *Broker) NewConnection(id string) *Connection {
	return &Connection{broker: b, id: id}
}

// NewMessage builds a message originating from this connection.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained}
}

// Publish sends a message via the broker.
func (c *Connection) Publish(msg *Message) {
	c.broker.Publish(msg)
}

// Subscribe registers a subscription owned by this connection.
func (c *Connection) Subscribe(topic Topic) *Subscription {
	sub := &Subscription{
		topic: topic,
		ch:    make(chan *Message, c.broker.qLen),
		conn:  c,
	}
	c.broker.addSubscription(topic, sub)
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription owned by this connection.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.broker.unsubscribe(sub.topic, sub)
	c.mu.Lock()
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.broker.unsubscribe(sub.topic, sub)
		close(sub.ch)
	}
}
