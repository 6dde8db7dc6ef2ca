package paxos

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go-paxos-sim/paxos/messages"
)

var (
	// ErrSendTimeout is returned when a mailbox stays full for longer than the configured send timeout.
	ErrSendTimeout = errors.New("mailbox full, send timed out")
	// ErrUnexpectedMessage is returned when a message kind is not part of the receiver's responsibilities.
	ErrUnexpectedMessage = errors.New("unexpected message")
	// ErrUnknownNode is returned when a client addresses a node id that does not exist.
	ErrUnknownNode = errors.New("unknown node")
)

// Mailbox is the bounded inbox of a node or a client.
// Done is closed by the owner once it stops receiving, from then on messages sent to it are dropped.
type Mailbox struct {
	name string
	ch   chan messages.Message
	done chan struct{}
	once sync.Once
}

func newMailbox(name string, capacity int) *Mailbox {
	return &Mailbox{
		name: name,
		ch:   make(chan messages.Message, capacity),
		done: make(chan struct{}),
	}
}

// Len returns the number of queued messages.
func (mb *Mailbox) Len() int {
	return len(mb.ch)
}

func (mb *Mailbox) close() {
	mb.once.Do(func() { close(mb.done) })
}

func (mb *Mailbox) closed() bool {
	select {
	case <-mb.done:
		return true
	default:
		return false
	}
}

// send puts @m in @mb. A full mailbox blocks the sender for at most @timeout.
func send(mb *Mailbox, m messages.Message, timeout time.Duration) error {
	if mb.closed() {
		log.Printf("[MAILBOX] -> %s is not running anymore, dropping %s.", mb.name, m)
		return nil
	}
	select {
	case mb.ch <- m:
		return nil
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case mb.ch <- m:
		return nil
	case <-mb.done:
		log.Printf("[MAILBOX] -> %s is not running anymore, dropping %s.", mb.name, m)
		return nil
	case <-t.C:
		return fmt.Errorf("%w: %s to %s after %s", ErrSendTimeout, m.Kind, mb.name, timeout)
	}
}

// announce puts @m in @mb without blocking. When @mb is full its oldest message is dropped to make room.
func announce(mb *Mailbox, m messages.Message) {
	for {
		select {
		case mb.ch <- m:
			return
		default:
		}
		select {
		case old := <-mb.ch:
			log.Printf("[MAILBOX] -> %s is full, dropping %s.", mb.name, old)
		default:
		}
	}
}

// route tells the node where an envelope goes.
type route int

const (
	toNode    route = iota // a single node, by id
	toAll                  // every node, including the sender
	toClients              // every registered client, never blocking
	toSelf                 // the sender itself, possibly after a delay
)

// envelope is an outbound message produced by a role handler. Handlers never send, the node does.
type envelope struct {
	route route
	to    messages.NodeID
	delay time.Duration
	msg   messages.Message
}

func reply(to messages.NodeID, m messages.Message) envelope {
	return envelope{route: toNode, to: to, msg: m}
}

func broadcast(m messages.Message) envelope {
	return envelope{route: toAll, msg: m}
}

// ToJson is used to marshal interfaces into a valid json string.
func ToJson(i interface{}) string {
	res, _ := json.MarshalIndent(i, "", "	")
	return string(res)
}
