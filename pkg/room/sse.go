package room

import "github.com/ubl-core/ubl/pkg/identity"

// Event is one server-sent event destined for a room subscriber. ID
// becomes the SSE "id:" field (the room_seq it corresponds to), Name
// becomes "event:", and Data is JSON-encoded as "data:" by the HTTP
// transport layer.
type Event struct {
	ID   int64       `json:"-"`
	Name string      `json:"-"`
	Data interface{} `json:"-"`
}

// GapData is the payload of a room.gap event: it tells a reconnecting
// client that messages between from_seq and available_from were missed
// and must be backfilled via history.
type GapData struct {
	FromSeq      int64 `json:"from_seq"`
	AvailableFrom int64 `json:"available_from"`
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Subscription is returned to callers of SubscribeSSE: Events delivers
// the stream, and Close (called on client disconnect) removes the
// subscriber.
type Subscription struct {
	Events <-chan Event
	Close  func()
}

// SubscribeSSE opens a live subscription, optionally replaying missed
// messages (and, when some were evicted from the hot window, a
// room.gap event) ahead of live traffic. fromSeq of nil means "no
// replay, live only".
func (c *Coordinator) SubscribeSSE(_ identity.Identity, fromSeq *int64) Subscription {
	c.mu.Lock()

	var replay []Event
	if fromSeq != nil && c.hot.Len() > 0 {
		hotMin := c.hot.Front().Value.(Message).RoomSeq
		if hotMin > *fromSeq+1 {
			replay = append(replay, Event{
				Name: "room.gap",
				Data: GapData{FromSeq: *fromSeq + 1, AvailableFrom: hotMin},
			})
		}
		for el := c.hot.Front(); el != nil; el = el.Next() {
			m := el.Value.(Message)
			if m.RoomSeq > *fromSeq {
				replay = append(replay, Event{ID: m.RoomSeq, Name: "message.created", Data: m})
			}
		}
	}

	sub := &subscriber{ch: make(chan Event, len(replay)+64)}
	for _, ev := range replay {
		sub.ch <- ev
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = sub
	c.mu.Unlock()

	return Subscription{
		Events: sub.ch,
		Close: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if s, ok := c.subs[id]; ok && !s.closed {
				s.closed = true
				close(s.ch)
				delete(c.subs, id)
			}
		},
	}
}

// broadcastLocked fans ev out to every live subscriber. A full
// subscriber channel (a slow or dead reader) is dropped rather than
// allowed to block the coordinator. Callers must already hold c.mu.
func (c *Coordinator) broadcastLocked(ev Event) {
	for id, sub := range c.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.closed = true
			close(sub.ch)
			delete(c.subs, id)
		}
	}
}
