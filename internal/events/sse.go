package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges callback subscriptions to a channel, for SSE
// handlers that drive a select loop. Sends never block: when the channel is
// full the event is dropped rather than stalling the dispatcher.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}
