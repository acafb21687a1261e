package events

import "github.com/kelindar/event"

// SubscribeToChannel forwards events of type T to ch for select loops such as
// the SSE handlers. Delivery never blocks the publisher: when ch is full the
// event is dropped.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return SubscribeFiltered(bus, ch, func(T) bool { return true })
}

// SubscribeFiltered is SubscribeToChannel for the events keep accepts.
func SubscribeFiltered[T Event](bus *Bus, ch chan<- any, keep func(T) bool) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		if !keep(e) {
			return
		}
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeSessionEvents forwards every session lifecycle event to ch.
// Frame and log events are excluded. The returned function unsubscribes all.
func SubscribeSessionEvents(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[SessionStartedEvent](bus, ch),
		SubscribeToChannel[SessionStoppedEvent](bus, ch),
		SubscribeToChannel[WorkerStateChangedEvent](bus, ch),
		SubscribeToChannel[CameraStartupFailedEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
