/*
Package events provides an in-process publish/subscribe broker for
security-layer events.

Config reloads, gate transitions, node membership changes and authorization
denials are published as typed events. Subscribers receive events on buffered
channels; slow subscribers drop events rather than blocking publishers.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	go func() {
		for ev := range sub {
			log.Debug(string(ev.Type) + ": " + ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventGateOpened})
*/
package events
