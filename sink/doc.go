// Package sink provides PublishLog implementations that carry order book
// events out of the process: a durable pebble journal and an AMQP fanout
// of "ready" notifications for completed orders.
package sink
