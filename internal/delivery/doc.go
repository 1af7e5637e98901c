// Package delivery implements the outbound push transports.
//
// Every provider satisfies dispatch.Sender: it is called once per envelope and
// reports failure as an error, preferably a *dispatch.DeliveryError carrying
// its own classification. Providers never retry.
//
// Drivers:
//   - log: writes the message to the application log (development).
//   - webhook: POSTs the JSON message to an HTTP endpoint.
//   - mqtt: publishes to <topic_prefix><channel>.
//   - nats: publishes to <subject_prefix><channel>.
//   - redis: PUBLISHes to <channel_prefix><channel>.
//   - telegram: sends to the chat mapped to the channel.
//   - shoutrrr: sends through the service URLs mapped to the channel.
package delivery
