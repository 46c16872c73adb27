// Package notifier delivers alerts to operator-facing channels.
//
// An Alert is a small, titled, colored message describing one detected
// transition. The Dispatcher hands each alert to every configured Sink in
// order (for example a Discord webhook and a Telegram chat).
//
// # Delivery
//
// Delivery is best-effort and synchronous: Dispatch returns once every sink
// has been attempted exactly once. There is no queue and no retry; failures
// are logged, published on the event bus and returned to the caller, who is
// expected to carry on.
//
// # History
//
// For operator visibility, the dispatcher keeps a small in-memory history of
// recently dispatched alerts.
package notifier
