// Package dispatch routes authenticated, decrypted deliveries.
//
// The gateway does not interpret events beyond their type. Every delivery is:
//   - assigned a UUID delivery id
//   - logged by event type (callback) or msgtype (robot)
//   - published to the in-memory events hub
//   - recorded in the SQLite journal when one is configured
//
// Journal failures are logged and do not fail the delivery; DingTalk retries
// callbacks that are not acknowledged, and a duplicate is worse than a gap in
// the local log.
package dispatch
