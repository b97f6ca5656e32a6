// Package dedupe stores responses by idempotency key so a retried request
// within the TTL gets the first response instead of running again.
package dedupe
