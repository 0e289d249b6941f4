// Package webhook serves the DingTalk-facing HTTP endpoints.
//
// Two kinds of inbound traffic are authenticated here:
//
//   - Event subscription callbacks (POST /v1/callback), signed with SHA1 over
//     the sorted (token, timestamp, nonce, encrypt) tuple and AES-CBC
//     encrypted. The response is itself an encrypted "success" envelope.
//   - Robot messages (POST /), signed with HMAC-SHA256 over the timestamp
//     header and the app secret.
//
// # Security Model
//
// - Signatures verified in constant time before any payload is parsed
// - Body size limits enforced (413) before authentication work
// - No signature or key details leaked in error responses (always generic 403)
// - Request logging excludes payloads, query strings and signature headers
//
// # Routes
//
//	GET  /v1/health         liveness, no auth
//	POST /v1/callback       encrypted event callback
//	POST /                  robot message
//	GET  /v1/events         recent deliveries (Bearer api.token)
//	GET  /v1/events/stream  live deliveries as SSE (Bearer api.token)
//
// The /v1/events routes are not registered when no API token is configured.
//
// # Error Responses
//
// - 400 Bad Request: missing parameters, undecodable ciphertext or body
// - 401 Unauthorized: missing or wrong API token
// - 403 Forbidden: signature or identifier mismatch, stale robot timestamp
// - 413 Payload Too Large: body exceeds server.max_body_size
// - 500 Internal Server Error: response encryption or dispatch failure
package webhook
