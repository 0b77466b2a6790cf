// Package webhook signs and verifies internal HTTP calls with HMAC-SHA256.
//
// The signature covers "<unix timestamp>.<body>" and travels in the
// X-Webhook-Signature and X-Webhook-Timestamp headers. Verification uses a
// constant-time comparison and rejects timestamps outside the allowed age.
//
//	headers, err := webhook.SignPayload(secret, body)
//	headers.Apply(req.Header)
//
//	// server side
//	if err := webhook.VerifyRequest(secret, r.Header, body, webhook.DefaultMaxAge); err != nil {
//		return handler.ErrUnauthorized
//	}
package webhook
