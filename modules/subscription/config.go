package subscription

import "time"

// Config holds HTTP-facing settings of the subscription module.
type Config struct {
	// InternalSecret signs internal tier assignments (POST /subscription/{userId}).
	// When empty, only downgrades to free are accepted on that route.
	InternalSecret string `env:"INTERNAL_API_SECRET"`

	// SignatureMaxAge bounds the clock distance of an internal signature.
	SignatureMaxAge time.Duration `env:"INTERNAL_SIGNATURE_MAX_AGE" envDefault:"5m"`

	// WebhookSignatureHeader names the header carrying gateway webhook signatures.
	WebhookSignatureHeader string `env:"WEBHOOK_SIGNATURE_HEADER"`
}

// Upper bound for webhook and internal request bodies.
const maxRawBodySize = 1 << 20
