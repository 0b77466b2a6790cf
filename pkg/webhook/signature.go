package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Header names carried by signed internal requests.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderID        = "X-Webhook-ID"
)

// DefaultMaxAge is the accepted distance between a signature timestamp and now.
const DefaultMaxAge = 5 * time.Minute

// SignatureHeaders contains the webhook signature headers.
type SignatureHeaders struct {
	Signature string
	Timestamp int64
	ID        string
}

// Apply writes the signature headers onto h.
func (s SignatureHeaders) Apply(h http.Header) {
	h.Set(HeaderSignature, s.Signature)
	h.Set(HeaderTimestamp, strconv.FormatInt(s.Timestamp, 10))
	if s.ID != "" {
		h.Set(HeaderID, s.ID)
	}
}

// SignPayload creates an HMAC-SHA256 signature over timestamp + "." + payload.
func SignPayload(secret string, payload []byte) (SignatureHeaders, error) {
	return signAt(secret, payload, time.Now())
}

func signAt(secret string, payload []byte, at time.Time) (SignatureHeaders, error) {
	if secret == "" {
		return SignatureHeaders{}, fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return SignatureHeaders{}, fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}

	timestamp := at.Unix()
	return SignatureHeaders{
		Signature: computeSignature(secret, timestamp, payload),
		Timestamp: timestamp,
		ID:        uuid.NewString(),
	}, nil
}

// VerifySignature checks the signature and, when maxAge > 0, the timestamp window.
func VerifySignature(secret string, payload []byte, headers SignatureHeaders, maxAge time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload cannot be empty", ErrInvalidPayload)
	}
	if headers.Signature == "" {
		return ErrMissingSignature
	}

	if maxAge > 0 {
		age := time.Since(time.Unix(headers.Timestamp, 0))
		if age > maxAge {
			return fmt.Errorf("%w: signature is %v old", ErrSignatureExpired, age.Truncate(time.Second))
		}
		// Allow a minute of clock skew
		if age < -1*time.Minute {
			return fmt.Errorf("%w: timestamp is in the future", ErrSignatureExpired)
		}
	}

	expected := computeSignature(secret, headers.Timestamp, payload)
	if !hmac.Equal([]byte(expected), []byte(headers.Signature)) {
		return ErrSignatureMismatch
	}

	return nil
}

// ExtractSignatureHeaders reads the signature headers from an HTTP header set.
func ExtractSignatureHeaders(h http.Header) (SignatureHeaders, error) {
	sig := SignatureHeaders{
		Signature: h.Get(HeaderSignature),
		ID:        h.Get(HeaderID),
	}

	raw := h.Get(HeaderTimestamp)
	if sig.Signature == "" || raw == "" {
		return SignatureHeaders{}, ErrMissingSignature
	}

	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return SignatureHeaders{}, fmt.Errorf("%w: invalid timestamp format", ErrMissingSignature)
	}
	sig.Timestamp = ts

	return sig, nil
}

// VerifyRequest extracts the signature headers from h and verifies body against them.
func VerifyRequest(secret string, h http.Header, body []byte, maxAge time.Duration) error {
	sig, err := ExtractSignatureHeaders(h)
	if err != nil {
		return err
	}
	return VerifySignature(secret, body, sig, maxAge)
}

func computeSignature(secret string, timestamp int64, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", timestamp)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
