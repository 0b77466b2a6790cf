package subscription_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/subscription"
)

func TestNewPaddleGateway(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     subscription.PaddleConfig
		wantErr error
	}{
		{"missing api key", subscription.PaddleConfig{WebhookSecret: "secret"}, subscription.ErrMissingAPIKey},
		{"missing webhook secret", subscription.PaddleConfig{APIKey: "key"}, subscription.ErrMissingWebhookSecret},
		{"invalid environment", subscription.PaddleConfig{APIKey: "key", WebhookSecret: "secret", Environment: "staging"}, subscription.ErrInvalidProviderEnvironment},
		{"sandbox", subscription.PaddleConfig{APIKey: "key", WebhookSecret: "secret", Environment: "sandbox"}, nil},
		{"production by default", subscription.PaddleConfig{APIKey: "key", WebhookSecret: "secret"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			gw, err := subscription.NewPaddleGateway(tt.cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, gw)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "paddle", gw.Name())
		})
	}
}

func TestPaddleGateway_ParseWebhookRejectsBadSignatures(t *testing.T) {
	t.Parallel()

	gw, err := subscription.NewPaddleGateway(subscription.PaddleConfig{APIKey: "key", WebhookSecret: "secret", Environment: "sandbox"})
	require.NoError(t, err)

	payload := []byte(`{"event_id":"evt_1","event_type":"subscription.updated","data":{}}`)

	_, err = gw.ParseWebhook(context.Background(), payload, "")
	assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)

	_, err = gw.ParseWebhook(context.Background(), payload, "ts=1700000000;h1=deadbeef")
	assert.ErrorIs(t, err, subscription.ErrWebhookVerificationFailed)
}

func TestPaddleGateway_EnsureCustomerKeepsExistingRef(t *testing.T) {
	t.Parallel()

	gw, err := subscription.NewPaddleGateway(subscription.PaddleConfig{APIKey: "key", WebhookSecret: "secret"})
	require.NoError(t, err)

	ref, err := gw.EnsureCustomer(context.Background(), uuid.New(), "ctm_123")
	require.NoError(t, err)
	assert.Equal(t, "ctm_123", ref)
}
