package subscription

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appStoreProductionURL = "https://api.storekit.itunes.apple.com"
	appStoreSandboxURL    = "https://api.storekit-sandbox.itunes.apple.com"
	appStoreAudience      = "appstoreconnect-v1"
	appStoreTokenTTL      = 20 * time.Minute
	appStoreMaxBody       = 1 << 20
)

// AppStoreConfig holds credentials for the App Store Server API.
// An empty IssuerID disables the verifier.
type AppStoreConfig struct {
	IssuerID    string        `env:"APPSTORE_ISSUER_ID"`
	KeyID       string        `env:"APPSTORE_KEY_ID"`
	PrivateKey  string        `env:"APPSTORE_PRIVATE_KEY"`
	BundleID    string        `env:"APPSTORE_BUNDLE_ID"`
	Environment string        `env:"APPSTORE_ENVIRONMENT" envDefault:"production"`
	Timeout     time.Duration `env:"APPSTORE_TIMEOUT" envDefault:"10s"`
}

// Enabled reports whether App Store credentials are configured.
func (c AppStoreConfig) Enabled() bool { return c.IssuerID != "" }

// AppStoreClient verifies purchases with the App Store Server API.
type AppStoreClient struct {
	cfg        AppStoreConfig
	key        *ecdsa.PrivateKey
	httpClient *http.Client
	baseURL    string
	fallback   string
	now        func() time.Time
}

// AppStoreOption configures an AppStoreClient.
type AppStoreOption func(*AppStoreClient)

// WithAppStoreHTTPClient overrides the HTTP client.
func WithAppStoreHTTPClient(c *http.Client) AppStoreOption {
	return func(a *AppStoreClient) {
		if c != nil {
			a.httpClient = c
		}
	}
}

// WithAppStoreBaseURL points the client at custom hosts. An empty fallback
// disables the sandbox retry.
func WithAppStoreBaseURL(primary, fallback string) AppStoreOption {
	return func(a *AppStoreClient) {
		a.baseURL = strings.TrimRight(primary, "/")
		a.fallback = strings.TrimRight(fallback, "/")
	}
}

// NewAppStoreClient creates a StoreVerifier backed by the App Store Server API.
func NewAppStoreClient(cfg AppStoreConfig, opts ...AppStoreOption) (*AppStoreClient, error) {
	if cfg.IssuerID == "" || cfg.KeyID == "" || cfg.BundleID == "" {
		return nil, fmt.Errorf("%w: issuer, key id and bundle id are required", ErrMissingAPIKey)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid app store private key: %w", ErrMissingAPIKey, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	c := &AppStoreClient{
		cfg:        cfg,
		key:        key,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}

	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		c.baseURL = appStoreSandboxURL
	case "production", "":
		// Sandbox purchases made by TestFlight users hit production first.
		c.baseURL = appStoreProductionURL
		c.fallback = appStoreSandboxURL
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidProviderEnvironment, cfg.Environment)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// VerifyTransaction looks up a transaction by its identifier.
func (c *AppStoreClient) VerifyTransaction(ctx context.Context, req StoreVerification) (*StoreTransaction, error) {
	if req.TransactionRef == "" {
		return nil, ErrPurchaseInvalid
	}

	var resp struct {
		SignedTransactionInfo string `json:"signedTransactionInfo"`
	}
	if err := c.get(ctx, "/inApps/v1/transactions/"+url.PathEscape(req.TransactionRef), &resp); err != nil {
		return nil, err
	}

	tx, err := c.decodeTransaction(resp.SignedTransactionInfo)
	if err != nil {
		return nil, err
	}
	if tx.RevokedAt != nil {
		tx.Status = ProviderStatusExpired
	} else if tx.ExpiresAt != nil && tx.ExpiresAt.After(c.now()) {
		tx.Status = ProviderStatusActive
	} else {
		tx.Status = ProviderStatusExpired
	}
	return tx, nil
}

// SubscriptionStatus returns the latest transaction of the subscription chain.
func (c *AppStoreClient) SubscriptionStatus(ctx context.Context, originalTransactionRef string) (*StoreTransaction, error) {
	if originalTransactionRef == "" {
		return nil, ErrProviderNotFound
	}

	var resp struct {
		Data []struct {
			LastTransactions []struct {
				Status                int    `json:"status"`
				OriginalTransactionID string `json:"originalTransactionId"`
				SignedTransactionInfo string `json:"signedTransactionInfo"`
				SignedRenewalInfo     string `json:"signedRenewalInfo"`
			} `json:"lastTransactions"`
		} `json:"data"`
	}
	if err := c.get(ctx, "/inApps/v1/subscriptions/"+url.PathEscape(originalTransactionRef), &resp); err != nil {
		return nil, err
	}

	for _, group := range resp.Data {
		for _, last := range group.LastTransactions {
			if last.OriginalTransactionID != originalTransactionRef {
				continue
			}
			tx, err := c.decodeTransaction(last.SignedTransactionInfo)
			if err != nil {
				return nil, err
			}
			tx.Status = mapAppStoreStatus(last.Status)
			tx.AutoRenew = decodeAutoRenew(last.SignedRenewalInfo)
			return tx, nil
		}
	}
	return nil, ErrProviderNotFound
}

// appStoreTransaction is the payload of a signed transaction.
// The JWS is fetched from Apple over an authenticated TLS connection, so the
// x5c chain is not re-validated here.
type appStoreTransaction struct {
	jwt.RegisteredClaims
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"`
	RevocationDate        int64  `json:"revocationDate"`
}

func (c *AppStoreClient) decodeTransaction(signed string) (*StoreTransaction, error) {
	if signed == "" {
		return nil, errors.Join(ErrPurchaseInvalid, errors.New("empty signed transaction"))
	}

	var claims appStoreTransaction
	if _, _, err := jwt.NewParser().ParseUnverified(signed, &claims); err != nil {
		return nil, errors.Join(ErrPurchaseInvalid, err)
	}
	if claims.BundleID != c.cfg.BundleID {
		return nil, fmt.Errorf("%w: bundle %q does not match", ErrPurchaseInvalid, claims.BundleID)
	}

	tx := &StoreTransaction{
		TransactionRef:         claims.TransactionID,
		OriginalTransactionRef: claims.OriginalTransactionID,
		ProductRef:             claims.ProductID,
		PurchasedAt:            millisTime(claims.PurchaseDate),
		AutoRenew:              true,
	}
	if claims.ExpiresDate > 0 {
		tx.ExpiresAt = ptr(millisTime(claims.ExpiresDate))
	}
	if claims.RevocationDate > 0 {
		tx.RevokedAt = ptr(millisTime(claims.RevocationDate))
	}
	return tx, nil
}

func decodeAutoRenew(signed string) bool {
	if signed == "" {
		return true
	}
	var claims struct {
		jwt.RegisteredClaims
		AutoRenewStatus int `json:"autoRenewStatus"`
	}
	if _, _, err := jwt.NewParser().ParseUnverified(signed, &claims); err != nil {
		return true
	}
	return claims.AutoRenewStatus == 1
}

func mapAppStoreStatus(status int) ProviderStatus {
	switch status {
	case 1, 4: // active, billing grace period
		return ProviderStatusActive
	case 3: // billing retry
		return ProviderStatusPastDue
	default: // expired, revoked
		return ProviderStatusExpired
	}
}

func (c *AppStoreClient) get(ctx context.Context, path string, out any) error {
	err := c.do(ctx, c.baseURL+path, out)
	if errors.Is(err, ErrProviderNotFound) && c.fallback != "" {
		return c.do(ctx, c.fallback+path, out)
	}
	return err
}

func (c *AppStoreClient) do(ctx context.Context, endpoint string, out any) error {
	token, err := c.token()
	if err != nil {
		return errors.Join(ErrProviderAuth, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create app store request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, appStoreMaxBody))
	if err != nil {
		return errors.Join(ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: app store returned 404", ErrProviderNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: app store returned 401", ErrProviderAuth)
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: app store rejected request: %s", ErrPurchaseInvalid, strings.TrimSpace(string(body)))
	default:
		return fmt.Errorf("%w: app store returned %d", ErrProviderUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return errors.Join(ErrProviderUnavailable, fmt.Errorf("decode app store response: %w", err))
	}
	return nil
}

func (c *AppStoreClient) token() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": c.cfg.IssuerID,
		"iat": now.Unix(),
		"exp": now.Add(appStoreTokenTTL).Unix(),
		"aud": appStoreAudience,
		"bid": c.cfg.BundleID,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	t.Header["kid"] = c.cfg.KeyID
	return t.SignedString(c.key)
}

func millisTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
