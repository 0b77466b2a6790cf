package subscription_test

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tierkeep/pkg/subscription"
)

var testRefs = map[subscription.Tier]subscription.ProviderRefs{
	subscription.TierBasic: {GatewayPriceRef: "price_basic", StoreProductRef: "com.example.basic"},
	subscription.TierPro:   {GatewayPriceRef: "price_pro", StoreProductRef: "com.example.pro"},
}

func testCatalog(t *testing.T) *subscription.Catalog {
	t.Helper()
	c, err := subscription.NewCatalog(testRefs)
	require.NoError(t, err)
	return c
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway is an in-memory billing provider.
type fakeGateway struct {
	mu        sync.Mutex
	customers int
	seq       int
	subs      map[string]*subscription.GatewaySubscription
	checkouts map[string]*subscription.CheckoutSession
	events    map[string]*subscription.GatewayEvent
	cancelled []string
	requests  []subscription.CheckoutRequest

	listErr   error
	getErr    error
	cancelErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subs:      make(map[string]*subscription.GatewaySubscription),
		checkouts: make(map[string]*subscription.CheckoutSession),
		events:    make(map[string]*subscription.GatewayEvent),
	}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) EnsureCustomer(_ context.Context, _ uuid.UUID, existingRef string) (string, error) {
	if existingRef != "" {
		return existingRef, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers++
	return fmt.Sprintf("cus_%d", g.customers), nil
}

func (g *fakeGateway) ListSubscriptions(_ context.Context, customerRef string) ([]subscription.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.listErr != nil {
		return nil, g.listErr
	}
	var out []subscription.GatewaySubscription
	for _, s := range g.subs {
		if s.CustomerRef == customerRef {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b subscription.GatewaySubscription) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, ref string) (*subscription.GatewaySubscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.getErr != nil {
		return nil, g.getErr
	}
	s, ok := g.subs[ref]
	if !ok {
		return nil, subscription.ErrProviderNotFound
	}
	c := *s
	return &c, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, ref string, atPeriodEnd bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cancelErr != nil {
		return g.cancelErr
	}
	s, ok := g.subs[ref]
	if !ok {
		return subscription.ErrProviderNotFound
	}
	if atPeriodEnd {
		s.CancelAtPeriodEnd = true
		return nil
	}
	s.Status = subscription.ProviderStatusCanceled
	g.cancelled = append(g.cancelled, ref)
	return nil
}

func (g *fakeGateway) CreateCheckout(_ context.Context, req subscription.CheckoutRequest) (*subscription.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	id := fmt.Sprintf("cs_%d", g.seq)
	session := &subscription.CheckoutSession{
		ID:          id,
		URL:         "https://checkout.example.com/" + id,
		Status:      subscription.CheckoutOpen,
		CustomerRef: req.CustomerRef,
		Metadata:    req.Metadata,
	}
	g.checkouts[id] = session
	g.requests = append(g.requests, req)
	c := *session
	return &c, nil
}

func (g *fakeGateway) GetCheckout(_ context.Context, ref string) (*subscription.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.checkouts[ref]
	if !ok {
		return nil, subscription.ErrProviderNotFound
	}
	c := *s
	if s.Subscription != nil {
		if live, ok := g.subs[s.Subscription.ID]; ok {
			sub := *live
			c.Subscription = &sub
		}
	}
	return &c, nil
}

func (g *fakeGateway) ParseWebhook(_ context.Context, payload []byte, signature string) (*subscription.GatewayEvent, error) {
	if signature != "valid" {
		return nil, subscription.ErrWebhookVerificationFailed
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev, ok := g.events[string(payload)]
	if !ok {
		return nil, subscription.ErrMalformedWebhook
	}
	return ev, nil
}

func (g *fakeGateway) addSubscription(s subscription.GatewaySubscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[s.ID] = &s
}

func (g *fakeGateway) setStatus(ref string, status subscription.ProviderStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs[ref].Status = status
}

// completeCheckout marks a checkout paid and attaches sub to it.
func (g *fakeGateway) completeCheckout(ref string, sub subscription.GatewaySubscription) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.checkouts[ref]
	s.Status = subscription.CheckoutComplete
	if sub.CustomerRef == "" {
		sub.CustomerRef = s.CustomerRef
	}
	if sub.Metadata == nil {
		sub.Metadata = s.Metadata
	}
	g.subs[sub.ID] = &sub
	c := sub
	s.Subscription = &c
}

func (g *fakeGateway) addEvent(payload string, ev *subscription.GatewayEvent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.events[payload] = ev
}

func (g *fakeGateway) liveSubscriptions(customerRef string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []string
	for _, s := range g.subs {
		if s.CustomerRef == customerRef && s.Status.IsLive() {
			out = append(out, s.ID)
		}
	}
	slices.Sort(out)
	return out
}

func (g *fakeGateway) cancelledRefs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.cancelled)
}

func (g *fakeGateway) lastRequest() subscription.CheckoutRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type mockStoreVerifier struct {
	mock.Mock
}

func (m *mockStoreVerifier) VerifyTransaction(ctx context.Context, req subscription.StoreVerification) (*subscription.StoreTransaction, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.StoreTransaction), args.Error(1)
}

func (m *mockStoreVerifier) SubscriptionStatus(ctx context.Context, originalRef string) (*subscription.StoreTransaction, error) {
	args := m.Called(ctx, originalRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.StoreTransaction), args.Error(1)
}

type harness struct {
	svc   subscription.Service
	store *subscription.MemoryStore
	gw    *fakeGateway
	clock *fakeClock
}

func newHarness(t *testing.T, opts ...subscription.ServiceOption) *harness {
	t.Helper()
	h := &harness{
		store: subscription.NewMemoryStore(),
		gw:    newFakeGateway(),
		clock: newFakeClock(),
	}
	base := []subscription.ServiceOption{
		subscription.WithLogger(discardLogger()),
		subscription.WithClock(h.clock.Now),
		subscription.WithConfig(subscription.Config{
			SuccessURL: "https://app.example.com/billing/success",
			CancelURL:  "https://app.example.com/billing/cancel",
		}),
	}
	h.svc = subscription.NewService(testCatalog(t), h.store, h.gw, append(base, opts...)...)
	return h
}

func (h *harness) record(t *testing.T, userID uuid.UUID) *subscription.Record {
	t.Helper()
	r, err := h.store.Get(context.Background(), userID)
	require.NoError(t, err)
	return r
}

func timePtr(t time.Time) *time.Time { return &t }

func (g *fakeGateway) setCheckoutStatus(ref string, status subscription.CheckoutStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts[ref].Status = status
}

type fakeDeduper struct {
	mu     sync.Mutex
	seen   map[string]bool
	forgot []string
}

func newFakeDeduper() *fakeDeduper {
	return &fakeDeduper{seen: make(map[string]bool)}
}

func (d *fakeDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *fakeDeduper) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	d.forgot = append(d.forgot, id)
	return nil
}
