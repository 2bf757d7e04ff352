package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/andre-sptr/tamanweb-sub000/internal/model"
	"github.com/andre-sptr/tamanweb-sub000/internal/payment"
	"github.com/andre-sptr/tamanweb-sub000/internal/repository"
)

const testWebhookSecret = "whsec_order_test"

// --- ProductRepository ---

type memProducts struct {
	byID      map[string]*model.Product
	findErr   error
	findCalls int
}

func newMemProducts(products ...*model.Product) *memProducts {
	m := &memProducts{byID: make(map[string]*model.Product)}
	for _, p := range products {
		m.byID[p.ID] = p
	}
	return m
}

func (m *memProducts) FindByID(ctx context.Context, id string) (*model.Product, error) {
	m.findCalls++
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byID[id], nil
}
func (m *memProducts) FindBySlug(ctx context.Context, slug string) (*model.Product, error) {
	for _, p := range m.byID {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, nil
}
func (m *memProducts) ListPublished(ctx context.Context, category string) ([]*model.Product, error) {
	return nil, nil
}
func (m *memProducts) ListAll(ctx context.Context) ([]*model.Product, error) { return nil, nil }
func (m *memProducts) Create(ctx context.Context, p *model.Product) error    { return nil }
func (m *memProducts) Update(ctx context.Context, p *model.Product) error    { return nil }
func (m *memProducts) Delete(ctx context.Context, id string) error           { return nil }

// --- TransactionRepository ---

// memLedger はexternal_session_idの一意制約を再現するインメモリ台帳。
type memLedger struct {
	mu        sync.Mutex
	bySession map[string]*model.Transaction
	writes    int

	existsErr error
	createErr error
	upsertErr error
	markErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{bySession: make(map[string]*model.Transaction)}
}

func (m *memLedger) Create(ctx context.Context, tx *model.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.bySession[tx.ExternalSessionID]; ok {
		return fmt.Errorf("session %s: %w", tx.ExternalSessionID, repository.ErrDuplicate)
	}
	cp := *tx
	m.bySession[tx.ExternalSessionID] = &cp
	m.writes++
	return nil
}

func (m *memLedger) FindBySessionID(ctx context.Context, sessionID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.bySession[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *tx
	return &cp, nil
}

func (m *memLedger) ExistsCompleted(ctx context.Context, userID, productID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	for _, tx := range m.bySession {
		if tx.UserID == userID && tx.ProductID == productID && tx.Status == model.TransactionStatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (m *memLedger) UpsertCompleted(ctx context.Context, tx *model.Transaction) (model.TransactionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return "", m.upsertErr
	}
	m.writes++
	if existing, ok := m.bySession[tx.ExternalSessionID]; ok {
		prev := existing.Status
		existing.Status = model.TransactionStatusCompleted
		existing.UpdatedAt = tx.UpdatedAt
		return prev, nil
	}
	cp := *tx
	cp.Status = model.TransactionStatusCompleted
	m.bySession[tx.ExternalSessionID] = &cp
	return "", nil
}

func (m *memLedger) MarkFailedIfPending(ctx context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return false, m.markErr
	}
	tx, ok := m.bySession[sessionID]
	if !ok || tx.Status != model.TransactionStatusPending {
		return false, nil
	}
	tx.Status = model.TransactionStatusFailed
	m.writes++
	return true, nil
}

func (m *memLedger) ListPurchasesByUser(ctx context.Context, userID string) ([]model.Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Purchase
	for _, tx := range m.bySession {
		if tx.UserID == userID && tx.Status == model.TransactionStatusCompleted {
			out = append(out, model.Purchase{
				TransactionID: tx.ID,
				ProductID:     tx.ProductID,
				Amount:        tx.Amount,
				Currency:      tx.Currency,
				PurchasedAt:   tx.UpdatedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PurchasedAt.After(out[j].PurchasedAt) })
	return out, nil
}

func (m *memLedger) List(ctx context.Context, filter repository.TransactionFilter) ([]*model.Transaction, error) {
	return nil, nil
}

func (m *memLedger) SalesReport(ctx context.Context, topN int) (*repository.SalesReport, error) {
	return nil, nil
}

func (m *memLedger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySession)
}

func (m *memLedger) status(t *testing.T, sessionID string) model.TransactionStatus {
	t.Helper()
	tx, _ := m.FindBySessionID(context.Background(), sessionID)
	if tx == nil {
		t.Fatalf("transaction for session %s not found", sessionID)
	}
	return tx.Status
}

// --- WebhookEventRepository ---

type memEvents struct {
	mu        sync.Mutex
	seen      map[string]model.WebhookEvent
	existsErr error
	recordErr error
}

func newMemEvents() *memEvents {
	return &memEvents{seen: make(map[string]model.WebhookEvent)}
}

func (m *memEvents) Exists(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.seen[eventID]
	return ok, nil
}

func (m *memEvents) Record(ctx context.Context, ev *model.WebhookEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recordErr != nil {
		return m.recordErr
	}
	if _, ok := m.seen[ev.EventID]; !ok {
		m.seen[ev.EventID] = *ev
	}
	return nil
}

// --- Gateway ---

// testGateway はWebhook検証に本物のStripe署名検証を使い、
// チェックアウト作成のみ差し替えるゲートウェイ。
type testGateway struct {
	*payment.StripeGateway

	mu       sync.Mutex
	createFn func(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
	calls    int
	lastReq  payment.CheckoutRequest
	seq      int
}

func newTestGateway() *testGateway {
	return &testGateway{
		StripeGateway: payment.NewStripeGateway(payment.StripeConfig{
			SecretKey:        "sk_test_unused",
			WebhookSecret:    testWebhookSecret,
			WebhookTolerance: 5 * time.Minute,
		}, nil),
	}
}

func (g *testGateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastReq = req
	if g.createFn != nil {
		return g.createFn(ctx, req)
	}
	g.seq++
	id := fmt.Sprintf("cs_test_%d", g.seq)
	return &payment.CheckoutSession{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

// --- イベント生成ヘルパー ---

type sessionPayload struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	PaymentStatus string            `json:"payment_status,omitempty"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Metadata      map[string]string `json:"metadata"`
}

func eventPayload(t *testing.T, eventID, eventType string, sess sessionPayload) []byte {
	t.Helper()
	sess.Object = "checkout.session"
	body, err := json.Marshal(map[string]any{
		"id":     eventID,
		"object": "event",
		"type":   eventType,
		"data":   map[string]any{"object": sess},
	})
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	return body
}

func signPayload(payload []byte) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	}).Header
}

func paidSession(sessionID, productID, userID string) sessionPayload {
	return sessionPayload{
		ID:            sessionID,
		PaymentStatus: "paid",
		AmountTotal:   199000,
		Currency:      "idr",
		Metadata:      map[string]string{"productId": productID, "userId": userID},
	}
}

func publishedProduct() *model.Product {
	return &model.Product{
		ID:               "p1",
		Slug:             "landing-page",
		Title:            "Landing Page",
		ShortDescription: "One page template",
		ThumbnailURL:     "https://cdn.example.com/p1.png",
		DownloadURL:      "https://files.example.com/p1.zip",
		Price:            199000,
		Currency:         "IDR",
		Published:        true,
	}
}

type fixture struct {
	svc      *Service
	products *memProducts
	ledger   *memLedger
	events   *memEvents
	gateway  *testGateway
}

func newFixture(products ...*model.Product) *fixture {
	f := &fixture{
		products: newMemProducts(products...),
		ledger:   newMemLedger(),
		events:   newMemEvents(),
		gateway:  newTestGateway(),
	}
	f.svc = NewService(f.products, f.ledger, f.events, f.gateway, nil, ServiceConfig{BaseURL: "https://shop.example.com/"})
	return f
}

// deliver は署名付きでWebhookイベントを配信する。
func (f *fixture) deliver(t *testing.T, eventID, eventType string, sess sessionPayload) (*WebhookResult, error) {
	t.Helper()
	payload := eventPayload(t, eventID, eventType, sess)
	return f.svc.HandleWebhookEvent(context.Background(), payload, signPayload(payload))
}

func assertAPIErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *model.APIError with code %s, got %v", code, err)
	}
	if apiErr.Code != code {
		t.Fatalf("error code = %s, want %s (err: %v)", apiErr.Code, code, err)
	}
}
