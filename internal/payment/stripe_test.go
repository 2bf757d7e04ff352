package payment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T, apiURL string) (*StripeGateway, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gw := NewStripeGateway(StripeConfig{
		SecretKey:         "sk_test_123",
		WebhookSecret:     testWebhookSecret,
		Timeout:           5 * time.Second,
		MaxNetworkRetries: 0,
		WebhookTolerance:  5 * time.Minute,
		APIURL:            apiURL,
	}, logger)
	return gw, &buf
}

func sign(payload string, secret string, ts time.Time) string {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: ts,
	})
	return signed.Header
}

func TestStripeGateway_CreateCheckoutSession_SendsParams(t *testing.T) {
	var gotForm map[string]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/checkout/sessions" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseForm(); err != nil {
			t.Errorf("failed to parse form: %v", err)
		}
		gotForm = make(map[string]string)
		for k, v := range r.PostForm {
			gotForm[k] = v[0]
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	gw, _ := newTestGateway(t, srv.URL)
	meta := map[string]string{MetadataProductID: "p1", MetadataUserID: "u1"}

	cs, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ProductName:        "Landing Page",
		ProductDescription: "One page template",
		ImageURL:           "https://cdn.example.com/landing.png",
		UnitAmount:         199000,
		Currency:           "IDR",
		SuccessURL:         "https://shop.example.com/checkout/success?session_id=" + SessionIDPlaceholder,
		CancelURL:          "https://shop.example.com/templates/landing?canceled=1",
		ClientReferenceID:  "u1",
		Metadata:           meta,
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	if cs.ID != "cs_test_1" || cs.URL != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Errorf("unexpected session: %+v", cs)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	want := []struct{ key, value string }{
		{"mode", "payment"},
		{"line_items[0][quantity]", "1"},
		{"line_items[0][price_data][currency]", "idr"},
		{"line_items[0][price_data][unit_amount]", "199000"},
		{"line_items[0][price_data][product_data][name]", "Landing Page"},
		{"line_items[0][price_data][product_data][description]", "One page template"},
		{"line_items[0][price_data][product_data][images][0]", "https://cdn.example.com/landing.png"},
		{"success_url", "https://shop.example.com/checkout/success?session_id={CHECKOUT_SESSION_ID}"},
		{"cancel_url", "https://shop.example.com/templates/landing?canceled=1"},
		{"client_reference_id", "u1"},
		{"metadata[productId]", "p1"},
		{"metadata[userId]", "u1"},
		{"payment_intent_data[metadata][productId]", "p1"},
		{"payment_intent_data[metadata][userId]", "u1"},
	}
	for _, w := range want {
		if gotForm[w.key] != w.value {
			t.Errorf("form[%q] = %q, want %q", w.key, gotForm[w.key], w.value)
		}
	}
}

func TestStripeGateway_CreateCheckoutSession_OmitsEmptyOptionalFields(t *testing.T) {
	var gotForm http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = http.Header(r.PostForm)
		w.Write([]byte(`{"id":"cs_test_2","url":"https://checkout.stripe.com/c/pay/cs_test_2"}`))
	}))
	defer srv.Close()

	gw, _ := newTestGateway(t, srv.URL)
	_, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ProductName: "Bare",
		UnitAmount:  1000,
		Currency:    "IDR",
		SuccessURL:  "https://shop.example.com/ok",
		CancelURL:   "https://shop.example.com/cancel",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutSession failed: %v", err)
	}
	for k := range gotForm {
		if strings.Contains(k, "[description]") || strings.Contains(k, "[images]") {
			t.Errorf("unexpected empty optional field sent: %s", k)
		}
	}
}

func TestStripeGateway_CreateCheckoutSession_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Request-Id", "req_123")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer","message":"Invalid integer"}}`))
	}))
	defer srv.Close()

	gw, logs := newTestGateway(t, srv.URL)
	_, err := gw.CreateCheckoutSession(context.Background(), CheckoutRequest{
		ProductName: "Landing", UnitAmount: 1, Currency: "IDR",
		SuccessURL: "https://shop.example.com/ok", CancelURL: "https://shop.example.com/cancel",
	})
	if err == nil {
		t.Fatal("expected error from stripe")
	}
	if !strings.Contains(logs.String(), "invalid_request_error") {
		t.Errorf("expected stripe error type in logs, got %s", logs.String())
	}
}

func TestStripeGateway_CreateCheckoutSession_ContextCanceled(t *testing.T) {
	// ハンドラーはテスト終了時にreleaseが閉じられるまで応答しない。
	// deferは逆順に実行されるため、srv.Closeより先にreleaseが閉じられる。
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	gw, _ := newTestGateway(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := gw.CreateCheckoutSession(ctx, CheckoutRequest{
		ProductName: "Landing", UnitAmount: 1, Currency: "IDR",
		SuccessURL: "https://shop.example.com/ok", CancelURL: "https://shop.example.com/cancel",
	})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}

const completedPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "payment_status": "paid",
      "amount_total": 199000,
      "currency": "idr",
      "metadata": {"productId": "p1", "userId": "u1"}
    }
  }
}`

func TestStripeGateway_ParseWebhook_Valid(t *testing.T) {
	gw, _ := newTestGateway(t, "")

	ev, err := gw.ParseWebhook([]byte(completedPayload), sign(completedPayload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if ev.ID != "evt_1" || ev.Type != EventCheckoutCompleted {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.Session == nil {
		t.Fatal("expected session object")
	}
	s := ev.Session
	if s.ID != "cs_test_1" || s.PaymentStatus != PaymentStatusPaid || s.AmountTotal != 199000 || s.Currency != "IDR" {
		t.Errorf("unexpected session: %+v", s)
	}
	if s.Metadata[MetadataProductID] != "p1" || s.Metadata[MetadataUserID] != "u1" {
		t.Errorf("unexpected metadata: %v", s.Metadata)
	}
	if ev.SessionID() != "cs_test_1" {
		t.Errorf("SessionID() = %q", ev.SessionID())
	}
}

func TestStripeGateway_ParseWebhook_SignatureFailures(t *testing.T) {
	gw, _ := newTestGateway(t, "")

	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"不正な形式", "garbage"},
		{"別のシークレットで署名", sign(completedPayload, "whsec_other", time.Now())},
		{"許容時間を超過", sign(completedPayload, testWebhookSecret, time.Now().Add(-10*time.Minute))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.ParseWebhook([]byte(completedPayload), tt.header)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("expected ErrInvalidSignature, got %v", err)
			}
		})
	}
}

func TestStripeGateway_ParseWebhook_TamperedBody(t *testing.T) {
	gw, _ := newTestGateway(t, "")
	header := sign(completedPayload, testWebhookSecret, time.Now())

	tampered := strings.Replace(completedPayload, "199000", "1", 1)
	_, err := gw.ParseWebhook([]byte(tampered), header)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature for tampered body, got %v", err)
	}
}

func TestStripeGateway_ParseWebhook_InvalidPayload(t *testing.T) {
	gw, _ := newTestGateway(t, "")

	tests := []struct {
		name    string
		payload string
	}{
		{"JSONではない", "not json"},
		{"セッションオブジェクトなし", `{"id":"evt_2","type":"checkout.session.completed"}`},
		{"セッションIDなし", `{"id":"evt_3","type":"checkout.session.expired","data":{"object":{"object":"checkout.session"}}}`},
		{"イベントIDなし", `{"type":"checkout.session.completed","data":{"object":{"id":"cs_1"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gw.ParseWebhook([]byte(tt.payload), sign(tt.payload, testWebhookSecret, time.Now()))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("expected ErrInvalidPayload, got %v", err)
			}
		})
	}
}

func TestStripeGateway_ParseWebhook_NonCheckoutEvent(t *testing.T) {
	gw, _ := newTestGateway(t, "")
	payload := `{"id":"evt_9","type":"invoice.paid","data":{"object":{"id":"in_1","object":"invoice"}}}`

	ev, err := gw.ParseWebhook([]byte(payload), sign(payload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("ParseWebhook failed: %v", err)
	}
	if ev.Session != nil {
		t.Errorf("expected no session for non-checkout event, got %+v", ev.Session)
	}
	if ev.SessionID() != "" {
		t.Errorf("SessionID() = %q, want empty", ev.SessionID())
	}
}

func TestSlogLeveledLogger_ForwardsLevels(t *testing.T) {
	var buf bytes.Buffer
	l := &slogLeveledLogger{logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Debugf("debug %d", 1)
	l.Infof("info %s", "x")
	l.Warnf("warn")
	l.Errorf("error %v", errors.New("boom"))

	out := buf.String()
	for _, want := range []string{`"level":"DEBUG"`, `"msg":"info x"`, `"level":"WARN"`, `"msg":"error boom"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s: %s", want, out)
		}
	}
}
