package payment

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
)

func newTestStripe(t *testing.T, h http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripe(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		APIURL:        srv.URL,
		Timeout:       2 * time.Second,
	}, nil)
}

func TestStripe_CreateSession(t *testing.T) {
	var form map[string][]string
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session","url":"https://pay.example/cs_test_1","payment_status":"unpaid","metadata":{"user_id":"user-1"}}`)
	})

	sess, err := s.CreateSession(context.Background(), CreateSessionInput{
		UserID:     "user-1",
		LineItems:  []LineItem{{ProductID: "apex", Name: "Apex Zen Script", UnitAmount: 1500, Currency: "usd"}},
		SuccessURL: "https://shop.example/success.html?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  "https://shop.example/",
		Metadata:   map[string]string{MetaUserID: "user-1", MetaItems: "[]"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://pay.example/cs_test_1", sess.URL)
	assert.False(t, sess.Paid)

	assert.Equal(t, "payment", form["mode"][0])
	assert.Equal(t, "1500", form["line_items[0][price_data][unit_amount]"][0])
	assert.Equal(t, "usd", form["line_items[0][price_data][currency]"][0])
	assert.Equal(t, "apex", form["line_items[0][price_data][product_data][metadata][product_id]"][0])
	assert.Equal(t, "1", form["line_items[0][quantity]"][0])
	assert.Equal(t, "user-1", form["metadata[user_id]"][0])
	assert.Equal(t, "user-1", form["client_reference_id"][0])
}

func TestStripe_GetSessionWithLineItems(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions/cs_paid", r.URL.Path)
		assert.Contains(t, r.URL.RawQuery, "expand")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_paid","object":"checkout.session","payment_status":"paid","metadata":{"user_id":"user-1"},
			"line_items":{"object":"list","data":[
				{"id":"li_1","object":"item","amount_total":750,"description":"Apex Zen Script","price":{"id":"price_1","object":"price","product":{"id":"prod_1","object":"product","name":"Apex","metadata":{"product_id":"apex"}}}},
				{"id":"li_2","object":"item","amount_total":2000,"description":"","price":{"id":"price_2","object":"price","product":{"id":"prod_2","object":"product","name":"Rust Zen Script","metadata":{}}}}
			]}}`)
	})

	sess, err := s.GetSession(context.Background(), "cs_paid", true)
	require.NoError(t, err)
	assert.True(t, sess.Paid)
	require.Len(t, sess.LineItems, 2)
	assert.Equal(t, SessionLineItem{ProductID: "apex", Name: "Apex Zen Script", AmountTotal: 750}, sess.LineItems[0])
	assert.Equal(t, SessionLineItem{Name: "Rust Zen Script", AmountTotal: 2000}, sess.LineItems[1])
}

func TestStripe_GetSessionNotFound(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such checkout.session"}}`)
	})

	_, err := s.GetSession(context.Background(), "cs_missing", false)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStripe_BreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":{"type":"api_error","message":"boom"}}`)
	})

	for i := 0; i < 5; i++ {
		_, err := s.GetSession(context.Background(), "cs_x", false)
		require.Error(t, err)
	}
	_, err := s.GetSession(context.Background(), "cs_x", false)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(5), calls.Load())
}

func TestStripe_NotConfigured(t *testing.T) {
	s := NewStripe(StripeConfig{}, nil)
	_, err := s.CreateSession(context.Background(), CreateSessionInput{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = s.ParseWebhook([]byte(`{}`), "t=1,v1=abc")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestStripe_ParseWebhook(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: "whsec_test"}, nil)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":"paid","metadata":{"user_id":"user-1","items":"[]"}}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	ev, err := s.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "cs_1", ev.Session.ID)
	assert.True(t, ev.Session.Paid)
	assert.Equal(t, "user-1", ev.Session.Metadata[MetaUserID])

	_, err = s.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	forged := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	_, err = s.ParseWebhook(payload, forged.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripe_ParseWebhookOtherEvent(t *testing.T) {
	s := NewStripe(StripeConfig{WebhookSecret: "whsec_test"}, nil)
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	ev, err := s.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "customer.created", ev.Type)
	assert.Nil(t, ev.Session)
}
