package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/smallbiznis/compliancehub/internal/auth/domain"
	authservice "github.com/smallbiznis/compliancehub/internal/auth/service"
	bookingdomain "github.com/smallbiznis/compliancehub/internal/booking/domain"
	bookingrepository "github.com/smallbiznis/compliancehub/internal/booking/repository"
	"github.com/smallbiznis/compliancehub/internal/clock"
	"github.com/smallbiznis/compliancehub/internal/config"
	invoicerepository "github.com/smallbiznis/compliancehub/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/compliancehub/internal/invoice/service"
	notificationclient "github.com/smallbiznis/compliancehub/internal/notification/client"
	notificationdomain "github.com/smallbiznis/compliancehub/internal/notification/domain"
	"github.com/smallbiznis/compliancehub/internal/notification/realtime"
	notificationrepository "github.com/smallbiznis/compliancehub/internal/notification/repository"
	notificationservice "github.com/smallbiznis/compliancehub/internal/notification/service"
	paymentdomain "github.com/smallbiznis/compliancehub/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/compliancehub/internal/payment/repository"
	paymentwebhook "github.com/smallbiznis/compliancehub/internal/payment/webhook"
	"github.com/smallbiznis/compliancehub/internal/providers/billing/billingtest"
	userdomain "github.com/smallbiznis/compliancehub/internal/user/domain"
	userrepository "github.com/smallbiznis/compliancehub/internal/user/repository"
	userservice "github.com/smallbiznis/compliancehub/internal/user/service"
	"github.com/smallbiznis/compliancehub/pkg/db"
	"github.com/smallbiznis/compliancehub/pkg/db/testschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "whsec_server_test"

	tenantID snowflake.ID = 7
)

type harness struct {
	engine        *gin.Engine
	db            *gorm.DB
	provider      *billingtest.Provider
	tokens        authdomain.TokenService
	hub           *realtime.Hub
	notifications notificationdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conn := db.NewTest(t, testschema.All()...)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	log := zaptest.NewLogger(t)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	provider := billingtest.New()
	hub := realtime.NewHub()

	tokens, err := authservice.NewWithSecret(testJWTSecret)
	require.NoError(t, err)

	cfg := config.Config{Stripe: config.StripeConfig{WebhookSecret: testWebhookSecret}}

	userSvc := userservice.New(userservice.Params{
		DB: conn, Log: log, Clock: fake, Repo: userrepository.Provide(), Provider: provider,
	})
	notifications := notificationservice.New(notificationservice.Params{
		DB: conn, Log: log, GenID: node, Clock: fake, Repo: notificationrepository.Provide(), Publisher: hub,
	})
	invoices := invoiceservice.New(invoiceservice.Params{
		DB:              conn,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Repo:            invoicerepository.Provide(),
		BookingRepo:     bookingrepository.Provide(),
		UserSvc:         userSvc,
		Provider:        provider,
		NotificationSvc: notifications,
		InvoicingConfig: config.NewStaticInvoicingConfigHolder(config.DefaultInvoicingConfig()),
	})
	payments := paymentwebhook.NewService(paymentwebhook.Params{
		DB:              conn,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Cfg:             cfg,
		Repo:            paymentrepository.Provide(),
		InvoiceRepo:     invoicerepository.Provide(),
		NotificationSvc: notifications,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	NewServer(ServerParams{
		Gin:             engine,
		Cfg:             cfg,
		Log:             log,
		Tokens:          tokens,
		InvoiceSvc:      invoices,
		NotificationSvc: notifications,
		PaymentSvc:      payments,
		Hub:             hub,
	})

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, userrepository.Provide().Insert(context.Background(), conn, &userdomain.User{
		ID: tenantID, Email: "tenant@example.com", CreatedAt: now, UpdatedAt: now,
	}))

	return &harness{
		engine:        engine,
		db:            conn,
		provider:      provider,
		tokens:        tokens,
		hub:           hub,
		notifications: notifications,
	}
}

func (h *harness) token(t *testing.T) string {
	t.Helper()
	token, err := h.tokens.Issue(authdomain.Identity{UserID: tenantID, Email: "tenant@example.com"}, time.Hour)
	require.NoError(t, err)
	return token
}

func (h *harness) seedBooking(t *testing.T, bookingID, serviceID snowflake.ID, price *string) {
	t.Helper()
	repo := bookingrepository.Provide()
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertService(context.Background(), h.db, &bookingdomain.Service{
		ID: serviceID, Name: "EICR", PriceReference: price, CreatedAt: now,
	}))
	require.NoError(t, repo.InsertBooking(context.Background(), h.db, &bookingdomain.Booking{
		ID: bookingID, UserID: tenantID, ServiceID: serviceID, PropertyID: 1, Status: "confirmed", CreatedAt: now,
	}))
}

func (h *harness) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error payload: %s", rec.Body.String())
	return payload["type"].(string)
}

func strPtr(v string) *string { return &v }

func TestCreateInvoiceRequiresBearerToken(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/invoices", "", map[string]any{"bookingIds": []string{"1"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", errorType(t, rec))

	rec = h.do(t, http.MethodPost, "/api/invoices", "not-a-jwt", map[string]any{"bookingIds": []string{"1"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, 501, 51, strPtr("price_eicr"))
	h.seedBooking(t, 502, 52, strPtr("price_fire"))

	rec := h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{
		"bookingIds": []any{"501", 502},
		"userId":     tenantID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	invoice := body["invoice"].(map[string]any)
	assert.Equal(t, "open", invoice["status"])
	assert.Equal(t, "in_1", invoice["provider_invoice_id"])
	assert.Len(t, invoice["booking_ids"], 2)
	assert.Len(t, h.provider.LineItemsFor("in_1"), 2)

	rec = h.do(t, http.MethodGet, "/api/invoices", h.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = h.do(t, http.MethodGet, fmt.Sprintf("/api/invoices/%v", invoice["id"]), h.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateInvoiceErrorMapping(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, 601, 61, strPtr("price_gas"))
	h.seedBooking(t, 602, 62, nil)

	rec := h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{"bookingIds": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))

	rec = h.do(t, http.MethodPost, "/api/invoices", h.token(t), []byte(`{"bookingIds": "601"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{"bookingIds": []string{"601", "602"}})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	payload := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "missing_price_configuration", payload["type"])
	assert.Equal(t, "602", payload["booking_id"])

	rec = h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{"bookingIds": []string{"999"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	h.provider.FailFinalize = true
	rec = h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{"bookingIds": []string{"601"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	payload = decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "upstream_provider_error", payload["type"])
	assert.Equal(t, "finalize_invoice rejected", payload["message"])
}

func TestStripeWebhookEndpoint(t *testing.T) {
	h := newHarness(t)
	h.seedBooking(t, 701, 71, strPtr("price_gas"))

	rec := h.do(t, http.MethodPost, "/api/invoices", h.token(t), map[string]any{"bookingIds": []string{"701"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The test provider name differs from stripe, so align the row with what the webhook matches on.
	require.NoError(t, h.db.Exec(`UPDATE invoices SET provider = ?`, paymentdomain.ProviderStripe).Error)

	payload := []byte(`{"id":"evt_server_1","object":"event","type":"invoice.payment_succeeded",
		"data":{"object":{"id":"in_1","object":"invoice","amount_paid":7500}}}`)

	forged := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{Payload: payload, Secret: "whsec_other"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", forged.Header)
	bad := httptest.NewRecorder()
	h.engine.ServeHTTP(bad, req)
	assert.Equal(t, http.StatusBadRequest, bad.Code)
	assert.Equal(t, "signature_verification_failed", errorType(t, bad))

	var status string
	require.NoError(t, h.db.Raw(`SELECT status FROM invoices WHERE provider_invoice_id = 'in_1'`).Scan(&status).Error)
	assert.Equal(t, "open", status)

	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{Payload: payload, Secret: testWebhookSecret})
	req = httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	ok := httptest.NewRecorder()
	h.engine.ServeHTTP(ok, req)
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())
	assert.Equal(t, true, decode(t, ok)["ok"])

	require.NoError(t, h.db.Raw(`SELECT status FROM invoices WHERE provider_invoice_id = 'in_1'`).Scan(&status).Error)
	assert.Equal(t, "paid", status)
}

func TestNotificationEndpoints(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 3; i++ {
		_, err := h.notifications.Create(context.Background(), notificationdomain.CreateRequest{
			UserID: tenantID.String(),
			Type:   notificationdomain.TypeServiceDue,
			Title:  fmt.Sprintf("Service due %d", i),
		})
		require.NoError(t, err)
	}

	rec := h.do(t, http.MethodGet, "/api/notifications?limit=2", h.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["data"], 2)

	rec = h.do(t, http.MethodGet, "/api/notifications?limit=500", h.token(t), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/notifications?before=yesterday", h.token(t), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/notifications/unread-count", h.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["count"])

	rec = h.do(t, http.MethodPost, "/api/notifications/read-all", h.token(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), decode(t, rec)["count"])

	rec = h.do(t, http.MethodGet, "/api/notifications/unread-count", h.token(t), nil)
	assert.Equal(t, float64(0), decode(t, rec)["count"])

	rec = h.do(t, http.MethodPost, "/api/notifications/read", h.token(t), map[string]any{"ids": []string{"bogus"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotificationStreamDeliversToClient(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	client, err := notificationclient.New(srv.URL, h.token(t))
	require.NoError(t, err)

	received := make(chan notificationdomain.Event, 4)
	cancel, err := client.Subscribe(context.Background(), func(event notificationdomain.Event) {
		received <- event
	})
	require.NoError(t, err)
	defer cancel()

	require.Eventually(t, func() bool { return h.hub.Subscribers(tenantID) == 1 }, time.Second, 10*time.Millisecond)

	created, err := h.notifications.Create(context.Background(), notificationdomain.CreateRequest{
		UserID: tenantID.String(),
		Type:   notificationdomain.TypeDocumentUploaded,
		Title:  "Certificate uploaded",
	})
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, notificationdomain.EventInsert, event.Kind)
		assert.Equal(t, created.ID, event.Notification.ID)
		assert.Equal(t, "Certificate uploaded", event.Notification.Title)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not deliver the insert")
	}

	unauthorized, err := notificationclient.New(srv.URL, "")
	require.NoError(t, err)
	_, err = unauthorized.Subscribe(context.Background(), func(notificationdomain.Event) {})
	var statusErr *notificationclient.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}
