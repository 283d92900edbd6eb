package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"iter"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiwari-pos/dinein/internal/auth"
	"github.com/kiwari-pos/dinein/internal/database"
	"github.com/kiwari-pos/dinein/internal/service"
)

const testJWTSecret = "test-jwt-secret"

// --- Mock TableServicer / SessionOrderer ---

type mockTableService struct {
	resolveFn      func(ctx context.Context, outletID uuid.UUID, code, device string) (*service.ResolveResult, error)
	openSessionFn  func(ctx context.Context, req service.OpenSessionRequest) (*database.QrSession, error)
	heartbeatFn    func(ctx context.Context, outletID, sessionID uuid.UUID) (time.Time, error)
	closeSessionFn func(ctx context.Context, outletID, sessionID uuid.UUID) error
	closeTableFn   func(ctx context.Context, outletID, tableID uuid.UUID) (int64, error)
}

func (m *mockTableService) Resolve(ctx context.Context, outletID uuid.UUID, code, device string) (*service.ResolveResult, error) {
	return m.resolveFn(ctx, outletID, code, device)
}

func (m *mockTableService) OpenSession(ctx context.Context, req service.OpenSessionRequest) (*database.QrSession, error) {
	return m.openSessionFn(ctx, req)
}

func (m *mockTableService) Heartbeat(ctx context.Context, outletID, sessionID uuid.UUID) (time.Time, error) {
	return m.heartbeatFn(ctx, outletID, sessionID)
}

func (m *mockTableService) CloseSession(ctx context.Context, outletID, sessionID uuid.UUID) error {
	return m.closeSessionFn(ctx, outletID, sessionID)
}

func (m *mockTableService) CloseSessionsForTable(ctx context.Context, outletID, tableID uuid.UUID) (int64, error) {
	return m.closeTableFn(ctx, outletID, tableID)
}

type mockSessionOrderer struct {
	addFn func(ctx context.Context, outletID, sessionID uuid.UUID, req service.AddItemRequest) (*service.OrderItemResult, error)
}

func (m *mockSessionOrderer) AddItemForSession(ctx context.Context, outletID, sessionID uuid.UUID, req service.AddItemRequest) (*service.OrderItemResult, error) {
	return m.addFn(ctx, outletID, sessionID, req)
}

// --- Mock OrderServicer ---

type mockOrderService struct {
	openFn           func(ctx context.Context, req service.OpenOrderRequest) (*service.OpenOrderResult, error)
	getFn            func(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderDetail, error)
	addItemFn        func(ctx context.Context, req service.AddItemRequest) (*service.OrderItemResult, error)
	patchItemFn      func(ctx context.Context, req service.PatchItemRequest) (*database.OrderItem, error)
	voidItemFn       func(ctx context.Context, outletID, orderID, itemID uuid.UUID) (*database.OrderItem, error)
	setDiscountFn    func(ctx context.Context, req service.SetDiscountRequest) (*service.OrderResult, error)
	removeDiscountFn func(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderResult, error)
	linkFn           func(ctx context.Context, outletID, orderID, tableID uuid.UUID) (*database.OrderTable, error)
	unlinkFn         func(ctx context.Context, outletID, orderID, tableID uuid.UUID) error
	closeFn          func(ctx context.Context, outletID, orderID uuid.UUID, mode database.OrderStatus) (*service.OrderResult, error)
	voidFn           func(ctx context.Context, outletID, orderID uuid.UUID, reason string) (*service.OrderResult, error)
}

func (m *mockOrderService) OpenOrReuse(ctx context.Context, req service.OpenOrderRequest) (*service.OpenOrderResult, error) {
	return m.openFn(ctx, req)
}

func (m *mockOrderService) Get(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderDetail, error) {
	return m.getFn(ctx, outletID, orderID)
}

func (m *mockOrderService) AddItem(ctx context.Context, req service.AddItemRequest) (*service.OrderItemResult, error) {
	return m.addItemFn(ctx, req)
}

func (m *mockOrderService) PatchItem(ctx context.Context, req service.PatchItemRequest) (*database.OrderItem, error) {
	return m.patchItemFn(ctx, req)
}

func (m *mockOrderService) VoidItem(ctx context.Context, outletID, orderID, itemID uuid.UUID) (*database.OrderItem, error) {
	return m.voidItemFn(ctx, outletID, orderID, itemID)
}

func (m *mockOrderService) SetDiscount(ctx context.Context, req service.SetDiscountRequest) (*service.OrderResult, error) {
	return m.setDiscountFn(ctx, req)
}

func (m *mockOrderService) RemoveDiscount(ctx context.Context, outletID, orderID uuid.UUID) (*service.OrderResult, error) {
	return m.removeDiscountFn(ctx, outletID, orderID)
}

func (m *mockOrderService) LinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) (*database.OrderTable, error) {
	return m.linkFn(ctx, outletID, orderID, tableID)
}

func (m *mockOrderService) UnlinkTable(ctx context.Context, outletID, orderID, tableID uuid.UUID) error {
	return m.unlinkFn(ctx, outletID, orderID, tableID)
}

func (m *mockOrderService) Close(ctx context.Context, outletID, orderID uuid.UUID, mode database.OrderStatus) (*service.OrderResult, error) {
	return m.closeFn(ctx, outletID, orderID, mode)
}

func (m *mockOrderService) Void(ctx context.Context, outletID, orderID uuid.UUID, reason string) (*service.OrderResult, error) {
	return m.voidFn(ctx, outletID, orderID, reason)
}

// --- Mock KitchenServicer / TicketSubmitter ---

type mockKitchenService struct {
	submitFn  func(ctx context.Context, outletID, orderID uuid.UUID) (int64, error)
	advanceFn func(ctx context.Context, outletID, itemID uuid.UUID, target database.OrderItemStatus) (*database.OrderItem, error)
	tickets   []service.KitchenTicket
	feedErr   error
	lastQuery service.FeedQuery
}

func (m *mockKitchenService) SubmitTicket(ctx context.Context, outletID, orderID uuid.UUID) (int64, error) {
	return m.submitFn(ctx, outletID, orderID)
}

func (m *mockKitchenService) Advance(ctx context.Context, outletID, itemID uuid.UUID, target database.OrderItemStatus) (*database.OrderItem, error) {
	return m.advanceFn(ctx, outletID, itemID, target)
}

func (m *mockKitchenService) Feed(_ context.Context, q service.FeedQuery) iter.Seq2[service.KitchenTicket, error] {
	m.lastQuery = q
	return func(yield func(service.KitchenTicket, error) bool) {
		if m.feedErr != nil {
			yield(service.KitchenTicket{}, m.feedErr)
			return
		}
		for _, t := range m.tickets {
			if t.Item.UpdatedAt.Before(q.Since) {
				continue
			}
			if a := q.After; a != nil {
				c := t.Item.CreatedAt.Compare(a.CreatedAt)
				if c < 0 || (c == 0 && bytes.Compare(t.Item.ID[:], a.ID[:]) <= 0) {
					continue
				}
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

// --- Mock GroupServicer ---

type mockGroupService struct {
	createFn      func(ctx context.Context, outletID uuid.UUID, createdBy *uuid.UUID) (*database.BillingGroup, error)
	getFn         func(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupDetail, error)
	attachFn      func(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error)
	detachFn      func(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error)
	setDiscountFn func(ctx context.Context, outletID, groupID uuid.UUID, discountType, value string) (*service.GroupResult, error)
	closeFn       func(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupResult, error)
}

func (m *mockGroupService) Create(ctx context.Context, outletID uuid.UUID, createdBy *uuid.UUID) (*database.BillingGroup, error) {
	return m.createFn(ctx, outletID, createdBy)
}

func (m *mockGroupService) Get(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupDetail, error) {
	return m.getFn(ctx, outletID, groupID)
}

func (m *mockGroupService) Attach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error) {
	return m.attachFn(ctx, outletID, groupID, orderID)
}

func (m *mockGroupService) Detach(ctx context.Context, outletID, groupID, orderID uuid.UUID) (*service.GroupResult, error) {
	return m.detachFn(ctx, outletID, groupID, orderID)
}

func (m *mockGroupService) SetDiscount(ctx context.Context, outletID, groupID uuid.UUID, discountType, value string) (*service.GroupResult, error) {
	return m.setDiscountFn(ctx, outletID, groupID, discountType, value)
}

func (m *mockGroupService) Close(ctx context.Context, outletID, groupID uuid.UUID) (*service.GroupResult, error) {
	return m.closeFn(ctx, outletID, groupID)
}

// --- Mock BillingServicer ---

type mockBillingService struct {
	orderTotalsFn func(ctx context.Context, outletID, orderID uuid.UUID) (*service.Totals, error)
	groupTotalsFn func(ctx context.Context, outletID, groupID uuid.UUID) (*service.Totals, error)
}

func (m *mockBillingService) OrderTotals(ctx context.Context, outletID, orderID uuid.UUID) (*service.Totals, error) {
	return m.orderTotalsFn(ctx, outletID, orderID)
}

func (m *mockBillingService) GroupTotals(ctx context.Context, outletID, groupID uuid.UUID) (*service.Totals, error) {
	return m.groupTotalsFn(ctx, outletID, groupID)
}

// --- Mock PaymentServicer / ProviderConfirmer ---

type mockPaymentService struct {
	createFn          func(ctx context.Context, req service.CreatePaymentRequest) (*database.Payment, error)
	confirmFn         func(ctx context.Context, outletID, paymentID uuid.UUID) (*service.ConfirmResult, error)
	voidFn            func(ctx context.Context, outletID, paymentID uuid.UUID) (*database.Payment, error)
	confirmProviderFn func(ctx context.Context, c service.ProviderConfirmation) (*service.ConfirmResult, error)
}

func (m *mockPaymentService) CreatePending(ctx context.Context, req service.CreatePaymentRequest) (*database.Payment, error) {
	return m.createFn(ctx, req)
}

func (m *mockPaymentService) Confirm(ctx context.Context, outletID, paymentID uuid.UUID) (*service.ConfirmResult, error) {
	return m.confirmFn(ctx, outletID, paymentID)
}

func (m *mockPaymentService) Void(ctx context.Context, outletID, paymentID uuid.UUID) (*database.Payment, error) {
	return m.voidFn(ctx, outletID, paymentID)
}

func (m *mockPaymentService) ConfirmProvider(ctx context.Context, c service.ProviderConfirmation) (*service.ConfirmResult, error) {
	return m.confirmProviderFn(ctx, c)
}

// --- Helpers ---

func testClaims(outletID uuid.UUID, role string) *auth.Claims {
	return &auth.Claims{UserID: uuid.New(), OutletID: outletID, Role: role}
}

// doRequest sends a JSON request. claims may be nil for public routes; body
// may be a string for raw payloads.
func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, claims *auth.Claims) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if claims != nil {
		token, err := auth.GenerateToken(testJWTSecret, claims.UserID, claims.OutletID, claims.Role, time.Hour)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v; body: %s", err, rr.Body.String())
	}
	return resp
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, want, rr.Body.String())
	}
}
