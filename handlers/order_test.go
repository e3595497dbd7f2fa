package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-svc/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// identityStub stands in for the auth middleware so tests can pick the
// caller's claims directly.
func identityStub(userID, sellerID int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != 0 {
			c.Set("user_id", userID)
		}
		if sellerID != 0 {
			c.Set("seller_id", sellerID)
		}
		c.Next()
	}
}

func setupOrderTest(t *testing.T, userID, sellerID int) (*gin.Engine, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}

	handler := NewOrderHandler(db, zaptest.NewLogger(t))

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(identityStub(userID, sellerID))
	router.GET("/orders/:id", handler.GetOrder)
	router.PUT("/orders/:id/status", handler.UpdateOrderStatus)

	return router, mock, func() { db.Close() }
}

func orderRow(ownerID, shopID, sellerID int, status string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "owner_id", "shop_id", "session_id", "total_price", "status",
		"shipping_address_id", "coupon_code", "discount_amount", "created_at", "updated_at", "seller_id",
	}).AddRow(11, ownerID, shopID, "sess-x", 20.0, status, nil, "", 0.0, time.Now(), time.Now(), sellerID)
}

func TestGetOrder_BuyerCanReadOwnOrder(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 7, 0)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM orders o JOIN shops s").
		WithArgs(11).
		WillReturnRows(orderRow(7, 1, 101, "Paid"))
	mock.ExpectQuery("SELECT product_id, quantity, price, selected_options FROM order_items").
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"product_id", "quantity", "price", "selected_options"}).
			AddRow(1, 2, 10.0, `{"size":"M"}`))

	req := httptest.NewRequest(http.MethodGet, "/orders/11", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var order models.Order
	if err := json.Unmarshal(w.Body.Bytes(), &order); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if order.ID != 11 || order.OwnerID != 7 {
		t.Errorf("Unexpected order: %+v", order)
	}
	if len(order.Items) != 1 || order.Items[0].SelectedOptions["size"] != "M" {
		t.Errorf("Unexpected order items: %+v", order.Items)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestGetOrder_StrangerIsForbidden(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 99, 0)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM orders o JOIN shops s").
		WithArgs(11).
		WillReturnRows(orderRow(7, 1, 101, "Paid"))

	req := httptest.NewRequest(http.MethodGet, "/orders/11", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestGetOrder_NotFound(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 7, 0)
	defer cleanup()

	mock.ExpectQuery("SELECT (.+) FROM orders o JOIN shops s").
		WithArgs(404).
		WillReturnError(sql.ErrNoRows)

	req := httptest.NewRequest(http.MethodGet, "/orders/404", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func statusUpdateRequest(t *testing.T, orderID string, status models.OrderStatus) *http.Request {
	t.Helper()
	body, err := json.Marshal(models.UpdateOrderStatusRequest{Status: status})
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPut, "/orders/"+orderID+"/status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUpdateOrderStatus_AdvancesForward(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 0, 101)
	defer cleanup()

	mock.ExpectQuery("SELECT o.status, s.seller_id FROM orders o JOIN shops s").
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"status", "seller_id"}).AddRow("Paid", 101))
	mock.ExpectExec("UPDATE orders SET status").
		WithArgs("Packed", 11).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusUpdateRequest(t, "11", models.OrderStatusPacked))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Database expectations were not met: %v", err)
	}
}

func TestUpdateOrderStatus_RejectsBackwardMove(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 0, 101)
	defer cleanup()

	mock.ExpectQuery("SELECT o.status, s.seller_id FROM orders o JOIN shops s").
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"status", "seller_id"}).AddRow("Shipped", 101))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusUpdateRequest(t, "11", models.OrderStatusPacked))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestUpdateOrderStatus_WrongSellerIsForbidden(t *testing.T) {
	router, mock, cleanup := setupOrderTest(t, 0, 202)
	defer cleanup()

	mock.ExpectQuery("SELECT o.status, s.seller_id FROM orders o JOIN shops s").
		WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"status", "seller_id"}).AddRow("Paid", 101))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusUpdateRequest(t, "11", models.OrderStatusPacked))

	if w.Code != http.StatusForbidden {
		t.Errorf("Expected status %d, got %d", http.StatusForbidden, w.Code)
	}
}

func TestUpdateOrderStatus_UnknownStatus(t *testing.T) {
	router, _, cleanup := setupOrderTest(t, 0, 101)
	defer cleanup()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, statusUpdateRequest(t, "11", models.OrderStatus("Teleported")))

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
