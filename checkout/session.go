package checkout

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"checkout-svc/cache"
	"checkout-svc/coupon"
	"checkout-svc/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound = errors.New("payment session not found")
	ErrUnknownShop     = errors.New("unknown shop in cart")
)

// SessionManager creates and reads payment sessions. An owner has at most
// one live session: an identical cart is deduplicated onto the existing
// session, a differing cart evicts it.
type SessionManager struct {
	store  Store
	db     *sql.DB
	ttl    time.Duration
	logger *zap.Logger

	mu         sync.Mutex
	ownerLocks map[int]*sync.Mutex
}

func NewSessionManager(store Store, db *sql.DB, logger *zap.Logger) *SessionManager {
	ttl := 600
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ttl = n
		}
	}
	return &SessionManager{
		store:      store,
		db:         db,
		ttl:        time.Duration(ttl) * time.Second,
		logger:     logger,
		ownerLocks: make(map[int]*sync.Mutex),
	}
}

// lockOwner serializes the scan-then-write window for one owner within this
// instance. Cross-instance duplicates resolve on the next scan.
func (m *SessionManager) lockOwner(ownerID int) func() {
	m.mu.Lock()
	lock, ok := m.ownerLocks[ownerID]
	if !ok {
		lock = &sync.Mutex{}
		m.ownerLocks[ownerID] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (m *SessionManager) CreateSession(ctx context.Context, ownerID int, req models.CreateSessionRequest) (*models.CreateSessionResponse, error) {
	fingerprint, err := Fingerprint(req.Cart)
	if err != nil {
		return nil, err
	}

	unlock := m.lockOwner(ownerID)
	defer unlock()

	keys, err := m.store.Keys(ctx, ownerPrefix(ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to scan live sessions: %w", err)
	}

	for _, key := range keys {
		data, err := m.store.Get(ctx, key)
		if errors.Is(err, cache.ErrKeyNotFound) {
			// expired between scan and read
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read live session: %w", err)
		}

		var existing models.PaymentSession
		if err := json.Unmarshal(data, &existing); err != nil {
			m.logger.Warn("Evicting undecodable session", zap.String("key", key), zap.Error(err))
			if err := m.store.Delete(ctx, key); err != nil {
				m.logger.Error("Failed to evict session", zap.String("key", key), zap.Error(err))
			}
			continue
		}

		existingFingerprint, err := Fingerprint(existing.Cart)
		if err == nil && existingFingerprint == fingerprint {
			m.logger.Info("Reusing existing payment session",
				zap.Int("owner_id", ownerID),
				zap.String("session_id", existing.SessionID),
			)
			return &models.CreateSessionResponse{
				SessionID:   existing.SessionID,
				IsExisting:  true,
				TotalAmount: existing.TotalAmount,
			}, nil
		}

		// one active checkout intent per owner
		if err := m.store.Delete(ctx, key); err != nil {
			m.logger.Error("Failed to evict stale session", zap.String("key", key), zap.Error(err))
		}
	}

	sellers, err := m.resolveSellers(ctx, req.Cart)
	if err != nil {
		return nil, err
	}

	var cpn *models.Coupon
	if req.CouponCode != "" {
		cpn, err = coupon.Lookup(ctx, m.db, req.CouponCode)
		if err != nil {
			return nil, err
		}
	}

	session := models.PaymentSession{
		SessionID:         uuid.NewString(),
		OwnerID:           ownerID,
		Cart:              req.Cart,
		Sellers:           sellers,
		TotalAmount:       CartTotal(req.Cart),
		ShippingAddressID: req.ShippingAddressID,
		Coupon:            cpn,
		CreatedAt:         time.Now().UTC(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.store.Set(ctx, sessionKey(ownerID, session.SessionID), data, m.ttl); err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	m.logger.Info("Payment session created",
		zap.Int("owner_id", ownerID),
		zap.String("session_id", session.SessionID),
		zap.Float64("total_amount", session.TotalAmount),
		zap.Int("shops", len(sellers)),
	)

	return &models.CreateSessionResponse{
		SessionID:   session.SessionID,
		TotalAmount: session.TotalAmount,
	}, nil
}

// FetchSession reads a session without touching its TTL.
func (m *SessionManager) FetchSession(ctx context.Context, ownerID int, sessionID string) (*models.PaymentSession, error) {
	data, err := m.store.Get(ctx, sessionKey(ownerID, sessionID))
	if errors.Is(err, cache.ErrKeyNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var session models.PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

// resolveSellers maps each distinct shop in the cart to its seller and
// gateway payout account.
func (m *SessionManager) resolveSellers(ctx context.Context, cart []models.CartItem) (map[int]models.SellerInfo, error) {
	shopIDs := make([]int64, 0)
	seen := make(map[int]bool)
	for _, item := range cart {
		if !seen[item.ShopID] {
			seen[item.ShopID] = true
			shopIDs = append(shopIDs, int64(item.ShopID))
		}
	}

	rows, err := m.db.QueryContext(ctx,
		"SELECT id, seller_id, gateway_account_id FROM shops WHERE id = ANY($1)",
		pq.Array(shopIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sellers: %w", err)
	}
	defer rows.Close()

	sellers := make(map[int]models.SellerInfo)
	for rows.Next() {
		var shopID int
		var info models.SellerInfo
		if err := rows.Scan(&shopID, &info.SellerID, &info.GatewayAccountID); err != nil {
			return nil, fmt.Errorf("failed to scan shop row: %w", err)
		}
		sellers[shopID] = info
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to resolve sellers: %w", err)
	}

	for shopID := range seen {
		if _, ok := sellers[shopID]; !ok {
			return nil, fmt.Errorf("%w: shop %d", ErrUnknownShop, shopID)
		}
	}
	return sellers, nil
}
