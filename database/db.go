package database

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "marketplacedb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create the tables this service owns. users/shops/products/coupons are
	// catalog rows shared with the other services; the IF NOT EXISTS bootstrap
	// keeps local development self-contained.
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS shops (
		id SERIAL PRIMARY KEY,
		seller_id INTEGER NOT NULL,
		gateway_account_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id SERIAL PRIMARY KEY,
		shop_id INTEGER NOT NULL,
		price DECIMAL(10, 2) NOT NULL,
		stock INTEGER NOT NULL DEFAULT 0,
		sold_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS coupons (
		code VARCHAR(64) PRIMARY KEY,
		discount_type VARCHAR(20) NOT NULL,
		discount_value DECIMAL(10, 2) NOT NULL,
		product_id INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orders (
		id SERIAL PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		shop_id INTEGER NOT NULL,
		session_id VARCHAR(64) NOT NULL,
		total_price DECIMAL(10, 2) NOT NULL,
		status VARCHAR(50) NOT NULL DEFAULT 'Paid',
		shipping_address_id INTEGER,
		coupon_code VARCHAR(64),
		discount_amount DECIMAL(10, 2) NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (session_id, shop_id)
	);

	CREATE TABLE IF NOT EXISTS order_items (
		id SERIAL PRIMARY KEY,
		order_id INTEGER NOT NULL REFERENCES orders(id),
		product_id INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		price DECIMAL(10, 2) NOT NULL,
		selected_options TEXT
	);

	CREATE TABLE IF NOT EXISTS product_analytics (
		product_id INTEGER PRIMARY KEY,
		shop_id INTEGER NOT NULL,
		purchases INTEGER NOT NULL DEFAULT 0,
		last_purchased_at TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS user_actions (
		id SERIAL PRIMARY KEY,
		user_id INTEGER NOT NULL,
		action VARCHAR(50) NOT NULL,
		product_id INTEGER,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
