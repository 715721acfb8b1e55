package tools

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/abjerry97/p2pvps_server/api"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PgxPool is the subset of *pgxpool.Pool the store uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

type DatabaseService struct {
	Pool PgxPool
}

func NewDatabaseService(ctx context.Context, databaseURL string) (*DatabaseService, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 20
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	log.Println("Database connected successfully")
	return &DatabaseService{Pool: pool}, nil
}

func (db *DatabaseService) Close() {
	db.Pool.Close()
}

func (db *DatabaseService) RunMigrations(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, name := range files {
		log.WithField("file", name).Info("Applying migration")
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := db.Pool.Exec(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func (db *DatabaseService) GetUserByUsername(ctx context.Context, username string) (*api.User, error) {
	query := `
		SELECT id, username, name, type, password_hash
		FROM users
		WHERE username = $1
	`

	var user api.User
	err := db.Pool.QueryRow(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.Type,
		&user.PasswordHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *DatabaseService) GetDevice(ctx context.Context, deviceID string) (*api.Device, error) {
	query := `
		SELECT id, owner_user, renter_user, device_name, device_desc, ob_contract,
		       expires_at, checkin_time
		FROM devices
		WHERE id = $1
	`

	var device api.Device
	var expiresAt, checkinTime *time.Time
	err := db.Pool.QueryRow(ctx, query, deviceID).Scan(
		&device.ID,
		&device.OwnerUser,
		&device.RenterUser,
		&device.DeviceName,
		&device.DeviceDesc,
		&device.ObContract,
		&expiresAt,
		&checkinTime,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt != nil {
		device.ExpiresAt = *expiresAt
	}
	if checkinTime != nil {
		device.CheckinTime = *checkinTime
	}
	return &device, nil
}

func (db *DatabaseService) SetDeviceContract(ctx context.Context, deviceID, contractID string) error {
	tag, err := db.Pool.Exec(ctx,
		`UPDATE devices SET ob_contract = $2, updated_at = NOW() WHERE id = $1`,
		deviceID, contractID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LoadAccount reads the device's payment ledger in insertion order.
func (db *DatabaseService) LoadAccount(ctx context.Context, deviceID string) (*api.RentalAccount, error) {
	account := api.RentalAccount{DeviceID: deviceID}

	err := db.Pool.QueryRow(ctx,
		`SELECT money_owed, version FROM devices WHERE id = $1`, deviceID,
	).Scan(&account.MoneyOwed, &account.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT amount, pay_time, refund_address
		FROM device_payments
		WHERE device_id = $1
		ORDER BY seq
	`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var pmt api.PaymentRecord
		if err := rows.Scan(&pmt.Amount, &pmt.PayTime, &pmt.RefundAddress); err != nil {
			return nil, err
		}
		account.Payments = append(account.Payments, pmt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &account, nil
}

// SaveAccount writes the ledger and owed amount back. The write only succeeds
// if nobody else changed the account since it was loaded; otherwise
// ErrConflict is returned and nothing is written.
func (db *DatabaseService) SaveAccount(ctx context.Context, account *api.RentalAccount) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx, `
		UPDATE devices
		SET money_owed = $2,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $3
		RETURNING version
	`, account.DeviceID, account.MoneyOwed, account.Version).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	batch.Queue(`DELETE FROM device_payments WHERE device_id = $1`, account.DeviceID)
	for i, pmt := range account.Payments {
		batch.Queue(`
			INSERT INTO device_payments (device_id, seq, amount, pay_time, refund_address)
			VALUES ($1, $2, $3, $4, $5)
		`, account.DeviceID, i, pmt.Amount, pmt.PayTime, pmt.RefundAddress)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	account.Version = version
	return nil
}

// AppendPayment adds a record to the end of the ledger and bumps the account
// version so in-flight settlements of the old ledger fail to save.
func (db *DatabaseService) AppendPayment(ctx context.Context, deviceID string, pmt api.PaymentRecord) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE devices SET version = version + 1, updated_at = NOW() WHERE id = $1`,
		deviceID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO device_payments (device_id, seq, amount, pay_time, refund_address)
		SELECT $1, COALESCE(MAX(seq) + 1, 0), $2, $3, $4
		FROM device_payments
		WHERE device_id = $1
	`, deviceID, pmt.Amount, pmt.PayTime, pmt.RefundAddress)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}
