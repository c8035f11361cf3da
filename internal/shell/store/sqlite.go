package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ldvinh/stackup/internal/core/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// Executor Interface - Shared by DB and Transaction
// =============================================================================

// executor abstracts database operations that can be performed on both
// a database connection and a transaction.
type executor interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Stack Operations
// =============================================================================

// stackRow represents a stack row in the database.
type stackRow struct {
	ID           string  `db:"id"`
	Name         string  `db:"name"`
	Descriptor   string  `db:"descriptor"`
	Variables    *string `db:"variables"`
	Status       string  `db:"status"`
	Containers   *string `db:"containers"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	UpdatedAt    string  `db:"updated_at"`
	StartedAt    *string `db:"started_at"`
	StoppedAt    *string `db:"stopped_at"`
}

func (s *SQLiteStore) CreateStack(ctx context.Context, st *domain.Stack) error {
	return createStack(ctx, s.db, st)
}

func (s *SQLiteStore) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	return getStack(ctx, s.db, id)
}

func (s *SQLiteStore) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, s.db, name)
}

func (s *SQLiteStore) UpdateStack(ctx context.Context, st *domain.Stack) error {
	return updateStack(ctx, s.db, st)
}

func (s *SQLiteStore) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, s.db, id)
}

func (s *SQLiteStore) ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error) {
	return listStacks(ctx, s.db, opts)
}

func (s *SQLiteStore) ListStacksByStatus(ctx context.Context, status domain.StackStatus) ([]domain.Stack, error) {
	return listStacksByStatus(ctx, s.db, status)
}

// =============================================================================
// Container Event Operations
// =============================================================================

// containerEventRow represents a container event row in the database.
type containerEventRow struct {
	ID          string `db:"id"`
	StackID     string `db:"stack_id"`
	ServiceName string `db:"service_name"`
	ContainerID string `db:"container_id"`
	EventType   string `db:"event_type"`
	Message     string `db:"message"`
	ExitCode    *int   `db:"exit_code"`
	Timestamp   string `db:"timestamp"`
}

func (s *SQLiteStore) CreateContainerEvent(ctx context.Context, event *domain.ContainerEvent) error {
	return createContainerEvent(ctx, s.db, event)
}

func (s *SQLiteStore) GetContainerEvents(ctx context.Context, stackID string, limit int, eventType *string) ([]domain.ContainerEvent, error) {
	return getContainerEvents(ctx, s.db, stackID, limit, eventType)
}

// =============================================================================
// Transaction Support
// =============================================================================

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return NewStoreError("WithTx", "", "", "failed to begin transaction", ErrTxFailed)
	}

	txS := &txSQLiteStore{tx: tx}

	if err := fn(txS); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return NewStoreError("WithTx", "", "", fmt.Sprintf("rollback failed after error: %v", err), ErrTxFailed)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return NewStoreError("WithTx", "", "", "failed to commit transaction", ErrTxFailed)
	}

	return nil
}

// =============================================================================
// Transaction Store
// =============================================================================

// txSQLiteStore implements Store within a transaction.
type txSQLiteStore struct {
	tx *sqlx.Tx
}

func (s *txSQLiteStore) CreateStack(ctx context.Context, st *domain.Stack) error {
	return createStack(ctx, s.tx, st)
}

func (s *txSQLiteStore) GetStack(ctx context.Context, id string) (*domain.Stack, error) {
	return getStack(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetStackByName(ctx context.Context, name string) (*domain.Stack, error) {
	return getStackByName(ctx, s.tx, name)
}

func (s *txSQLiteStore) UpdateStack(ctx context.Context, st *domain.Stack) error {
	return updateStack(ctx, s.tx, st)
}

func (s *txSQLiteStore) DeleteStack(ctx context.Context, id string) error {
	return deleteStack(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListStacks(ctx context.Context, opts ListOptions) ([]domain.Stack, error) {
	return listStacks(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListStacksByStatus(ctx context.Context, status domain.StackStatus) ([]domain.Stack, error) {
	return listStacksByStatus(ctx, s.tx, status)
}

func (s *txSQLiteStore) CreateContainerEvent(ctx context.Context, event *domain.ContainerEvent) error {
	return createContainerEvent(ctx, s.tx, event)
}

func (s *txSQLiteStore) GetContainerEvents(ctx context.Context, stackID string, limit int, eventType *string) ([]domain.ContainerEvent, error) {
	return getContainerEvents(ctx, s.tx, stackID, limit, eventType)
}

func (s *txSQLiteStore) WithTx(ctx context.Context, fn func(Store) error) error {
	// Already in a transaction, just run the function
	return fn(s)
}

func (s *txSQLiteStore) Close() error {
	// No-op for tx store
	return nil
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createStack(ctx context.Context, exec executor, st *domain.Stack) error {
	variablesJSON, err := json.Marshal(st.Variables)
	if err != nil {
		return NewStoreError("CreateStack", "stack", st.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(st.Containers)
	if err != nil {
		return NewStoreError("CreateStack", "stack", st.ID, "failed to serialize containers", ErrInvalidData)
	}

	var startedAt, stoppedAt *string
	if st.StartedAt != nil {
		v := st.StartedAt.Format(time.RFC3339)
		startedAt = &v
	}
	if st.StoppedAt != nil {
		v := st.StoppedAt.Format(time.RFC3339)
		stoppedAt = &v
	}

	query := `
		INSERT INTO stacks (
			id, name, descriptor, variables, status, containers,
			error_message, created_at, updated_at, started_at, stopped_at
		) VALUES (
			:id, :name, :descriptor, :variables, :status, :containers,
			:error_message, :created_at, :updated_at, :started_at, :stopped_at
		)`

	row := map[string]any{
		"id":            st.ID,
		"name":          st.Name,
		"descriptor":    st.Descriptor,
		"variables":     string(variablesJSON),
		"status":        string(st.Status),
		"containers":    string(containersJSON),
		"error_message": st.ErrorMessage,
		"created_at":    st.CreatedAt.Format(time.RFC3339),
		"updated_at":    st.UpdatedAt.Format(time.RFC3339),
		"started_at":    startedAt,
		"stopped_at":    stoppedAt,
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: stacks.id") {
			return NewStoreError("CreateStack", "stack", st.ID, "stack with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: stacks.name") {
			return NewStoreError("CreateStack", "stack", st.ID, "stack with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("CreateStack", "stack", st.ID, err.Error(), err)
	}

	return nil
}

func getStack(ctx context.Context, exec executor, id string) (*domain.Stack, error) {
	query := `SELECT * FROM stacks WHERE id = ?`

	var row stackRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetStack", "stack", id, "stack not found", ErrNotFound)
		}
		return nil, NewStoreError("GetStack", "stack", id, err.Error(), err)
	}

	return rowToStack(&row)
}

func getStackByName(ctx context.Context, exec executor, name string) (*domain.Stack, error) {
	query := `SELECT * FROM stacks WHERE name = ?`

	var row stackRow
	err := exec.GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetStackByName", "stack", name, "stack not found", ErrNotFound)
		}
		return nil, NewStoreError("GetStackByName", "stack", name, err.Error(), err)
	}

	return rowToStack(&row)
}

func updateStack(ctx context.Context, exec executor, st *domain.Stack) error {
	variablesJSON, err := json.Marshal(st.Variables)
	if err != nil {
		return NewStoreError("UpdateStack", "stack", st.ID, "failed to serialize variables", ErrInvalidData)
	}
	containersJSON, err := json.Marshal(st.Containers)
	if err != nil {
		return NewStoreError("UpdateStack", "stack", st.ID, "failed to serialize containers", ErrInvalidData)
	}

	var startedAt, stoppedAt *string
	if st.StartedAt != nil {
		v := st.StartedAt.Format(time.RFC3339)
		startedAt = &v
	}
	if st.StoppedAt != nil {
		v := st.StoppedAt.Format(time.RFC3339)
		stoppedAt = &v
	}

	query := `
		UPDATE stacks SET
			name = :name,
			descriptor = :descriptor,
			variables = :variables,
			status = :status,
			containers = :containers,
			error_message = :error_message,
			updated_at = :updated_at,
			started_at = :started_at,
			stopped_at = :stopped_at
		WHERE id = :id`

	row := map[string]any{
		"id":            st.ID,
		"name":          st.Name,
		"descriptor":    st.Descriptor,
		"variables":     string(variablesJSON),
		"status":        string(st.Status),
		"containers":    string(containersJSON),
		"error_message": st.ErrorMessage,
		"updated_at":    st.UpdatedAt.Format(time.RFC3339),
		"started_at":    startedAt,
		"stopped_at":    stoppedAt,
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: stacks.name") {
			return NewStoreError("UpdateStack", "stack", st.ID, "stack with this name already exists", ErrDuplicateName)
		}
		return NewStoreError("UpdateStack", "stack", st.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateStack", "stack", st.ID, "stack not found", ErrNotFound)
	}

	return nil
}

func deleteStack(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM stacks WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteStack", "stack", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteStack", "stack", id, "stack not found", ErrNotFound)
	}

	return nil
}

func listStacks(ctx context.Context, exec executor, opts ListOptions) ([]domain.Stack, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM stacks ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []stackRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListStacks", "stack", "", err.Error(), err)
	}

	stacks := make([]domain.Stack, 0, len(rows))
	for _, row := range rows {
		st, err := rowToStack(&row)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, *st)
	}

	return stacks, nil
}

func listStacksByStatus(ctx context.Context, exec executor, status domain.StackStatus) ([]domain.Stack, error) {
	query := `SELECT * FROM stacks WHERE status = ? ORDER BY created_at DESC`

	var rows []stackRow
	err := exec.SelectContext(ctx, &rows, query, string(status))
	if err != nil {
		return nil, NewStoreError("ListStacksByStatus", "stack", "", err.Error(), err)
	}

	stacks := make([]domain.Stack, 0, len(rows))
	for _, row := range rows {
		st, err := rowToStack(&row)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, *st)
	}

	return stacks, nil
}

func createContainerEvent(ctx context.Context, exec executor, event *domain.ContainerEvent) error {
	query := `
		INSERT INTO container_events (
			id, stack_id, service_name, container_id, event_type,
			message, exit_code, timestamp
		) VALUES (
			:id, :stack_id, :service_name, :container_id, :event_type,
			:message, :exit_code, :timestamp
		)`

	row := map[string]any{
		"id":           event.ID,
		"stack_id":     event.StackID,
		"service_name": event.ServiceName,
		"container_id": event.ContainerID,
		"event_type":   string(event.EventType),
		"message":      event.Message,
		"exit_code":    event.ExitCode,
		"timestamp":    event.Timestamp.Format(time.RFC3339),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateContainerEvent", "container_event", event.ID, "stack not found", ErrForeignKey)
		}
		return NewStoreError("CreateContainerEvent", "container_event", event.ID, err.Error(), err)
	}

	return nil
}

func getContainerEvents(ctx context.Context, exec executor, stackID string, limit int, eventType *string) ([]domain.ContainerEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []containerEventRow
	var err error

	if eventType != nil {
		query := `SELECT * FROM container_events WHERE stack_id = ? AND event_type = ? ORDER BY timestamp DESC LIMIT ?`
		err = exec.SelectContext(ctx, &rows, query, stackID, *eventType, limit)
	} else {
		query := `SELECT * FROM container_events WHERE stack_id = ? ORDER BY timestamp DESC LIMIT ?`
		err = exec.SelectContext(ctx, &rows, query, stackID, limit)
	}
	if err != nil {
		return nil, NewStoreError("GetContainerEvents", "container_event", stackID, err.Error(), err)
	}

	events := make([]domain.ContainerEvent, 0, len(rows))
	for _, row := range rows {
		timestamp, _ := time.Parse(time.RFC3339, row.Timestamp)
		events = append(events, domain.ContainerEvent{
			ID:          row.ID,
			StackID:     row.StackID,
			ServiceName: row.ServiceName,
			ContainerID: row.ContainerID,
			EventType:   domain.EventType(row.EventType),
			Message:     row.Message,
			ExitCode:    row.ExitCode,
			Timestamp:   timestamp,
		})
	}

	return events, nil
}

// =============================================================================
// Row Conversion Functions
// =============================================================================

// rowToStack converts a database row to a domain.Stack.
func rowToStack(row *stackRow) (*domain.Stack, error) {
	createdAt, _ := time.Parse(time.RFC3339, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339, row.UpdatedAt)

	var startedAt, stoppedAt *time.Time
	if row.StartedAt != nil && *row.StartedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.StartedAt)
		startedAt = &t
	}
	if row.StoppedAt != nil && *row.StoppedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.StoppedAt)
		stoppedAt = &t
	}

	var variables map[string]string
	if row.Variables != nil && *row.Variables != "" && *row.Variables != "null" {
		if err := json.Unmarshal([]byte(*row.Variables), &variables); err != nil {
			return nil, NewStoreError("rowToStack", "stack", row.ID, "failed to parse variables", ErrInvalidData)
		}
	}

	var containers []domain.ContainerInfo
	if row.Containers != nil && *row.Containers != "" && *row.Containers != "null" {
		if err := json.Unmarshal([]byte(*row.Containers), &containers); err != nil {
			return nil, NewStoreError("rowToStack", "stack", row.ID, "failed to parse containers", ErrInvalidData)
		}
	}

	return &domain.Stack{
		ID:           row.ID,
		Name:         row.Name,
		Descriptor:   row.Descriptor,
		Variables:    variables,
		Status:       domain.StackStatus(row.Status),
		Containers:   containers,
		ErrorMessage: row.ErrorMessage,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		StartedAt:    startedAt,
		StoppedAt:    stoppedAt,
	}, nil
}
