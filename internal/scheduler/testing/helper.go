// internal/scheduler/testing/helper.go
package testing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/notifier/internal/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqliteSchema mirrors the Postgres migrations with SQLite column types.
var sqliteSchema = []string{
	`CREATE TABLE organizations (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		owner_name TEXT NOT NULL DEFAULT '',
		owner_email TEXT NOT NULL DEFAULT '',
		sender_name TEXT,
		reply_to_email TEXT,
		nudge_step INTEGER NOT NULL DEFAULT 0,
		nudge_last_sent_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE customers (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		created_at DATETIME
	)`,
	`CREATE TABLE invoices (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		customer_id INTEGER NOT NULL,
		invoice_number TEXT NOT NULL,
		status TEXT NOT NULL,
		due_date DATE NOT NULL,
		amount_due INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'USD',
		reminder_step INTEGER NOT NULL DEFAULT 0,
		reminder_last_sent_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE notification_policies (
		org_id INTEGER NOT NULL,
		campaign TEXT NOT NULL,
		enabled BOOLEAN NOT NULL DEFAULT 1,
		timezone TEXT,
		updated_at DATETIME,
		PRIMARY KEY (org_id, campaign)
	)`,
	`CREATE TABLE notification_logs (
		id INTEGER PRIMARY KEY,
		org_id INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER,
		campaign TEXT NOT NULL,
		status TEXT NOT NULL,
		attempt INTEGER NOT NULL DEFAULT 0,
		message TEXT,
		error TEXT,
		metadata TEXT,
		run_id TEXT,
		created_at DATETIME NOT NULL
	)`,
}

// OpenDB opens a private in-memory SQLite database with the notifier schema.
func OpenDB(name string) (*gorm.DB, error) {
	name = strings.NewReplacer("/", "_", " ", "_").Replace(name)
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	for _, stmt := range sqliteSchema {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, err
		}
	}
	return db, nil
}

// Fixtures seeds and inspects notifier tables.
type Fixtures struct {
	db    *gorm.DB
	genID *snowflake.Node
}

func NewFixtures(db *gorm.DB, genID *snowflake.Node) *Fixtures {
	return &Fixtures{db: db, genID: genID}
}

type Org struct {
	ID         snowflake.ID
	Name       string
	Timezone   string
	OwnerName  string
	OwnerEmail string
	CreatedAt  time.Time
	NudgeStep  int
	LastSentAt *time.Time
}

func (f *Fixtures) InsertOrg(ctx context.Context, org Org) (snowflake.ID, error) {
	if org.ID == 0 {
		org.ID = f.genID.Generate()
	}
	if org.Timezone == "" {
		org.Timezone = "UTC"
	}
	var lastSent *time.Time
	if org.LastSentAt != nil {
		t := org.LastSentAt.UTC()
		lastSent = &t
	}
	err := f.db.WithContext(ctx).Exec(
		`INSERT INTO organizations (id, name, timezone, owner_name, owner_email, nudge_step, nudge_last_sent_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		org.ID,
		org.Name,
		org.Timezone,
		org.OwnerName,
		org.OwnerEmail,
		org.NudgeStep,
		lastSent,
		org.CreatedAt.UTC(),
	).Error
	return org.ID, err
}

func (f *Fixtures) InsertCustomer(ctx context.Context, orgID snowflake.ID, name, email string) (snowflake.ID, error) {
	id := f.genID.Generate()
	err := f.db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, org_id, name, email, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, orgID, name, email, time.Now().UTC(),
	).Error
	return id, err
}

type Invoice struct {
	OrgID      snowflake.ID
	CustomerID snowflake.ID
	Number     string
	Status     string
	DueDate    clock.Date
	AmountDue  int64
	Step       int
}

func (f *Fixtures) InsertInvoice(ctx context.Context, inv Invoice) (snowflake.ID, error) {
	id := f.genID.Generate()
	if inv.Status == "" {
		inv.Status = "sent"
	}
	if inv.Number == "" {
		inv.Number = "INV-" + id.String()
	}
	err := f.db.WithContext(ctx).Exec(
		`INSERT INTO invoices (id, org_id, customer_id, invoice_number, status, due_date, amount_due, currency, reminder_step, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		inv.OrgID,
		inv.CustomerID,
		inv.Number,
		inv.Status,
		inv.DueDate.Time(),
		inv.AmountDue,
		"USD",
		inv.Step,
		time.Now().UTC(),
		time.Now().UTC(),
	).Error
	return id, err
}

func (f *Fixtures) SetPolicy(ctx context.Context, orgID snowflake.ID, campaign string, enabled bool, timezone string) error {
	var tz *string
	if timezone != "" {
		tz = &timezone
	}
	return f.db.WithContext(ctx).Exec(
		`INSERT INTO notification_policies (org_id, campaign, enabled, timezone, updated_at) VALUES (?, ?, ?, ?, ?)`,
		orgID, campaign, enabled, tz, time.Now().UTC(),
	).Error
}

// InvoiceStep returns the stored reminder step of an invoice.
func (f *Fixtures) InvoiceStep(ctx context.Context, id snowflake.ID) (int, error) {
	var step int
	err := f.db.WithContext(ctx).Raw(`SELECT reminder_step FROM invoices WHERE id = ?`, id).Scan(&step).Error
	return step, err
}

func (f *Fixtures) AccountStep(ctx context.Context, orgID snowflake.ID) (int, *time.Time, error) {
	var row struct {
		NudgeStep       int
		NudgeLastSentAt *time.Time
	}
	err := f.db.WithContext(ctx).Raw(
		`SELECT nudge_step, nudge_last_sent_at FROM organizations WHERE id = ?`, orgID,
	).Scan(&row).Error
	return row.NudgeStep, row.NudgeLastSentAt, err
}

func (f *Fixtures) MarkInvoicePaid(ctx context.Context, id snowflake.ID) error {
	return f.db.WithContext(ctx).Exec(`UPDATE invoices SET status = 'paid' WHERE id = ?`, id).Error
}

func (f *Fixtures) SetCustomerEmail(ctx context.Context, id snowflake.ID, email string) error {
	return f.db.WithContext(ctx).Exec(`UPDATE customers SET email = ? WHERE id = ?`, email, id).Error
}

// LogRow is a notification_logs row reduced to what tests assert on.
type LogRow struct {
	EntityID *int64
	Campaign string
	Status   string
	Attempt  int
	Message  string
	Error    string
}

// Logs returns the notification log of an org in insertion order.
func (f *Fixtures) Logs(ctx context.Context, orgID snowflake.ID) ([]LogRow, error) {
	var rows []LogRow
	err := f.db.WithContext(ctx).Raw(
		`SELECT entity_id, campaign, status, attempt, COALESCE(message, '') AS message, COALESCE(error, '') AS error
		 FROM notification_logs
		 WHERE org_id = ?
		 ORDER BY id ASC`,
		orgID,
	).Scan(&rows).Error
	return rows, err
}

// Statuses flattens log rows of one entity into their status sequence.
func Statuses(rows []LogRow, entityID snowflake.ID) []string {
	out := []string{}
	for _, row := range rows {
		if row.EntityID != nil && *row.EntityID == int64(entityID) {
			out = append(out, row.Status)
		}
	}
	return out
}
