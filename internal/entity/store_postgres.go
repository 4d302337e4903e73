package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	id "clinicore/pkg/domain"
	"clinicore/pkg/platform/sentinel"
)

// Schema creates the base tables. Owner and reference columns are nullable on
// purpose: the store must be able to hold the corrupted states the integrity
// components exist to find.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'standard',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS specialties (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	name             TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS staff_members (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	name             TEXT NOT NULL,
	specialty_id     UUID,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS patients (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	name             TEXT NOT NULL,
	phone            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS appointments (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	patient_id       UUID,
	staff_id         UUID,
	specialty_id     UUID,
	starts_at        TIMESTAMPTZ NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS sessions (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	appointment_id   UUID,
	notes            TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS payments (
	id               UUID PRIMARY KEY,
	owner_account_id UUID,
	patient_id       UUID,
	amount_minor     BIGINT NOT NULL,
	currency         TEXT NOT NULL DEFAULT 'USD',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

var kindTables = map[Kind]string{
	KindSpecialty:   "specialties",
	KindStaffMember: "staff_members",
	KindPatient:     "patients",
	KindAppointment: "appointments",
	KindSession:     "sessions",
	KindPayment:     "payments",
}

// TableName maps an entity kind to its backing table. The schema migrator
// uses it to target ALTER statements.
func TableName(kind Kind) (string, bool) {
	table, ok := kindTables[kind]
	return table, ok
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the integrity
// surface can run against the pool directly or inside a pass transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres implements Store on pgx.
type Postgres struct {
	pool *pgxpool.Pool
	pgOps
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, pgOps: pgOps{q: pool}}
}

// EnsureSchema creates the base tables if missing. Additive columns beyond
// this baseline are owned by the schema migrator.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure entity schema: %w", err)
	}
	return nil
}

// RunInPass executes fn inside one transaction: the pass's reads and its
// remediating writes commit or roll back together.
func (s *Postgres) RunInPass(ctx context.Context, fn func(ctx context.Context, ops RecordOps) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pass: %w", sentinel.ErrUnavailable)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, pgOps{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pass: %w", sentinel.ErrUnavailable)
	}
	return nil
}

func (s *Postgres) PutAccount(ctx context.Context, account Account) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (id, name, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = $2, email = $3, role = $4
	`, uuid.UUID(account.ID), account.Name, account.Email, string(account.Role), account.CreatedAt)
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	return nil
}

func (s *Postgres) GetAccount(ctx context.Context, accountID id.AccountID) (*Account, error) {
	var account Account
	var role string
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, email, role, created_at FROM accounts WHERE id = $1
	`, uuid.UUID(accountID)).Scan(&account.ID, &account.Name, &account.Email, &role, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	account.Role = AccountRole(role)
	return &account, nil
}

func (s *Postgres) DeleteAccount(ctx context.Context, accountID id.AccountID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, uuid.UUID(accountID))
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *Postgres) PutSpecialty(ctx context.Context, sp Specialty) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO specialties (id, owner_account_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(sp.ID), ownerArg(sp.OwnerAccountID), sp.Name, sp.CreatedAt)
	return wrapPut("specialty", err)
}

func (s *Postgres) PutStaffMember(ctx context.Context, m StaffMember) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO staff_members (id, owner_account_id, name, specialty_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(m.ID), ownerArg(m.OwnerAccountID), m.Name, refArg(m.SpecialtyID), m.CreatedAt)
	return wrapPut("staff member", err)
}

func (s *Postgres) PutPatient(ctx context.Context, p Patient) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, owner_account_id, name, phone, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(p.ID), ownerArg(p.OwnerAccountID), p.Name, p.Phone, p.CreatedAt)
	return wrapPut("patient", err)
}

func (s *Postgres) PutAppointment(ctx context.Context, a Appointment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO appointments (id, owner_account_id, patient_id, staff_id, specialty_id, starts_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(a.ID), ownerArg(a.OwnerAccountID), uuidArg(uuid.UUID(a.PatientID)),
		refArg(a.StaffID), refArg(a.SpecialtyID), a.StartsAt, a.CreatedAt)
	return wrapPut("appointment", err)
}

func (s *Postgres) PutSession(ctx context.Context, sn Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, owner_account_id, appointment_id, notes, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.UUID(sn.ID), ownerArg(sn.OwnerAccountID), uuidArg(uuid.UUID(sn.AppointmentID)), sn.Notes, sn.CreatedAt)
	return wrapPut("session", err)
}

func (s *Postgres) PutPayment(ctx context.Context, p Payment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO payments (id, owner_account_id, patient_id, amount_minor, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.UUID(p.ID), ownerArg(p.OwnerAccountID), uuidArg(uuid.UUID(p.PatientID)), p.AmountMinor, p.Currency, p.CreatedAt)
	return wrapPut("payment", err)
}

func wrapPut(what string, err error) error {
	if err != nil {
		return fmt.Errorf("put %s: %w", what, err)
	}
	return nil
}

// ownerArg maps a zero AccountID to NULL so corrupted fixtures round-trip.
func ownerArg(accountID id.AccountID) *uuid.UUID {
	return uuidArg(uuid.UUID(accountID))
}

func uuidArg(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

func refArg[T ~[16]byte](ref *T) *uuid.UUID {
	if ref == nil {
		return nil
	}
	u := uuid.UUID(*ref)
	return &u
}

// -----------------------------------------------------------------------------
// Kind-agnostic integrity surface (shared between pool and pass transaction)
// -----------------------------------------------------------------------------

type pgOps struct {
	q querier
}

func (o pgOps) AccountExists(ctx context.Context, accountID id.AccountID) (bool, error) {
	var exists bool
	err := o.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, uuid.UUID(accountID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

func (o pgOps) ListRecords(ctx context.Context, kind Kind) ([]Record, error) {
	query, ok := listQueries[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}

	rows, err := o.q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", kind, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s records: %w", kind, err)
	}
	return records, nil
}

// Every list query orders by the primary key; UUID columns compare bytewise
// in Postgres, matching domain.CompareUUID.
var listQueries = map[Kind]string{
	KindSpecialty:   `SELECT id, owner_account_id FROM specialties ORDER BY id`,
	KindStaffMember: `SELECT id, owner_account_id, specialty_id FROM staff_members ORDER BY id`,
	KindPatient:     `SELECT id, owner_account_id FROM patients ORDER BY id`,
	KindAppointment: `SELECT id, owner_account_id, patient_id, staff_id, specialty_id FROM appointments ORDER BY id`,
	KindSession:     `SELECT id, owner_account_id, appointment_id FROM sessions ORDER BY id`,
	KindPayment:     `SELECT id, owner_account_id, patient_id FROM payments ORDER BY id`,
}

func scanRecord(kind Kind, row pgx.Row) (Record, error) {
	var (
		recordID uuid.UUID
		owner    *uuid.UUID
		refA     *uuid.UUID
		refB     *uuid.UUID
		refC     *uuid.UUID
		err      error
	)

	switch kind {
	case KindSpecialty, KindPatient:
		err = row.Scan(&recordID, &owner)
	case KindStaffMember, KindSession, KindPayment:
		err = row.Scan(&recordID, &owner, &refA)
	case KindAppointment:
		err = row.Scan(&recordID, &owner, &refA, &refB, &refC)
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan %s record: %w", kind, err)
	}

	rec := Record{ID: recordID, Kind: kind}
	if owner != nil {
		rec.OwnerID = id.AccountID(*owner)
	}

	switch kind {
	case KindStaffMember:
		rec.Refs = []Reference{{Field: FieldSpecialtyID, Kind: KindSpecialty, ID: deref(refA), Nullable: true}}
	case KindSession:
		rec.Refs = []Reference{{Field: FieldAppointmentID, Kind: KindAppointment, ID: deref(refA)}}
	case KindPayment:
		rec.Refs = []Reference{{Field: FieldPatientID, Kind: KindPatient, ID: deref(refA)}}
	case KindAppointment:
		rec.Refs = []Reference{
			{Field: FieldPatientID, Kind: KindPatient, ID: deref(refA)},
			{Field: FieldStaffID, Kind: KindStaffMember, ID: deref(refB), Nullable: true},
			{Field: FieldSpecialtyID, Kind: KindSpecialty, ID: deref(refC), Nullable: true},
		}
	}
	return rec, nil
}

func deref(u *uuid.UUID) uuid.UUID {
	if u == nil {
		return uuid.Nil
	}
	return *u
}

func (o pgOps) RecordExists(ctx context.Context, kind Kind, recordID uuid.UUID) (bool, error) {
	table, ok := kindTables[kind]
	if !ok {
		return false, fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	var exists bool
	err := o.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM `+table+` WHERE id = $1)`, recordID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%s exists: %w", kind, err)
	}
	return exists, nil
}

func (o pgOps) DeleteRecord(ctx context.Context, kind Kind, recordID uuid.UUID) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	tag, err := o.q.Exec(ctx, `DELETE FROM `+table+` WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (o pgOps) ReassignOwner(ctx context.Context, kind Kind, recordID uuid.UUID, accountID id.AccountID) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	tag, err := o.q.Exec(ctx, `UPDATE `+table+` SET owner_account_id = $2 WHERE id = $1`, recordID, uuid.UUID(accountID))
	if err != nil {
		return fmt.Errorf("reassign %s owner: %w", kind, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// nullableColumns allowlists the references that may be cleared in place.
var nullableColumns = map[Kind]map[string]bool{
	KindStaffMember: {FieldSpecialtyID: true},
	KindAppointment: {FieldStaffID: true, FieldSpecialtyID: true},
}

func (o pgOps) NullifyReference(ctx context.Context, kind Kind, recordID uuid.UUID, field string) error {
	table, ok := kindTables[kind]
	if !ok {
		return fmt.Errorf("unknown entity kind %q: %w", kind, sentinel.ErrNotFound)
	}
	if !nullableColumns[kind][field] {
		return fmt.Errorf("reference %s.%s is not nullable: %w", kind, field, sentinel.ErrInvalidState)
	}
	tag, err := o.q.Exec(ctx, `UPDATE `+table+` SET `+field+` = NULL WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("nullify %s.%s: %w", kind, field, err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
