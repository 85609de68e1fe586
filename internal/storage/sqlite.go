package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusOpen       = "OPEN"
	StatusDispatched = "DISPATCHED"
	StatusResolved   = "RESOLVED"
)

type Geocode struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// CallRecord is the persisted document for one call.
type CallRecord struct {
	ID               string     `json:"id"`
	StreamID         string     `json:"stream_id,omitempty"`
	DateCreated      time.Time  `json:"date_created"`
	DateDisconnected *time.Time `json:"date_disconnected,omitempty"`
	Name             string     `json:"name"`
	Phone            string     `json:"phone"`
	Live             bool       `json:"live"`
	Status           string     `json:"status"`
	Priority         string     `json:"priority"`
	Transcript       string     `json:"transcript"`
	Emergency        string     `json:"emergency"`
	Location         string     `json:"location,omitempty"`
	Geocode          *Geocode   `json:"geocode,omitempty"`
}

// CallUpdate is a partial update. Nil fields are left untouched.
type CallUpdate struct {
	StreamID         *string
	DateDisconnected *time.Time
	Name             *string
	Live             *bool
	Status           *string
	Priority         *string
	Transcript       *string
	Emergency        *string
	Location         *string
	Geocode          *Geocode
}

func (u CallUpdate) empty() bool {
	return u == CallUpdate{}
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghost-dispatch.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			call_id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL DEFAULT '',
			date_created TEXT NOT NULL,
			date_disconnected TEXT,
			name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			live INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'OPEN',
			priority TEXT NOT NULL DEFAULT 'TBD',
			transcript TEXT NOT NULL DEFAULT '',
			emergency TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			geocode_lat REAL,
			geocode_lng REAL
		);
	`); err != nil {
		return fmt.Errorf("create calls table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_requests (
			call_id TEXT NOT NULL,
			transcript_hash TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(call_id, transcript_hash)
		);
	`); err != nil {
		return fmt.Errorf("create analysis_requests table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_calls_date_created ON calls(date_created)"); err != nil {
		return fmt.Errorf("create calls index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateCall inserts the document for a call. When the call already exists
// only the caller name and phone are refreshed.
func (s *SQLiteStore) CreateCall(rec CallRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("call id is required")
	}
	if rec.Status == "" {
		rec.Status = StatusOpen
	}
	if rec.Priority == "" {
		rec.Priority = "TBD"
	}

	var lat, lng sql.NullFloat64
	if rec.Geocode != nil {
		lat = sql.NullFloat64{Float64: rec.Geocode.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: rec.Geocode.Lng, Valid: true}
	}

	_, err := s.db.Exec(
		`INSERT INTO calls(call_id, stream_id, date_created, date_disconnected, name, phone,
			live, status, priority, transcript, emergency, location, geocode_lat, geocode_lng)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET name = excluded.name, phone = excluded.phone`,
		rec.ID,
		rec.StreamID,
		formatTime(rec.DateCreated),
		nullTime(rec.DateDisconnected),
		rec.Name,
		rec.Phone,
		rec.Live,
		rec.Status,
		rec.Priority,
		rec.Transcript,
		rec.Emergency,
		rec.Location,
		lat,
		lng,
	)
	if err != nil {
		return fmt.Errorf("create call %s: %w", rec.ID, err)
	}
	return nil
}

// EnsureCall inserts a minimal live record when none exists yet. It covers
// media streams whose webhook never reached this process.
func (s *SQLiteStore) EnsureCall(callID string, createdAt time.Time) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO calls(call_id, date_created, live, status, priority) VALUES(?, ?, 1, ?, 'TBD')`,
		callID,
		formatTime(createdAt),
		StatusOpen,
	)
	if err != nil {
		return fmt.Errorf("ensure call %s: %w", callID, err)
	}
	return nil
}

// UpdateCall merges the non-nil fields of u into the call's document.
func (s *SQLiteStore) UpdateCall(callID string, u CallUpdate) error {
	if u.empty() {
		return nil
	}

	var sets []string
	var args []any
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.StreamID != nil {
		set("stream_id", *u.StreamID)
	}
	if u.DateDisconnected != nil {
		set("date_disconnected", formatTime(*u.DateDisconnected))
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Live != nil {
		set("live", *u.Live)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.Priority != nil {
		set("priority", *u.Priority)
	}
	if u.Transcript != nil {
		set("transcript", *u.Transcript)
	}
	if u.Emergency != nil {
		set("emergency", *u.Emergency)
	}
	if u.Location != nil {
		set("location", *u.Location)
	}
	if u.Geocode != nil {
		set("geocode_lat", u.Geocode.Lat)
		set("geocode_lng", u.Geocode.Lng)
	}

	args = append(args, callID)
	res, err := s.db.Exec(`UPDATE calls SET `+strings.Join(sets, ", ")+` WHERE call_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update call %s: %w", callID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update call rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("update call %s: %w", callID, ErrNotFound)
	}
	return nil
}

// Transcript is the point read of a call's transcript field.
func (s *SQLiteStore) Transcript(callID string) (string, error) {
	var transcript string
	err := s.db.QueryRow(`SELECT transcript FROM calls WHERE call_id = ?`, callID).Scan(&transcript)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read transcript %s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript %s: %w", callID, err)
	}
	return transcript, nil
}

const callColumns = `call_id, stream_id, date_created, date_disconnected, name, phone, live, status,
	priority, transcript, emergency, location, geocode_lat, geocode_lng`

func (s *SQLiteStore) GetCall(callID string) (CallRecord, error) {
	row := s.db.QueryRow(`SELECT `+callColumns+` FROM calls WHERE call_id = ?`, callID)
	rec, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, fmt.Errorf("query call %s: %w", callID, ErrNotFound)
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("query call %s: %w", callID, err)
	}
	return rec, nil
}

// GetCallsByDate returns calls created on date (YYYY-MM-DD, UTC), newest first.
func (s *SQLiteStore) GetCallsByDate(date string) ([]CallRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+callColumns+`
		 FROM calls
		 WHERE substr(date_created, 1, 10) = ?
		 ORDER BY date_created DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query calls by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	calls := make([]CallRecord, 0, 16)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		calls = append(calls, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate calls rows: %w", err)
	}
	return calls, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(date_created, 1, 10) AS date FROM calls ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

// ClaimAnalysis records that a transcript is being analysed. It returns false
// when the same call and transcript hash were already claimed.
func (s *SQLiteStore) ClaimAnalysis(callID, transcriptHash string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO analysis_requests(call_id, transcript_hash) VALUES(?, ?)`,
		callID,
		transcriptHash,
	)
	if err != nil {
		return false, fmt.Errorf("claim analysis for call %s: %w", callID, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim analysis rows affected: %w", err)
	}

	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	var created string
	var disconnected sql.NullString
	var lat, lng sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.StreamID, &created, &disconnected, &rec.Name, &rec.Phone, &rec.Live,
		&rec.Status, &rec.Priority, &rec.Transcript, &rec.Emergency, &rec.Location, &lat, &lng); err != nil {
		return CallRecord{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return CallRecord{}, fmt.Errorf("parse date_created: %w", err)
	}
	rec.DateCreated = parsed

	if disconnected.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, disconnected.String)
		if err != nil {
			return CallRecord{}, fmt.Errorf("parse date_disconnected: %w", err)
		}
		rec.DateDisconnected = &parsed
	}
	if lat.Valid && lng.Valid {
		rec.Geocode = &Geocode{Lat: lat.Float64, Lng: lng.Float64}
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
