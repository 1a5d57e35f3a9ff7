package mesh

import (
	"database/sql"
	_ "embed"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// schema.sql holds the tables for persisted scan sessions: one row per
// session, per record, per channel stripe, and per pixel / point.
//
//go:embed schema.sql
var schemaSQL string

// SessionStore persists scan sessions in SQLite
type SessionStore struct {
	*sql.DB
}

// SessionSummary is one row of ListSessions
type SessionSummary struct {
	ID        uuid.UUID `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Mode      ScanMode  `json:"mode"`
	Records   int       `json:"records"`
	Points    int       `json:"points"`
}

// OpenSessionStore opens (or creates) the database at path and applies the schema
func OpenSessionStore(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	// database/sql pools connections; an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying session schema: %w", err)
	}

	log.Println("initialized session store schema")

	return &SessionStore{db}, nil
}

// SaveSession writes a session, replacing any earlier copy with the same ID
func (s *SessionStore) SaveSession(sess *Session) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	id := sess.ID.String()
	if err := deleteSessionRows(tx, id); err != nil {
		return err
	}

	cal := sess.Calibration
	_, err = tx.Exec(`
		INSERT INTO scan_sessions (id, started_at_ns, mode, center_col, baseline_row, frame_width, frame_height, calibrated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, sess.StartedAt.UnixNano(), string(sess.Mode), cal.CenterCol, cal.BaselineRow, cal.FrameWidth, cal.FrameHeight, cal.Established)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	recStmt, err := tx.Prepare(`INSERT INTO scan_records (session_id, frame_index, angle_deg, offset_mm, timestamp_ns) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare records: %w", err)
	}
	defer recStmt.Close()
	stripeStmt, err := tx.Prepare(`INSERT INTO scan_stripes (session_id, frame_index, channel_idx, channel) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare stripes: %w", err)
	}
	defer stripeStmt.Close()
	pixStmt, err := tx.Prepare(`INSERT INTO stripe_pixels (session_id, frame_index, channel_idx, seq, x_pix, y_pix) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare pixels: %w", err)
	}
	defer pixStmt.Close()
	ptStmt, err := tx.Prepare(`INSERT INTO stripe_points (session_id, frame_index, channel_idx, seq, x, y, z) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare points: %w", err)
	}
	defer ptStmt.Close()

	for _, rec := range sess.Records {
		if _, err := recStmt.Exec(id, rec.FrameIndex, nullFloat(rec.Pose.AngleDeg), nullFloat(rec.Pose.LinearOffsetMM), rec.Pose.Timestamp.UnixNano()); err != nil {
			return fmt.Errorf("failed to insert record %d: %w", rec.FrameIndex, err)
		}
		for c, stripe := range rec.Stripes {
			if _, err := stripeStmt.Exec(id, rec.FrameIndex, c, stripe.Channel); err != nil {
				return fmt.Errorf("failed to insert stripe %d/%d: %w", rec.FrameIndex, c, err)
			}
			for k, px := range stripe.Pixels {
				if _, err := pixStmt.Exec(id, rec.FrameIndex, c, k, px.X, px.Y); err != nil {
					return fmt.Errorf("failed to insert pixel: %w", err)
				}
			}
			for k, p := range stripe.Points {
				if _, err := ptStmt.Exec(id, rec.FrameIndex, c, k, p.X, p.Y, p.Z); err != nil {
					return fmt.Errorf("failed to insert point: %w", err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func deleteSessionRows(tx *sql.Tx, id string) error {
	for _, table := range []string{"stripe_points", "stripe_pixels", "scan_stripes", "scan_records"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_id = ?", id); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	if _, err := tx.Exec("DELETE FROM scan_sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("clearing scan_sessions: %w", err)
	}
	return nil
}

// DeleteSession removes a session and all its rows
func (s *SessionStore) DeleteSession(id uuid.UUID) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()
	if err := deleteSessionRows(tx, id.String()); err != nil {
		return err
	}
	return tx.Commit()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

type stripeKey struct {
	frame, channel int
}

// LoadSession reads a session back in frame order
func (s *SessionStore) LoadSession(id uuid.UUID) (*Session, error) {
	sid := id.String()
	sess := &Session{ID: id}

	var startedNs int64
	var mode string
	err := s.QueryRow(`
		SELECT started_at_ns, mode, center_col, baseline_row, frame_width, frame_height, calibrated
		FROM scan_sessions WHERE id = ?
	`, sid).Scan(&startedNs, &mode, &sess.Calibration.CenterCol, &sess.Calibration.BaselineRow,
		&sess.Calibration.FrameWidth, &sess.Calibration.FrameHeight, &sess.Calibration.Established)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s not found", sid)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.StartedAt = time.Unix(0, startedNs)
	sess.Mode = ScanMode(mode)

	rows, err := s.Query(`SELECT frame_index, angle_deg, offset_mm, timestamp_ns FROM scan_records WHERE session_id = ? ORDER BY frame_index`, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	byFrame := make(map[int]int)
	for rows.Next() {
		var rec ScanRecord
		var angle, offset sql.NullFloat64
		var tsNs int64
		if err := rows.Scan(&rec.FrameIndex, &angle, &offset, &tsNs); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		rec.Pose.Timestamp = time.Unix(0, tsNs)
		if angle.Valid {
			rec.Pose.AngleDeg = &angle.Float64
		}
		if offset.Valid {
			rec.Pose.LinearOffsetMM = &offset.Float64
		}
		byFrame[rec.FrameIndex] = len(sess.Records)
		sess.Records = append(sess.Records, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	stripes := make(map[stripeKey][2]int) // record index, stripe index
	rows, err = s.Query(`SELECT frame_index, channel_idx, channel FROM scan_stripes WHERE session_id = ? ORDER BY frame_index, channel_idx`, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to query stripes: %w", err)
	}
	for rows.Next() {
		var frame, c int
		var name string
		if err := rows.Scan(&frame, &c, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stripe: %w", err)
		}
		ri, ok := byFrame[frame]
		if !ok {
			continue
		}
		rec := &sess.Records[ri]
		stripes[stripeKey{frame, c}] = [2]int{ri, len(rec.Stripes)}
		rec.Stripes = append(rec.Stripes, ChannelStripe{Channel: name})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.Query(`SELECT frame_index, channel_idx, x_pix, y_pix FROM stripe_pixels WHERE session_id = ? ORDER BY frame_index, channel_idx, seq`, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to query pixels: %w", err)
	}
	for rows.Next() {
		var k stripeKey
		var px PixelPoint
		if err := rows.Scan(&k.frame, &k.channel, &px.X, &px.Y); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pixel: %w", err)
		}
		if at, ok := stripes[k]; ok {
			st := &sess.Records[at[0]].Stripes[at[1]]
			st.Pixels = append(st.Pixels, px)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.Query(`SELECT frame_index, channel_idx, x, y, z FROM stripe_points WHERE session_id = ? ORDER BY frame_index, channel_idx, seq`, sid)
	if err != nil {
		return nil, fmt.Errorf("failed to query points: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k stripeKey
		var p Point3D
		if err := rows.Scan(&k.frame, &k.channel, &p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("failed to scan point: %w", err)
		}
		if at, ok := stripes[k]; ok {
			st := &sess.Records[at[0]].Stripes[at[1]]
			st.Points = append(st.Points, p)
		}
	}
	return sess, rows.Err()
}

// ListSessions returns every stored session, newest first
func (s *SessionStore) ListSessions() ([]SessionSummary, error) {
	rows, err := s.Query(`
		SELECT s.id, s.started_at_ns, s.mode,
			(SELECT COUNT(*) FROM scan_records r WHERE r.session_id = s.id),
			(SELECT COUNT(*) FROM stripe_points p WHERE p.session_id = s.id)
		FROM scan_sessions s
		ORDER BY s.started_at_ns DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var id, mode string
		var startedNs int64
		if err := rows.Scan(&id, &startedNs, &mode, &sum.Records, &sum.Points); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			log.Printf("Warning: skipping session with bad id %q: %v", id, err)
			continue
		}
		sum.ID = parsed
		sum.StartedAt = time.Unix(0, startedNs)
		sum.Mode = ScanMode(mode)
		out = append(out, sum)
	}
	return out, rows.Err()
}
