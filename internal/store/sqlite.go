// Package store is the persistence gateway: a narrow interface over the
// shared SQLite database holding users, messages, notifications, and video
// call sessions. Channel handlers call it for durability side effects
// independent of whether a recipient is currently reachable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS users (
	email      TEXT PRIMARY KEY,
	username   TEXT NOT NULL,
	pwdhash    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	sender    TEXT NOT NULL,
	receiver  TEXT NOT NULL,
	content   TEXT NOT NULL,
	type      TEXT NOT NULL DEFAULT 'text',
	timestamp INTEGER NOT NULL,
	read      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender, receiver);
CREATE TABLE IF NOT EXISTS notifications (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	user      TEXT NOT NULL,
	content   TEXT NOT NULL,
	type      TEXT NOT NULL DEFAULT 'system',
	title     TEXT NOT NULL DEFAULT '',
	timestamp INTEGER NOT NULL,
	read      INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user);
CREATE TABLE IF NOT EXISTS video_sessions (
	session_id TEXT PRIMARY KEY,
	caller     TEXT NOT NULL,
	callee     TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'pending',
	start_time INTEGER NOT NULL DEFAULT 0,
	end_time   INTEGER NOT NULL DEFAULT 0,
	duration   INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
`

// DB is the SQLite-backed gateway implementation.
type DB struct {
	db  *sql.DB
	now func() int64
}

// Open opens (and if needed creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral store in tests.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	// SQLite allows a single writer; serializing through one connection
	// avoids SQLITE_BUSY under concurrent handler traffic.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &DB{
		db:  db,
		now: func() int64 { return time.Now().Unix() },
	}, nil
}

// Close releases the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// ---- users ----

// RegisterUser creates an account record.
func (d *DB) RegisterUser(email, username, pwdhash string) error {
	_, err := d.db.Exec(
		"INSERT INTO users (email, username, pwdhash, created_at) VALUES (?, ?, ?, ?)",
		email, username, pwdhash, d.now(),
	)
	if err != nil {
		return fmt.Errorf("register user %s: %w", email, err)
	}
	return nil
}

// FindUser looks an account up by email.
func (d *DB) FindUser(email string) (User, bool, error) {
	var u User
	err := d.db.QueryRow(
		"SELECT email, username, created_at FROM users WHERE email = ?", email,
	).Scan(&u.Email, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, fmt.Errorf("find user %s: %w", email, err)
	}
	return u, true, nil
}

// PasswordHash returns the stored hash for email, or ErrNotFound.
func (d *DB) PasswordHash(email string) (string, error) {
	var hash string
	err := d.db.QueryRow("SELECT pwdhash FROM users WHERE email = ?", email).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("password hash for %s: %w", email, err)
	}
	return hash, nil
}

// ---- messages ----

// SaveMessage persists a chat message and returns its id.
func (d *DB) SaveMessage(sender, receiver, content, msgType string, ts int64) (int64, error) {
	if msgType == "" {
		msgType = "text"
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := d.db.Exec(
		"INSERT INTO messages (sender, receiver, content, type, timestamp) VALUES (?, ?, ?, ?, ?)",
		sender, receiver, content, msgType, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return res.LastInsertId()
}

// Messages returns the conversation between user1 and user2 in timestamp
// order, capped at limit.
func (d *DB) Messages(user1, user2 string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT id, sender, receiver, content, type, timestamp, read FROM messages
		 WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
		 ORDER BY timestamp ASC, id ASC LIMIT ?`,
		user1, user2, user2, user1, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	return scanMessages(rows)
}

// UserHistory returns the most recent messages sent or received by user.
func (d *DB) UserHistory(user string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := d.db.Query(
		`SELECT id, sender, receiver, content, type, timestamp, read FROM messages
		 WHERE sender = ? OR receiver = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		user, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &m.Type, &m.Timestamp, &m.Read); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessagesRead marks everything sender wrote to receiver as read.
func (d *DB) MarkMessagesRead(receiver, sender string) error {
	_, err := d.db.Exec(
		"UPDATE messages SET read = 1 WHERE receiver = ? AND sender = ?",
		receiver, sender,
	)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// UnreadCount returns the number of unread messages addressed to user.
func (d *DB) UnreadCount(user string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM messages WHERE receiver = ? AND read = 0", user,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

// ---- notifications ----

// SaveNotification persists a notification and returns its id.
func (d *DB) SaveNotification(user, content, ntype, title string, ts int64) (int64, error) {
	if ntype == "" {
		ntype = "system"
	}
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := d.db.Exec(
		"INSERT INTO notifications (user, content, type, title, timestamp) VALUES (?, ?, ?, ?, ?)",
		user, content, ntype, title, ts,
	)
	if err != nil {
		return 0, fmt.Errorf("save notification: %w", err)
	}
	return res.LastInsertId()
}

// Notifications returns user's notifications, newest first.
func (d *DB) Notifications(user string, limit, offset int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT id, user, content, type, title, timestamp, read FROM notifications
		 WHERE user = ? ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`,
		user, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.User, &n.Content, &n.Type, &n.Title, &n.Timestamp, &n.Read); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead marks one of user's notifications as read.
func (d *DB) MarkNotificationRead(user string, id int64) error {
	_, err := d.db.Exec(
		"UPDATE notifications SET read = 1 WHERE id = ? AND user = ?",
		id, user,
	)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// UnreadNotificationCount returns the number of unread notifications for
// user.
func (d *DB) UnreadNotificationCount(user string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM notifications WHERE user = ? AND read = 0", user,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("unread notification count: %w", err)
	}
	return count, nil
}

// ---- video sessions ----

// CreateVideoSession records a new pending call session.
func (d *DB) CreateVideoSession(sessionID, caller, callee string) error {
	_, err := d.db.Exec(
		"INSERT INTO video_sessions (session_id, caller, callee, status, created_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, caller, callee, CallPending, d.now(),
	)
	if err != nil {
		return fmt.Errorf("create video session %s: %w", sessionID, err)
	}
	return nil
}

// UpdateVideoSessionStatus transitions a call session and returns the
// updated record. Accepting stamps the start time; ending stamps the end
// time and computes the duration from the recorded start.
func (d *DB) UpdateVideoSessionStatus(sessionID, status string) (VideoSession, error) {
	now := d.now()

	var err error
	switch status {
	case CallAccepted:
		_, err = d.db.Exec(
			"UPDATE video_sessions SET status = ?, start_time = ? WHERE session_id = ?",
			status, now, sessionID,
		)
	case CallEnded:
		var start int64
		scanErr := d.db.QueryRow(
			"SELECT start_time FROM video_sessions WHERE session_id = ?", sessionID,
		).Scan(&start)
		if errors.Is(scanErr, sql.ErrNoRows) {
			return VideoSession{}, ErrNotFound
		}
		if scanErr != nil {
			return VideoSession{}, fmt.Errorf("read start time: %w", scanErr)
		}
		duration := int64(0)
		if start > 0 && now > start {
			duration = now - start
		}
		_, err = d.db.Exec(
			"UPDATE video_sessions SET status = ?, end_time = ?, duration = ? WHERE session_id = ?",
			status, now, duration, sessionID,
		)
	case CallRejected:
		_, err = d.db.Exec(
			"UPDATE video_sessions SET status = ?, end_time = ? WHERE session_id = ?",
			status, now, sessionID,
		)
	default:
		_, err = d.db.Exec(
			"UPDATE video_sessions SET status = ? WHERE session_id = ?",
			status, sessionID,
		)
	}
	if err != nil {
		return VideoSession{}, fmt.Errorf("update video session %s: %w", sessionID, err)
	}

	return d.VideoSession(sessionID)
}

// VideoSession returns one call session record.
func (d *DB) VideoSession(sessionID string) (VideoSession, error) {
	var v VideoSession
	err := d.db.QueryRow(
		`SELECT session_id, caller, callee, status, start_time, end_time, duration, created_at
		 FROM video_sessions WHERE session_id = ?`, sessionID,
	).Scan(&v.SessionID, &v.Caller, &v.Callee, &v.Status, &v.StartTime, &v.EndTime, &v.Duration, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return VideoSession{}, ErrNotFound
	}
	if err != nil {
		return VideoSession{}, fmt.Errorf("get video session %s: %w", sessionID, err)
	}
	return v, nil
}

// CallHistory returns user's call sessions, newest first.
func (d *DB) CallHistory(user string, limit int) ([]VideoSession, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(
		`SELECT session_id, caller, callee, status, start_time, end_time, duration, created_at
		 FROM video_sessions WHERE caller = ? OR callee = ?
		 ORDER BY created_at DESC, session_id DESC LIMIT ?`,
		user, user, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []VideoSession
	for rows.Next() {
		var v VideoSession
		if err := rows.Scan(&v.SessionID, &v.Caller, &v.Callee, &v.Status, &v.StartTime, &v.EndTime, &v.Duration, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan video session: %w", err)
		}
		sessions = append(sessions, v)
	}
	return sessions, rows.Err()
}
