package store

// User is an account record. The password hash never leaves the store
// except through PasswordHash.
type User struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	CreatedAt int64  `json:"created_at"`
}

// Message is one persisted chat message. Timestamp is unix milliseconds.
type Message struct {
	ID        int64  `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Notification is one persisted notification. Timestamp is unix
// milliseconds.
type Notification struct {
	ID        int64  `json:"id"`
	User      string `json:"user"`
	Content   string `json:"content"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Timestamp int64  `json:"timestamp"`
	Read      bool   `json:"read"`
}

// Video call session statuses.
const (
	CallPending  = "pending"
	CallAccepted = "accepted"
	CallRejected = "rejected"
	CallEnded    = "ended"
)

// VideoSession is one call session record. Times are unix seconds;
// Duration is seconds, computed when the call ends from the recorded start
// time.
type VideoSession struct {
	SessionID string `json:"session_id"`
	Caller    string `json:"caller"`
	Callee    string `json:"callee"`
	Status    string `json:"status"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Duration  int64  `json:"duration"`
	CreatedAt int64  `json:"created_at"`
}
