package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUserRoundTrip(t *testing.T) {
	db := openTestDB(t)

	_, found, err := db.FindUser("a@x.com")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, db.RegisterUser("a@x.com", "alice", "hash"))

	u, found, err := db.FindUser("a@x.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", u.Username)

	hash, err := db.PasswordHash("a@x.com")
	require.NoError(t, err)
	require.Equal(t, "hash", hash)

	_, err = db.PasswordHash("missing@x.com")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessagesConversation(t *testing.T) {
	db := openTestDB(t)

	id1, err := db.SaveMessage("a@x.com", "b@x.com", "hi", "text", 1000)
	require.NoError(t, err)
	require.NotZero(t, id1)
	_, err = db.SaveMessage("b@x.com", "a@x.com", "hello", "text", 2000)
	require.NoError(t, err)
	_, err = db.SaveMessage("a@x.com", "c@x.com", "other thread", "text", 1500)
	require.NoError(t, err)

	msgs, err := db.Messages("a@x.com", "b@x.com", 100)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, "hello", msgs[1].Content)

	history, err := db.UserHistory("a@x.com", 100)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, int64(2000), history[0].Timestamp, "history is newest first")
}

func TestUnreadAndMarkRead(t *testing.T) {
	db := openTestDB(t)

	_, err := db.SaveMessage("b@x.com", "a@x.com", "one", "text", 1000)
	require.NoError(t, err)
	_, err = db.SaveMessage("b@x.com", "a@x.com", "two", "text", 2000)
	require.NoError(t, err)
	_, err = db.SaveMessage("c@x.com", "a@x.com", "three", "text", 3000)
	require.NoError(t, err)

	count, err := db.UnreadCount("a@x.com")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	require.NoError(t, db.MarkMessagesRead("a@x.com", "b@x.com"))

	count, err = db.UnreadCount("a@x.com")
	require.NoError(t, err)
	require.Equal(t, 1, count, "only b's messages were marked read")
}

func TestNotifications(t *testing.T) {
	db := openTestDB(t)

	id, err := db.SaveNotification("a@x.com", "friend request", "friend", "New request", 1000)
	require.NoError(t, err)
	_, err = db.SaveNotification("a@x.com", "second", "system", "", 2000)
	require.NoError(t, err)

	list, err := db.Notifications("a@x.com", 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "second", list[0].Content, "newest first")

	count, err := db.UnreadNotificationCount("a@x.com")
	require.NoError(t, err)
	require.Equal(t, 2, count)

	require.NoError(t, db.MarkNotificationRead("a@x.com", id))
	count, err = db.UnreadNotificationCount("a@x.com")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestVideoSessionLifecycle(t *testing.T) {
	db := openTestDB(t)

	clock := int64(1000)
	db.now = func() int64 { return clock }

	require.NoError(t, db.CreateVideoSession("s1", "a@x.com", "b@x.com"))

	v, err := db.VideoSession("s1")
	require.NoError(t, err)
	require.Equal(t, CallPending, v.Status)

	clock = 1010
	v, err = db.UpdateVideoSessionStatus("s1", CallAccepted)
	require.NoError(t, err)
	require.Equal(t, CallAccepted, v.Status)
	require.Equal(t, int64(1010), v.StartTime)

	clock = 1100
	v, err = db.UpdateVideoSessionStatus("s1", CallEnded)
	require.NoError(t, err)
	require.Equal(t, CallEnded, v.Status)
	require.Equal(t, int64(90), v.Duration, "duration computed from stored start time")
	require.Equal(t, int64(1100), v.EndTime)
}

func TestVideoSessionRejectedHasNoDuration(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.CreateVideoSession("s2", "a@x.com", "b@x.com"))
	v, err := db.UpdateVideoSessionStatus("s2", CallRejected)
	require.NoError(t, err)
	require.Equal(t, CallRejected, v.Status)
	require.Zero(t, v.Duration)
	require.NotZero(t, v.EndTime)
}

func TestVideoSessionNotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.VideoSession("missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = db.UpdateVideoSessionStatus("missing", CallEnded)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCallHistory(t *testing.T) {
	db := openTestDB(t)

	clock := int64(100)
	db.now = func() int64 { clock++; return clock }

	require.NoError(t, db.CreateVideoSession("s1", "a@x.com", "b@x.com"))
	require.NoError(t, db.CreateVideoSession("s2", "c@x.com", "a@x.com"))
	require.NoError(t, db.CreateVideoSession("s3", "c@x.com", "d@x.com"))

	history, err := db.CallHistory("a@x.com", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "s2", history[0].SessionID, "newest first")
}
