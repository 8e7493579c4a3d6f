package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	apperrors "github.com/pesio-ai/be-expense-approvals/internal/platform/errors"
)

var inboxBucket = []byte("inbox")

// Notification is one message in a user's inbox.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ExpenseID string    `json:"expenseId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationInbox is a durable per-user notification store on bbolt. Each
// user gets a nested bucket keyed by a monotonically increasing sequence, so
// cursor order is insertion order.
type NotificationInbox struct {
	db         *bolt.DB
	perUserCap int
}

// OpenNotificationInbox opens (creating if needed) the inbox file at path.
// Each user keeps at most perUserCap notifications; older ones are dropped.
func OpenNotificationInbox(path string, perUserCap int) (*NotificationInbox, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperrors.Persistence(err, "failed to create inbox directory")
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to open notification inbox")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(inboxBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, apperrors.Persistence(err, "failed to initialise notification inbox")
	}

	if perUserCap <= 0 {
		perUserCap = 100
	}
	return &NotificationInbox{db: db, perUserCap: perUserCap}, nil
}

// Close releases the underlying file.
func (i *NotificationInbox) Close() error {
	return i.db.Close()
}

// Add stores n in its user's inbox, assigning ID and CreatedAt when blank.
func (i *NotificationInbox) Add(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Persistence(err, "failed to add notification")
	}
	if n.UserID == "" {
		return apperrors.InvalidInput("userId", "must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	err := i.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(inboxBucket).CreateBucketIfNotExists([]byte(n.UserID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		return i.trim(b)
	})
	if err != nil {
		return apperrors.Persistence(err, "failed to add notification")
	}
	return nil
}

// List returns up to limit notifications for userID, newest first.
func (i *NotificationInbox) List(ctx context.Context, userID string, limit int) ([]*Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Persistence(err, "failed to list notifications")
	}
	if limit <= 0 {
		limit = 20
	}

	out := make([]*Notification, 0)
	err := i.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(inboxBucket).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			n := &Notification{}
			if err := json.Unmarshal(v, n); err != nil {
				return err
			}
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list notifications")
	}
	return out, nil
}

// MarkRead flags one notification as read.
func (i *NotificationInbox) MarkRead(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Persistence(err, "failed to mark notification read")
	}

	found := false
	err := i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(inboxBucket).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return forEachNotification(b, func(k []byte, n *Notification) (bool, error) {
			if n.ID != id {
				return false, nil
			}
			found = true
			if n.Read {
				return true, nil
			}
			n.Read = true
			return true, putNotification(b, k, n)
		})
	})
	if err != nil {
		return apperrors.Persistence(err, "failed to mark notification read")
	}
	if !found {
		return apperrors.NotFound("notification", id)
	}
	return nil
}

// MarkAllRead flags every notification of userID as read and returns how
// many changed.
func (i *NotificationInbox) MarkAllRead(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Persistence(err, "failed to mark notifications read")
	}

	changed := 0
	err := i.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(inboxBucket).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		type pending struct {
			key []byte
			n   *Notification
		}
		var updates []pending
		err := forEachNotification(b, func(k []byte, n *Notification) (bool, error) {
			if !n.Read {
				n.Read = true
				updates = append(updates, pending{key: append([]byte(nil), k...), n: n})
			}
			return false, nil
		})
		if err != nil {
			return err
		}
		for _, u := range updates {
			if err := putNotification(b, u.key, u.n); err != nil {
				return err
			}
		}
		changed = len(updates)
		return nil
	})
	if err != nil {
		return 0, apperrors.Persistence(err, "failed to mark notifications read")
	}
	return changed, nil
}

// UnreadCount returns the number of unread notifications of userID.
func (i *NotificationInbox) UnreadCount(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, apperrors.Persistence(err, "failed to count notifications")
	}

	count := 0
	err := i.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(inboxBucket).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		return forEachNotification(b, func(_ []byte, n *Notification) (bool, error) {
			if !n.Read {
				count++
			}
			return false, nil
		})
	})
	if err != nil {
		return 0, apperrors.Persistence(err, "failed to count notifications")
	}
	return count, nil
}

// trim drops the oldest entries beyond the per-user cap.
func (i *NotificationInbox) trim(b *bolt.Bucket) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for excess := len(keys) - i.perUserCap; excess > 0; excess-- {
		if err := b.Delete(keys[len(keys)-i.perUserCap-excess]); err != nil {
			return err
		}
	}
	return nil
}

// forEachNotification walks b in insertion order until fn reports done.
func forEachNotification(b *bolt.Bucket, fn func(k []byte, n *Notification) (bool, error)) error {
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		n := &Notification{}
		if err := json.Unmarshal(v, n); err != nil {
			return err
		}
		done, err := fn(k, n)
		if err != nil || done {
			return err
		}
	}
	return nil
}

func putNotification(b *bolt.Bucket, k []byte, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return b.Put(k, data)
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
