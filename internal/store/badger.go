package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	badgerSeqKey       = "seq:messages"
	badgerLastTSKey    = "meta:last_ts"
	badgerSeqBandwidth = 128
)

// BadgerStore implements ConversationStore on BadgerDB.
//
// Keys are formatted as "msg:{pair}:{unix_nano}:{seq}", both numbers zero
// padded to 19 digits, so a forward prefix scan over one pair yields the
// conversation in (timestamp, seq) order.
type BadgerStore struct {
	db       *badger.DB
	seq      *badger.Sequence
	ordering appendLock
	logger   *slog.Logger
}

// NewBadger opens (or creates) a message log under dir.
func NewBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	seq, err := db.GetSequence([]byte(badgerSeqKey), badgerSeqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open message sequence: %w", err)
	}

	s := &BadgerStore{db: db, seq: seq, logger: logger.With("component", "badger_store")}
	last, err := s.lastTimestamp()
	if err != nil {
		_ = seq.Release()
		_ = db.Close()
		return nil, err
	}
	s.ordering.clock = newMonotonicClock(last)

	return s, nil
}

func (s *BadgerStore) lastTimestamp() (time.Time, error) {
	var last time.Time
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerLastTSKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := strconv.ParseInt(string(val), 10, 64)
			if err != nil {
				return err
			}
			last = time.Unix(0, n).UTC()
			return nil
		})
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("read last message timestamp: %w", err)
	}
	return last, nil
}

func messageKey(pair string, ts time.Time, seq int64) []byte {
	return fmt.Appendf(nil, "msg:%s:%019d:%019d", pair, ts.UnixNano(), seq)
}

func conversationPrefix(pair string) []byte {
	return []byte("msg:" + pair + ":")
}

// Append persists the message and the last assigned timestamp in one transaction.
func (s *BadgerStore) Append(ctx context.Context, msg domain.Message) (domain.Message, error) {
	s.ordering.mu.Lock()
	defer s.ordering.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}

	n, err := s.seq.Next()
	if err != nil {
		return domain.Message{}, fmt.Errorf("next message seq: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Seq = int64(n) + 1
	msg.Timestamp = s.ordering.clock.next()

	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	key := messageKey(domain.PairKey(msg.Sender, msg.Recipient), msg.Timestamp, msg.Seq)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(badgerLastTSKey), []byte(strconv.FormatInt(msg.Timestamp.UnixNano(), 10)))
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}

	s.ordering.clock.commit(msg.Timestamp)
	return msg, nil
}

// Query scans the conversation prefix inside a read-only transaction.
func (s *BadgerStore) Query(ctx context.Context, a, b string) iter.Seq2[domain.Message, error] {
	return func(yield func(domain.Message, error) bool) {
		prefix := conversationPrefix(domain.PairKey(a, b))
		stopped := false

		err := s.db.View(func(txn *badger.Txn) error {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					return err
				}
				item := it.Item()
				var msg domain.Message
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &msg)
				}); err != nil {
					return fmt.Errorf("decode message %s: %w", item.Key(), err)
				}
				if !yield(msg, nil) {
					stopped = true
					return nil
				}
			}
			return nil
		})
		if err != nil && !stopped {
			yield(domain.Message{}, fmt.Errorf("query messages: %w", err))
		}
	}
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release message sequence", "error", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}
