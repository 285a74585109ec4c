package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/stretchr/testify/require"
)

// runConversationStoreTests exercises the ConversationStore contract against
// any backend.
func runConversationStoreTests(t *testing.T, open func(t *testing.T) ConversationStore) {
	t.Run("interleaved pair is ordered and isolated", func(t *testing.T) {
		req := require.New(t)
		s := open(t)
		ctx := context.Background()

		const n = 20
		for i := 0; i < n; i++ {
			sender, recipient := "alice", "bob"
			if i%2 == 1 {
				sender, recipient = recipient, sender
			}
			_, err := s.Append(ctx, domain.Message{Sender: sender, Recipient: recipient, Content: fmt.Sprintf("m%d", i)})
			req.NoError(err)
			_, err = s.Append(ctx, domain.Message{Sender: "alice", Recipient: "carol", Content: "other"})
			req.NoError(err)
		}

		msgs, err := Collect(s.Query(ctx, "alice", "bob"))
		req.NoError(err)
		req.Len(msgs, n)
		for i, m := range msgs {
			req.Equal(fmt.Sprintf("m%d", i), m.Content)
			req.True((m.Sender == "alice" && m.Recipient == "bob") || (m.Sender == "bob" && m.Recipient == "alice"))
			req.NotEmpty(m.ID)
			if i > 0 {
				req.False(m.Timestamp.Before(msgs[i-1].Timestamp))
				req.Greater(m.Seq, msgs[i-1].Seq)
			}
		}

		reversed, err := Collect(s.Query(ctx, "bob", "alice"))
		req.NoError(err)
		req.Equal(msgs, reversed)
	})

	t.Run("query is restartable and stops early", func(t *testing.T) {
		req := require.New(t)
		s := open(t)
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			_, err := s.Append(ctx, domain.Message{Sender: "a", Recipient: "b", Content: fmt.Sprintf("m%d", i)})
			req.NoError(err)
		}

		seq := s.Query(ctx, "a", "b")
		first, err := Collect(seq)
		req.NoError(err)
		second, err := Collect(seq)
		req.NoError(err)
		req.Equal(first, second)

		seen := 0
		for _, err := range seq {
			req.NoError(err)
			seen++
			if seen == 2 {
				break
			}
		}
		req.Equal(2, seen)
	})

	t.Run("empty conversation", func(t *testing.T) {
		msgs, err := Collect(open(t).Query(context.Background(), "x", "y"))
		require.NoError(t, err)
		require.Empty(t, msgs)
	})

	t.Run("self conversation", func(t *testing.T) {
		req := require.New(t)
		s := open(t)
		ctx := context.Background()

		_, err := s.Append(ctx, domain.Message{Sender: "me", Recipient: "me", Content: "note"})
		req.NoError(err)

		msgs, err := Collect(s.Query(ctx, "me", "me"))
		req.NoError(err)
		req.Len(msgs, 1)
	})

	t.Run("ids containing separators do not share conversations", func(t *testing.T) {
		req := require.New(t)
		s := open(t)
		ctx := context.Background()

		pairs := [][2]string{
			{"a", "b:c"},
			{"a:b", "c"},
			{"x", "y"},
			{"x", "y:0000000000000000001"},
		}
		for _, p := range pairs {
			_, err := s.Append(ctx, domain.Message{Sender: p[0], Recipient: p[1], Content: p[0] + "->" + p[1]})
			req.NoError(err)
		}

		for _, p := range pairs {
			msgs, err := Collect(s.Query(ctx, p[0], p[1]))
			req.NoError(err)
			req.Len(msgs, 1, "pair %q", p)
			req.Equal(p[0]+"->"+p[1], msgs[0].Content)
		}
	})

	t.Run("concurrent appends get distinct ordering keys", func(t *testing.T) {
		req := require.New(t)
		s := open(t)
		ctx := context.Background()

		const workers = 8
		const perWorker = 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					if _, err := s.Append(ctx, domain.Message{Sender: "a", Recipient: "b", Content: fmt.Sprintf("%d-%d", w, i)}); err != nil {
						errs <- err
					}
				}
			}(w)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			req.NoError(err)
		}

		msgs, err := Collect(s.Query(ctx, "a", "b"))
		req.NoError(err)
		req.Len(msgs, workers*perWorker)

		seqs := make(map[int64]bool, len(msgs))
		for i, m := range msgs {
			req.False(seqs[m.Seq], "duplicate seq %d", m.Seq)
			seqs[m.Seq] = true
			if i > 0 {
				req.False(m.Timestamp.Before(msgs[i-1].Timestamp))
				req.Greater(m.Seq, msgs[i-1].Seq)
			}
		}
	})
}
