package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/ephemera/pkg/models"
)

func testRecord(tag string) models.SealedRecord {
	return models.SealedRecord{Nonce: "000102030405060708090a0b", Ciphertext: fmt.Sprintf("%x", tag)}
}

// runBackendSuite exercises Store over any Backend. Every backend test file
// calls it with its own constructor.
func runBackendSuite(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("single view", func(t *testing.T) {
		s := NewStore(newBackend(t))
		ctx := context.Background()

		id, err := s.Put(ctx, testRecord("hello"), 1)
		require.NoError(t, err)
		require.NotEmpty(t, id)

		rec, err := s.Take(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, testRecord("hello"), rec)

		_, err = s.Take(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("counted views", func(t *testing.T) {
		s := NewStore(newBackend(t))
		ctx := context.Background()

		id, err := s.Put(ctx, testRecord("secret"), 3)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			rec, err := s.Take(ctx, id)
			require.NoError(t, err, "take %d", i+1)
			assert.Equal(t, testRecord("secret"), rec)
		}
		_, err = s.Take(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n, "exhausted message must be deleted")
	})

	t.Run("unknown id", func(t *testing.T) {
		s := NewStore(newBackend(t))
		_, err := s.Take(context.Background(), "8c7e6b1a-0000-4000-8000-000000000000")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent takes", func(t *testing.T) {
		for _, quota := range []int{1, 3, 10} {
			t.Run(fmt.Sprintf("quota %d", quota), func(t *testing.T) {
				s := NewStore(newBackend(t))
				ctx := context.Background()
				id, err := s.Put(ctx, testRecord("race"), quota)
				require.NoError(t, err)

				const takers = 32
				var (
					wg        sync.WaitGroup
					successes atomic.Int64
					misses    atomic.Int64
					start     = make(chan struct{})
				)
				for i := 0; i < takers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						<-start
						rec, err := s.Take(ctx, id)
						switch {
						case err == nil:
							if rec == testRecord("race") {
								successes.Add(1)
							}
						case errors.Is(err, ErrNotFound):
							misses.Add(1)
						default:
							t.Errorf("unexpected error: %v", err)
						}
					}()
				}
				close(start)
				wg.Wait()

				assert.EqualValues(t, quota, successes.Load())
				assert.EqualValues(t, takers-quota, misses.Load())

				_, err = s.Take(ctx, id)
				assert.ErrorIs(t, err, ErrNotFound)
			})
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		s := NewStore(newBackend(t))
		ctx := context.Background()
		id, err := s.Put(ctx, testRecord("bye"), 2)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))

		_, err = s.Take(ctx, id)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate id is retried", func(t *testing.T) {
		ids := []string{"dup", "dup", "fresh"}
		var i int
		s := NewStore(newBackend(t), WithIDGenerator(func() string {
			id := ids[i]
			i++
			return id
		}))
		ctx := context.Background()

		first, err := s.Put(ctx, testRecord("a"), 1)
		require.NoError(t, err)
		assert.Equal(t, "dup", first)

		second, err := s.Put(ctx, testRecord("b"), 1)
		require.NoError(t, err)
		assert.Equal(t, "fresh", second)

		rec, err := s.Take(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, testRecord("a"), rec, "first row must not be overwritten")
	})
}

func TestStoreMemoryBackend(t *testing.T) {
	runBackendSuite(t, func(t *testing.T) Backend { return NewMemoryBackend() })
}

func TestStorePutRejectsBadQuota(t *testing.T) {
	s := NewStore(NewMemoryBackend(), WithMaxViews(5))
	for _, q := range []int{-1, 0, 6} {
		_, err := s.Put(context.Background(), testRecord("x"), q)
		assert.ErrorIs(t, err, ErrInvalidQuota, "quota %d", q)
	}
	_, err := s.Put(context.Background(), testRecord("x"), 5)
	assert.NoError(t, err)
}

func TestStorePutRejectsEmptyRecord(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	_, err := s.Put(context.Background(), models.SealedRecord{}, 1)
	assert.ErrorIs(t, err, ErrEmptyRecord)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreMaxViews(t *testing.T) {
	assert.Equal(t, DefaultMaxViews, NewStore(NewMemoryBackend()).MaxViews())
	assert.Equal(t, 7, NewStore(NewMemoryBackend(), WithMaxViews(7)).MaxViews())
	assert.Equal(t, DefaultMaxViews, NewStore(NewMemoryBackend(), WithMaxViews(0)).MaxViews())
}

func TestStorePutGivesUpOnPersistentCollision(t *testing.T) {
	s := NewStore(NewMemoryBackend(), WithIDGenerator(func() string { return "same" }))
	ctx := context.Background()
	_, err := s.Put(ctx, testRecord("x"), 1)
	require.NoError(t, err)
	_, err = s.Put(ctx, testRecord("y"), 1)
	assert.ErrorIs(t, err, ErrStorage)
}

// flakyBackend fails selected operations and can inject a competing take.
type flakyBackend struct {
	*MemoryBackend
	insertErr error
	getErr    error
	casErr    error
	deleteErr error

	beforeCAS func()
}

func (f *flakyBackend) Insert(ctx context.Context, msg *models.Message) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MemoryBackend.Insert(ctx, msg)
}

func (f *flakyBackend) Get(ctx context.Context, id string) (*models.Message, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.MemoryBackend.Get(ctx, id)
}

func (f *flakyBackend) CompareAndDecrement(ctx context.Context, id string, expected int) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	if hook := f.beforeCAS; hook != nil {
		f.beforeCAS = nil
		hook()
	}
	return f.MemoryBackend.CompareAndDecrement(ctx, id, expected)
}

func (f *flakyBackend) CompareAndDelete(ctx context.Context, id string, expected int) (bool, error) {
	if f.casErr != nil {
		return false, f.casErr
	}
	if hook := f.beforeCAS; hook != nil {
		f.beforeCAS = nil
		hook()
	}
	return f.MemoryBackend.CompareAndDelete(ctx, id, expected)
}

func (f *flakyBackend) Delete(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.MemoryBackend.Delete(ctx, id)
}

func TestStoreWrapsBackendErrors(t *testing.T) {
	boom := errors.New("connection reset")
	ctx := context.Background()

	fb := &flakyBackend{MemoryBackend: NewMemoryBackend(), insertErr: boom}
	_, err := NewStore(fb).Put(ctx, testRecord("x"), 1)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, boom)

	fb = &flakyBackend{MemoryBackend: NewMemoryBackend()}
	s := NewStore(fb)
	id, err := s.Put(ctx, testRecord("x"), 1)
	require.NoError(t, err)

	fb.getErr = boom
	_, err = s.Take(ctx, id)
	assert.ErrorIs(t, err, ErrStorage)
	assert.NotErrorIs(t, err, ErrNotFound)

	fb.getErr = nil
	fb.casErr = boom
	_, err = s.Take(ctx, id)
	assert.ErrorIs(t, err, ErrStorage)

	fb.casErr = nil
	fb.deleteErr = boom
	assert.ErrorIs(t, s.Delete(ctx, id), ErrStorage)
}

func TestStoreTakeRetriesAfterLostRace(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	s := NewStore(fb)
	ctx := context.Background()
	id, err := s.Put(ctx, testRecord("contested"), 2)
	require.NoError(t, err)

	// A competing taker consumes a view between our read and our write.
	fb.beforeCAS = func() {
		ok, err := fb.MemoryBackend.CompareAndDecrement(ctx, id, 2)
		require.NoError(t, err)
		require.True(t, ok)
	}

	rec, err := s.Take(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, testRecord("contested"), rec)

	_, err = s.Take(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound, "both views are now used")
}

func TestStoreTakeLosesLastViewRace(t *testing.T) {
	fb := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	s := NewStore(fb)
	ctx := context.Background()
	id, err := s.Put(ctx, testRecord("last"), 1)
	require.NoError(t, err)

	fb.beforeCAS = func() {
		require.NoError(t, fb.MemoryBackend.Delete(ctx, id))
	}
	_, err = s.Take(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreTakeHonorsCancellation(t *testing.T) {
	s := NewStore(NewMemoryBackend())
	ctx, cancel := context.WithCancel(context.Background())
	id, err := s.Put(ctx, testRecord("x"), 1)
	require.NoError(t, err)
	cancel()

	_, err = s.Take(ctx, id)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Take(context.Background(), id)
	assert.NoError(t, err, "a cancelled take must not consume the view")
}
