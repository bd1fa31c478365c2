package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/store"
)

type memStore struct {
	mu        sync.Mutex
	songs     map[string]models.Song
	findErr   error
	insertErr error
	finds     atomic.Int32
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{songs: make(map[string]models.Song)}
}

func memKey(name, artist string) string {
	return strings.ToLower(name) + "|" + strings.ToLower(artist)
}

func (s *memStore) Find(_ context.Context, name, artist string) (*models.Song, error) {
	s.finds.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	song, ok := s.songs[memKey(name, artist)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &song, nil
}

func (s *memStore) Insert(_ context.Context, song *models.Song) (*models.Song, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	s.nextID++
	rec := *song
	rec.ID = fmt.Sprintf("song-%d", s.nextID)
	s.songs[memKey(rec.Name, rec.Artist)] = rec
	return &rec, nil
}

type fakeFetcher struct {
	calls   atomic.Int32
	err     error
	entered chan struct{}
	release chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, q Query) (models.Song, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return models.Song{}, ctx.Err()
		}
	}
	if f.err != nil {
		return models.Song{}, f.err
	}
	return models.Song{Name: q.Name, Artist: q.Artist, Path: "/songs/" + q.Name + ".mp3", Duration: 200}, nil
}

type fakeUploader struct {
	paths []string
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, path string) error {
	u.paths = append(u.paths, path)
	return u.err
}

func TestAcquireHitSkipsFetch(t *testing.T) {
	st := newMemStore()
	st.songs[memKey("Blizny", "Bialas")] = models.Song{ID: "existing", Name: "Blizny", Artist: "Bialas", Duration: 10}
	f := &fakeFetcher{}
	p := NewPipeline(st, f, nil, zerolog.Nop())

	song, err := p.Acquire(context.Background(), Query{Name: " Blizny ", Artist: "Bialas"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if song.ID != "existing" {
		t.Fatalf("got %s, want existing", song.ID)
	}
	if f.calls.Load() != 0 {
		t.Fatal("fetcher should not run on a store hit")
	}
}

func TestAcquireMissDownloadsAndStores(t *testing.T) {
	st := newMemStore()
	f := &fakeFetcher{}
	up := &fakeUploader{err: errors.New("bucket gone")}
	p := NewPipeline(st, f, up, zerolog.Nop())

	song, err := p.Acquire(context.Background(), Query{Name: "Despacito", Artist: "Luis Fonsi"})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if song.ID == "" || song.Duration != 200 {
		t.Fatalf("unexpected song %+v", song)
	}
	if len(up.paths) != 1 || up.paths[0] != song.Path {
		t.Fatalf("upload not attempted: %v", up.paths)
	}

	again, err := p.Acquire(context.Background(), Query{Name: "despacito", Artist: "luis fonsi"})
	if err != nil || again.ID != song.ID {
		t.Fatalf("second acquire = %+v, %v", again, err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls.Load())
	}
}

func TestAcquireErrors(t *testing.T) {
	tests := []struct {
		name      string
		findErr   error
		insertErr error
		fetchErr  error
		want      error
		reason    string
	}{
		{
			name:     "source has nothing",
			fetchErr: fmt.Errorf("%w: no audio", ErrNotFound),
			want:     ErrNotFound,
			reason:   ReasonNotFound,
		},
		{
			name:     "download fails",
			fetchErr: fmt.Errorf("%w: exit status 1", ErrTransferFailed),
			want:     ErrTransferFailed,
			reason:   ReasonTransferFailed,
		},
		{
			name:     "unclassified fetch error",
			fetchErr: errors.New("disk full"),
			want:     ErrTransferFailed,
			reason:   ReasonTransferFailed,
		},
		{
			name:    "lookup fails",
			findErr: fmt.Errorf("find: %w", store.ErrUnavailable),
			want:    ErrStoreUnavailable,
			reason:  ReasonStoreUnavailable,
		},
		{
			name:      "insert fails",
			insertErr: fmt.Errorf("insert: %w", store.ErrUnavailable),
			want:      ErrStoreUnavailable,
			reason:    ReasonStoreUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			st.findErr = tt.findErr
			st.insertErr = tt.insertErr
			p := NewPipeline(st, &fakeFetcher{err: tt.fetchErr}, nil, zerolog.Nop())

			_, err := p.Acquire(context.Background(), Query{Name: "x", Artist: "y"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := FailureReason(err); got != tt.reason {
				t.Fatalf("FailureReason = %q, want %q", got, tt.reason)
			}
		})
	}
}

func TestConcurrentAcquireFetchesOnce(t *testing.T) {
	st := newMemStore()
	f := &fakeFetcher{entered: make(chan struct{}, 4), release: make(chan struct{})}
	p := NewPipeline(st, f, nil, zerolog.Nop())

	q := Query{Name: "Same", Artist: "Song"}
	results := make(chan *models.Song, 2)
	errs := make(chan error, 2)
	acquire := func() {
		song, err := p.Acquire(context.Background(), q)
		results <- song
		errs <- err
	}

	go acquire()
	<-f.entered

	go acquire()
	// Wait for the second caller to miss the store and join the download.
	deadline := time.Now().Add(2 * time.Second)
	for st.finds.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.release)

	a, b := <-results, <-results
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if f.calls.Load() != 1 {
		t.Fatalf("fetch calls = %d, want 1", f.calls.Load())
	}
	if a.ID != b.ID {
		t.Fatalf("callers got different songs: %s vs %s", a.ID, b.ID)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	f := &fakeFetcher{entered: make(chan struct{}, 8), release: make(chan struct{})}
	pool := NewPool(f, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(done)
	}()

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := pool.Fetch(context.Background(), Query{Name: fmt.Sprintf("s%d", i)}); err != nil {
				t.Errorf("Fetch: %v", err)
			}
		}(i)
	}

	<-f.entered
	<-f.entered
	select {
	case <-f.entered:
		t.Fatal("third fetch started while two workers were busy")
	case <-time.After(100 * time.Millisecond):
	}

	close(f.release)
	wg.Wait()
	if f.calls.Load() != 3 {
		t.Fatalf("fetch calls = %d, want 3", f.calls.Load())
	}

	cancel()
	<-done

	if _, err := pool.Fetch(context.Background(), Query{Name: "late"}); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
}

func TestPoolFetchHonoursCallerContext(t *testing.T) {
	pool := NewPool(&fakeFetcher{}, 1, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// No Run: the job can never be picked up.
	if _, err := pool.Fetch(ctx, Query{Name: "x"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
