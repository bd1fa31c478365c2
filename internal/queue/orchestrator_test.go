package queue

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/homefm/internal/acquisition"
	"github.com/friendsincode/homefm/internal/hub"
	"github.com/friendsincode/homefm/internal/models"
	"github.com/friendsincode/homefm/internal/playback"
	"github.com/friendsincode/homefm/internal/protocol"
	"github.com/friendsincode/homefm/internal/store"
)

type recorder struct {
	mu        sync.Mutex
	published []protocol.Envelope
	sent      map[hub.Token][]protocol.Envelope
}

func newRecorder() *recorder {
	return &recorder{sent: make(map[hub.Token][]protocol.Envelope)}
}

func (r *recorder) Publish(msg protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, msg)
}

func (r *recorder) Send(token hub.Token, msg protocol.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[token] = append(r.sent[token], msg)
}

func (r *recorder) count(action protocol.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.published {
		if m.Action == action {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.published)
}

func (r *recorder) sentTo(token hub.Token) []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.sent[token]...)
}

type fakePlayer struct {
	mu         sync.Mutex
	next       playback.Handle
	active     playback.Handle
	plays      []models.Song
	overlapped bool
	events     chan playback.Finished
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{events: make(chan playback.Finished, 8)}
}

func (p *fakePlayer) Play(song models.Song) (playback.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != 0 {
		p.overlapped = true
		return 0, playback.ErrBusy
	}
	p.next++
	p.active = p.next
	p.plays = append(p.plays, song)
	return p.active, nil
}

func (p *fakePlayer) Skip(h playback.Handle) bool {
	return p.end(h, playback.ReasonSkipped)
}

func (p *fakePlayer) end(h playback.Handle, reason playback.Reason) bool {
	p.mu.Lock()
	if p.active != h || h == 0 {
		p.mu.Unlock()
		return false
	}
	p.active = 0
	song := p.plays[len(p.plays)-1]
	p.mu.Unlock()
	p.events <- playback.Finished{Handle: h, Song: song, Reason: reason}
	return true
}

func (p *fakePlayer) Events() <-chan playback.Finished {
	return p.events
}

func (p *fakePlayer) current() playback.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *fakePlayer) playCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.plays)
}

type fakePicker struct {
	mu       sync.Mutex
	songs    []models.Song
	excludes []bool
}

func (f *fakePicker) RandomPick(_ context.Context, excludeSensitive bool) (*models.Song, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.excludes = append(f.excludes, excludeSensitive)
	candidates := make([]models.Song, 0, len(f.songs))
	for _, s := range f.songs {
		if excludeSensitive && s.Sensitive {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return nil, store.ErrNotFound
	}
	s := candidates[rand.Intn(len(candidates))]
	return &s, nil
}

type fakeAcquirer struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
	errs  map[string]error
}

func newFakeAcquirer() *fakeAcquirer {
	return &fakeAcquirer{gates: make(map[string]chan struct{}), errs: make(map[string]error)}
}

func (a *fakeAcquirer) gate(name string) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	g := make(chan struct{})
	a.gates[name] = g
	return g
}

func (a *fakeAcquirer) Acquire(ctx context.Context, q acquisition.Query) (*models.Song, error) {
	a.mu.Lock()
	g := a.gates[q.Name]
	err := a.errs[q.Name]
	a.mu.Unlock()

	if g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &models.Song{ID: "id-" + q.Name, Name: q.Name, Artist: q.Artist, Duration: 180}, nil
}

type harness struct {
	orch     *Orchestrator
	rec      *recorder
	player   *fakePlayer
	picker   *fakePicker
	acquirer *fakeAcquirer
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness(t *testing.T, library []models.Song) *harness {
	t.Helper()
	h := &harness{
		rec:      newRecorder(),
		player:   newFakePlayer(),
		picker:   &fakePicker{songs: library},
		acquirer: newFakeAcquirer(),
		done:     make(chan struct{}),
	}
	h.orch = New(Config{}, h.rec, h.acquirer, h.picker, h.player, zerolog.Nop())

	var tick int64
	var mu sync.Mutex
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	h.orch.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		_ = h.orch.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		<-h.done
		if h.player.overlapped {
			t.Error("player was asked to play while a song was active")
		}
	})
	return h
}

func (h *harness) state(t *testing.T) models.QueueState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := h.orch.State(ctx)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return st
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func librarySongs(n int) []models.Song {
	songs := make([]models.Song, n)
	for i := range songs {
		songs[i] = models.Song{ID: fmt.Sprintf("lib-%d", i), Name: fmt.Sprintf("Library %d", i), Duration: 600}
	}
	return songs
}

func TestRandomPickWhenIdle(t *testing.T) {
	h := newHarness(t, librarySongs(3))

	eventually(t, "next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	st := h.state(t)
	if st.Active == nil {
		t.Fatal("expected an active song")
	}
	if len(st.Pending) != 0 {
		t.Fatalf("pending = %v, want empty", st.Pending)
	}
	if h.picker.excludes[0] != true {
		t.Fatal("random pick should exclude sensitive songs by default")
	}
}

func TestRandomPickSkipsSensitiveSongs(t *testing.T) {
	h := newHarness(t, []models.Song{{ID: "x", Name: "Explicit", Duration: 100, Sensitive: true}})

	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })
	if h.player.playCount() != 0 {
		t.Fatal("sensitive song must not be picked")
	}
}

func TestEmptyStoreAnnouncesNoSongs(t *testing.T) {
	h := newHarness(t, nil)

	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })

	st := h.state(t)
	if st.Active != nil {
		t.Fatalf("active = %+v, want nil", st.Active)
	}
	if h.rec.count(protocol.ActionNextSong) != 0 {
		t.Fatal("no song should have started")
	}
}

func TestSkipWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })
	before := h.rec.total()

	if err := h.orch.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	h.state(t) // the skip has been processed once State returns

	if got := h.rec.total(); got != before {
		t.Fatalf("skip with nothing active broadcast %d messages", got-before)
	}
	if h.player.playCount() != 0 {
		t.Fatal("skip with nothing active must not start playback")
	}
}

func TestRequestRepliesAndQueues(t *testing.T) {
	h := newHarness(t, nil)
	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })

	const client hub.Token = 7
	if err := h.orch.Request(SongRequest{Name: " Blizny ", Artists: "Bialas"}, client); err != nil {
		t.Fatalf("Request: %v", err)
	}

	eventually(t, "next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	sent := h.rec.sentTo(client)
	if len(sent) != 1 || sent[0].Action != protocol.ActionStartSongDownload || !sent[0].Success {
		t.Fatalf("requester replies = %+v", sent)
	}
	if h.rec.count(protocol.ActionSongDownloadFinished) != 1 {
		t.Fatal("expected song_download_finished broadcast")
	}

	st := h.state(t)
	if st.Active == nil || st.Active.Name != "Blizny" {
		t.Fatalf("active = %+v", st.Active)
	}
}

func TestAcquisitionFailureGoesToRequesterOnly(t *testing.T) {
	h := newHarness(t, nil)
	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })
	before := h.rec.total()

	h.acquirer.errs["Missing"] = fmt.Errorf("%w: nothing", acquisition.ErrNotFound)

	const client hub.Token = 3
	if err := h.orch.Request(SongRequest{Name: "Missing", Artists: "Nobody"}, client); err != nil {
		t.Fatalf("Request: %v", err)
	}

	eventually(t, "failure reply", func() bool { return len(h.rec.sentTo(client)) == 2 })

	failure := h.rec.sentTo(client)[1]
	if failure.Action != protocol.ActionSongDownloadFailed || failure.Success {
		t.Fatalf("unexpected reply %+v", failure)
	}
	value, ok := failure.Value.(protocol.DownloadFailure)
	if !ok || value.Reason != acquisition.ReasonNotFound || value.Name != "Missing" {
		t.Fatalf("unexpected failure value %+v", failure.Value)
	}
	if h.rec.total() != before {
		t.Fatal("acquisition failure must not be broadcast")
	}
}

func TestPendingOrderFollowsRequestTime(t *testing.T) {
	h := newHarness(t, librarySongs(1))
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	// A is requested before B but B's download finishes first.
	gateA := h.acquirer.gate("A")
	gateB := h.acquirer.gate("B")
	_ = h.orch.Request(SongRequest{Name: "A"}, 1)
	_ = h.orch.Request(SongRequest{Name: "B"}, 2)

	close(gateB)
	eventually(t, "B queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 1 })
	close(gateA)
	eventually(t, "A queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 2 })

	st := h.state(t)
	if len(st.Pending) != 2 || st.Pending[0].Song.Name != "A" || st.Pending[1].Song.Name != "B" {
		t.Fatalf("pending = %+v, want [A B]", names(st.Pending))
	}
}

func TestPendingStaysSortedForAnyCompletionOrder(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			h := newHarness(t, librarySongs(1))
			eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

			const n = 6
			gates := make([]chan struct{}, n)
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("S%d", i)
				gates[i] = h.acquirer.gate(name)
				_ = h.orch.Request(SongRequest{Name: name}, hub.Token(i+1))
			}

			order := rand.New(rand.NewSource(seed)).Perm(n)
			for k, i := range order {
				close(gates[i])
				eventually(t, "queued", func() bool {
					return h.rec.count(protocol.ActionSongDownloadFinished) == k+1
				})
			}

			st := h.state(t)
			if len(st.Pending) != n {
				t.Fatalf("pending length = %d", len(st.Pending))
			}
			for i, e := range st.Pending {
				if e.Song.Name != fmt.Sprintf("S%d", i) {
					t.Fatalf("pending = %v (completion order %v)", names(st.Pending), order)
				}
				if i > 0 && e.RequestedAt.Before(st.Pending[i-1].RequestedAt) {
					t.Fatalf("pending not sorted by request time: %v", names(st.Pending))
				}
			}
		})
	}
}

func TestEqualTimestampsKeepRequestOrder(t *testing.T) {
	h := newHarness(t, librarySongs(1))
	frozen := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	// Swap the clock before any request is processed.
	h.state(t)
	h.orch.now = func() time.Time { return frozen }

	first := h.acquirer.gate("First")
	second := h.acquirer.gate("Second")
	_ = h.orch.Request(SongRequest{Name: "First"}, 1)
	_ = h.orch.Request(SongRequest{Name: "Second"}, 1)

	close(second)
	eventually(t, "second queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 1 })
	close(first)
	eventually(t, "first queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 2 })

	st := h.state(t)
	if got := names(st.Pending); len(got) != 2 || got[0] != "First" || got[1] != "Second" {
		t.Fatalf("pending = %v, want [First Second]", got)
	}
}

func TestSkipAdvancesExactlyOnce(t *testing.T) {
	h := newHarness(t, librarySongs(2))
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	_ = h.orch.Request(SongRequest{Name: "Next"}, 1)
	_ = h.orch.Request(SongRequest{Name: "After"}, 1)
	eventually(t, "queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 2 })

	if err := h.orch.Skip(); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	eventually(t, "advance", func() bool { return h.rec.count(protocol.ActionNextSong) == 2 })

	// Let any duplicate advance surface.
	time.Sleep(50 * time.Millisecond)
	st := h.state(t)
	if h.rec.count(protocol.ActionNextSong) != 2 || h.player.playCount() != 2 {
		t.Fatalf("expected exactly one advance, got %d plays", h.player.playCount())
	}
	if st.Active == nil || st.Active.Name != "Next" {
		t.Fatalf("active = %+v, want Next", st.Active)
	}
	if got := names(st.Pending); len(got) != 1 || got[0] != "After" {
		t.Fatalf("pending = %v, want [After]", got)
	}
}

func TestStaleFinishedEventIsIgnored(t *testing.T) {
	h := newHarness(t, librarySongs(1))
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	current := h.player.current()
	h.player.events <- playback.Finished{Handle: current + 100, Reason: playback.ReasonCompleted}

	st := h.state(t)
	if st.Active == nil || h.rec.count(protocol.ActionNextSong) != 1 {
		t.Fatal("stale event must not advance the queue")
	}

	// The genuine event does advance.
	h.player.end(current, playback.ReasonCompleted)
	eventually(t, "advance", func() bool { return h.rec.count(protocol.ActionNextSong) == 2 })
}

func TestFinishedWithEmptyQueueFallsBackToRandom(t *testing.T) {
	h := newHarness(t, librarySongs(3))
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	for i := 2; i <= 4; i++ {
		h.player.end(h.player.current(), playback.ReasonCompleted)
		want := i
		eventually(t, "random advance", func() bool { return h.rec.count(protocol.ActionNextSong) == want })
	}
}

func TestDelete(t *testing.T) {
	h := newHarness(t, librarySongs(1))
	eventually(t, "initial next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	_ = h.orch.Request(SongRequest{Name: "Keep"}, 1)
	_ = h.orch.Request(SongRequest{Name: "Drop"}, 1)
	eventually(t, "queued", func() bool { return h.rec.count(protocol.ActionSongDownloadFinished) == 2 })

	st := h.state(t)
	var dropID string
	for _, e := range st.Pending {
		if e.Song.Name == "Drop" {
			dropID = e.UUID
		}
	}

	before := h.rec.total()
	if err := h.orch.Delete("no-such-uuid"); err != nil {
		t.Fatalf("Delete unknown: %v", err)
	}
	h.state(t)
	if h.rec.total() != before {
		t.Fatal("deleting an unknown entry must not broadcast")
	}

	if err := h.orch.Delete(dropID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	st = h.state(t)
	if got := names(st.Pending); len(got) != 1 || got[0] != "Keep" {
		t.Fatalf("pending = %v, want [Keep]", got)
	}
	if h.rec.count(protocol.ActionDeleteSongFromQueue) != 1 {
		t.Fatal("expected delete broadcast")
	}
}

func TestRequestQueuedDuringRandomPickPlaysFirst(t *testing.T) {
	h := newHarness(t, nil)
	eventually(t, "no_songs_available", func() bool { return h.rec.count(protocol.ActionNoSongsAvailable) == 1 })

	_ = h.orch.Request(SongRequest{Name: "Wanted"}, 1)
	eventually(t, "next_song", func() bool { return h.rec.count(protocol.ActionNextSong) == 1 })

	st := h.state(t)
	if st.Active == nil || st.Active.Name != "Wanted" {
		t.Fatalf("active = %+v", st.Active)
	}
}

func TestOperationsAfterStop(t *testing.T) {
	h := newHarness(t, nil)
	h.cancel()
	<-h.done

	if _, err := h.orch.State(context.Background()); err != ErrStopped {
		t.Fatalf("State after stop = %v, want ErrStopped", err)
	}
}

func names(entries []models.ScheduledEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Song.Name
	}
	return out
}
