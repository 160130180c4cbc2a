package chat

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"chathub/friends"
	"chathub/logging"
	"chathub/metrics"
	"chathub/models"
	"chathub/protocol"
	"chathub/registry"
	"chathub/registry/registrytest"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	m.Run()
}

type fakeDirectory struct {
	mu     sync.Mutex
	byName map[string]*models.User
	err    error
}

func newFakeDirectory(names ...string) *fakeDirectory {
	d := &fakeDirectory{byName: make(map[string]*models.User)}
	for _, n := range names {
		d.byName[n] = &models.User{ID: n + "-id", Username: n}
	}
	return d
}

func (d *fakeDirectory) FindByUsername(_ context.Context, username string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return d.byName[username], nil
}

func (d *fakeDirectory) FindByID(_ context.Context, id string) (*models.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	for _, u := range d.byName {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) remove(username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.byName, username)
}

type fakeLog struct {
	mu     sync.Mutex
	msgs   []models.Message
	writes int
	fail   error
	block  chan struct{}
}

func (l *fakeLog) Append(ctx context.Context, msg *models.Message) (string, error) {
	if l.block != nil {
		<-l.block
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return "", l.fail
	}
	l.writes++
	msg.ID = "m" + strconv.Itoa(l.writes)
	l.msgs = append(l.msgs, *msg)
	return msg.ID, nil
}

func (l *fakeLog) Query(_ context.Context, filter models.MessageFilter) ([]models.Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Message
	for _, m := range l.msgs {
		if !m.IsPrivate || m.SenderID == filter.ParticipantID || m.RecipientID == filter.ParticipantID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (l *fakeLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

type recordingRecorder struct {
	metrics.Nop
	mu     sync.Mutex
	errors []string
	sent   []string
}

func (r *recordingRecorder) SendError(code string) {
	r.mu.Lock()
	r.errors = append(r.errors, code)
	r.mu.Unlock()
}

func (r *recordingRecorder) MessageSent(kind string) {
	r.mu.Lock()
	r.sent = append(r.sent, kind)
	r.mu.Unlock()
}

type fixture struct {
	router *Router
	dir    *fakeDirectory
	log    *fakeLog
	store  *friends.MemoryStore
	reg    *registry.Registry
	rec    *recordingRecorder
	conns  int
}

func newFixture(cfg Config, names ...string) *fixture {
	f := &fixture{
		dir:   newFakeDirectory(names...),
		log:   &fakeLog{},
		store: friends.NewMemoryStore(),
		reg:   registry.New(),
		rec:   &recordingRecorder{},
	}
	f.router = NewRouter(f.dir, f.log, friends.NewGate(f.store), f.reg, f.rec, cfg)

	var tick int64
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	f.router.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	return f
}

// origin builds an origin for username without joining it.
func (f *fixture) origin(username string) (Origin, *registrytest.Handle) {
	f.conns++
	h := registrytest.NewHandle(username + "-conn" + strconv.Itoa(f.conns))
	return Origin{Identity: models.Identity{UserID: username + "-id", Username: username}, Handle: h}, h
}

func (f *fixture) join(t *testing.T, username string) (Origin, *registrytest.Handle) {
	t.Helper()
	o, h := f.origin(username)
	if err := f.router.Join(context.Background(), o, username); err != nil {
		t.Fatalf("Join(%s) failed: %v", username, err)
	}
	h.Reset()
	return o, h
}

func onlyEvent(t *testing.T, h *registrytest.Handle, eventType string) protocol.Event {
	t.Helper()
	evs := h.OfType(eventType)
	if len(evs) != 1 {
		t.Fatalf("%s: expected exactly one %s event, got %d (%+v)", h.ID(), eventType, len(evs), h.Events())
	}
	return evs[0]
}

var errStoreDown = errors.New("store down")
