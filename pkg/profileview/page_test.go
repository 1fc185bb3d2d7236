package profileview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"homefinder/pkg/domain"
	"homefinder/pkg/store"
)

type fakeAuth struct {
	mu         sync.Mutex
	session    domain.Session
	renames    []string
	renameErr  error
	signOuts   int
	signOutErr error
	sessionErr error
}

func (f *fakeAuth) Session(context.Context) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sessionErr != nil {
		return domain.Session{}, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeAuth) UpdateDisplayName(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames = append(f.renames, name)
	if f.renameErr != nil {
		return f.renameErr
	}
	f.session.DisplayName = name
	return nil
}

func (f *fakeAuth) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	return f.signOutErr
}

// countingBackend wraps a MemoryStore and counts calls. When gate is set,
// list calls block until released or their context ends; with
// snapshotFirst they read the store before blocking. writeGate holds
// profile writes the same way.
type countingBackend struct {
	*store.MemoryStore

	mu        sync.Mutex
	deletes   []string
	writes    []domain.ProfileForm
	listErr   error
	deleteErr error
	writeErr  error
	gate      chan struct{}
	listing   chan string

	snapshotFirst bool
	writeGate     chan struct{}
	writing       chan struct{}
}

func newBackend(t *testing.T, listings ...domain.Listing) *countingBackend {
	t.Helper()
	mem := store.NewMemoryStore()
	for _, l := range listings {
		require.NoError(t, mem.SaveListing(context.Background(), l))
	}
	return &countingBackend{MemoryStore: mem}
}

func (b *countingBackend) ListListingsByOwner(ctx context.Context, owner string) ([]domain.Listing, error) {
	b.mu.Lock()
	gate, listing, listErr, snapshotFirst := b.gate, b.listing, b.listErr, b.snapshotFirst
	b.mu.Unlock()
	var snapshot []domain.Listing
	if snapshotFirst {
		var err error
		if snapshot, err = b.MemoryStore.ListListingsByOwner(ctx, owner); err != nil {
			return nil, err
		}
	}
	if listing != nil {
		listing <- owner
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if listErr != nil {
		return nil, listErr
	}
	if snapshotFirst {
		return snapshot, nil
	}
	return b.MemoryStore.ListListingsByOwner(ctx, owner)
}

func (b *countingBackend) DeleteListing(ctx context.Context, id string) error {
	b.mu.Lock()
	b.deletes = append(b.deletes, id)
	err := b.deleteErr
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.MemoryStore.DeleteListing(ctx, id)
}

func (b *countingBackend) UpdateUserProfile(ctx context.Context, userID string, form domain.ProfileForm) error {
	b.mu.Lock()
	b.writes = append(b.writes, form)
	err, gate, writing := b.writeErr, b.writeGate, b.writing
	b.mu.Unlock()
	if writing != nil {
		writing <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}
	return b.MemoryStore.UpdateUserProfile(ctx, userID, form)
}

type recorder struct {
	mu        sync.Mutex
	successes []string
	errors    []string
	paths     []string
	prompts   []string
	answer    bool
}

func (r *recorder) Success(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes = append(r.successes, msg)
}

func (r *recorder) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recorder) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func (r *recorder) Confirm(_ context.Context, prompt string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prompts = append(r.prompts, prompt)
	return r.answer
}

var alice = domain.Session{ID: "u1", DisplayName: "Alice", Email: "a@x.com"}

func listing(id, owner string, at time.Time) domain.Listing {
	return domain.Listing{ID: id, Data: domain.ListingData{UserRef: owner, Name: id, Timestamp: at}}
}

func newPage(t *testing.T, auth *fakeAuth, backend *countingBackend, rec *recorder) *Page {
	t.Helper()
	p, err := New(Deps{Auth: auth, Backend: backend, Navigator: rec, Notifier: rec, Confirmer: rec})
	require.NoError(t, err)
	return p
}

func TestNewRequiresAllDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestMountSeedsFormAndLoadsOwnListings(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	backend := newBackend(t,
		listing("L1", "u1", base),
		listing("L2", "u1", base.Add(time.Hour)),
		listing("X1", "u2", base.Add(2*time.Hour)),
	)
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})

	require.True(t, page.Loading(), "page starts out loading")
	require.NoError(t, page.Mount(context.Background()))

	assert.False(t, page.Loading())
	assert.NoError(t, page.LoadErr())
	assert.Equal(t, domain.ProfileForm{Name: "Alice", Email: "a@x.com"}, page.Form())
	got := page.Listings()
	require.Len(t, got, 2)
	assert.Equal(t, "L2", got[0].ID)
	assert.Equal(t, "L1", got[1].ID)
	for _, l := range got {
		assert.Equal(t, "u1", l.Data.UserRef)
	}
}

func TestMountSingleListingScenario(t *testing.T) {
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})

	require.NoError(t, page.Mount(context.Background()))
	got := page.Listings()
	require.Len(t, got, 1)
	assert.Equal(t, "L1", got[0].ID)
	assert.False(t, page.Loading())
}

func TestMountLoadFailureIsReported(t *testing.T) {
	backend := newBackend(t)
	backend.listErr = errors.New("backend down")
	rec := &recorder{}
	page := newPage(t, &fakeAuth{session: alice}, backend, rec)

	err := page.Mount(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, page.LoadErr(), backend.listErr)
	assert.False(t, page.Loading())
	assert.Equal(t, []string{MsgLoadFailed}, rec.errors)
	assert.Empty(t, page.Listings())
}

func TestDeleteDeclinedChangesNothing(t *testing.T) {
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	rec := &recorder{answer: false}
	page := newPage(t, &fakeAuth{session: alice}, backend, rec)
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, page.Delete(context.Background(), "L1"))

	assert.Equal(t, []string{DeletePrompt}, rec.prompts)
	assert.Empty(t, backend.deletes)
	assert.Len(t, page.Listings(), 1)
	_, ok, err := backend.GetListing(context.Background(), "L1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, rec.successes)
}

func TestDeleteConfirmedRemovesExactlyOne(t *testing.T) {
	now := time.Now()
	backend := newBackend(t,
		listing("L1", "u1", now),
		listing("L2", "u1", now.Add(-time.Minute)),
	)
	rec := &recorder{answer: true}
	page := newPage(t, &fakeAuth{session: alice}, backend, rec)
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, page.Delete(context.Background(), "L1"))

	assert.Equal(t, []string{"L1"}, backend.deletes)
	got := page.Listings()
	require.Len(t, got, 1)
	assert.Equal(t, "L2", got[0].ID)
	assert.Equal(t, []string{MsgDeleted}, rec.successes)
}

func TestDeleteBackendFailureKeepsLocalState(t *testing.T) {
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	rec := &recorder{answer: true}
	page := newPage(t, &fakeAuth{session: alice}, backend, rec)
	require.NoError(t, page.Mount(context.Background()))
	backend.deleteErr = errors.New("permission denied")

	err := page.Delete(context.Background(), "L1")
	require.ErrorIs(t, err, backend.deleteErr)
	assert.Len(t, page.Listings(), 1)
	assert.Equal(t, []string{MsgDeleteFailed}, rec.errors)
	assert.Empty(t, rec.successes)
}

func TestToggleEditControlsMutability(t *testing.T) {
	page := newPage(t, &fakeAuth{session: alice}, newBackend(t), &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	assert.Equal(t, "change", page.ControlLabel())
	require.ErrorIs(t, page.SetField(FieldName, "Mallory"), ErrNotEditing)
	assert.Equal(t, "Alice", page.Form().Name)

	require.NoError(t, page.ToggleEdit(context.Background()))
	assert.True(t, page.Editing())
	assert.Equal(t, "done", page.ControlLabel())
	require.NoError(t, page.SetField(FieldEmail, "alice@x.com"))
	require.ErrorIs(t, page.SetField("phone", "1"), ErrUnknownField)
	assert.Equal(t, "alice@x.com", page.Form().Email)
}

func TestToggleOutSubmitsOnce(t *testing.T) {
	auth := &fakeAuth{session: alice}
	backend := newBackend(t)
	page := newPage(t, auth, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, page.ToggleEdit(context.Background()))
	assert.Empty(t, backend.writes, "entering edit mode must not submit")
	require.NoError(t, page.ToggleEdit(context.Background()))

	assert.Len(t, backend.writes, 1)
	assert.Empty(t, auth.renames, "unchanged name must not reach the auth provider")
	assert.False(t, page.Editing())
}

func TestSubmitRenameScenario(t *testing.T) {
	auth := &fakeAuth{session: alice}
	backend := newBackend(t)
	page := newPage(t, auth, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, page.ToggleEdit(context.Background()))
	require.NoError(t, page.SetField(FieldName, "Alicia"))
	require.NoError(t, page.ToggleEdit(context.Background()))

	assert.Equal(t, []string{"Alicia"}, auth.renames)
	profile, ok, err := backend.GetUserProfile(context.Background(), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Alicia", profile.Name)
	assert.Equal(t, "a@x.com", profile.Email)
	assert.Equal(t, "Alicia", page.Session().DisplayName)
}

func TestSubmitFailureNotifiesAndStillLeavesEditMode(t *testing.T) {
	cases := []struct {
		name      string
		renameErr error
		writeErr  error
		writes    int
	}{
		{name: "auth provider fails", renameErr: errors.New("auth down"), writes: 0},
		{name: "document write fails", writeErr: errors.New("db down"), writes: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &fakeAuth{session: alice, renameErr: tc.renameErr}
			backend := newBackend(t)
			backend.writeErr = tc.writeErr
			rec := &recorder{}
			page := newPage(t, auth, backend, rec)
			require.NoError(t, page.Mount(context.Background()))

			require.NoError(t, page.ToggleEdit(context.Background()))
			require.NoError(t, page.SetField(FieldName, "Alicia"))
			err := page.ToggleEdit(context.Background())

			require.ErrorIs(t, err, ErrSubmit)
			assert.False(t, page.Editing())
			assert.Equal(t, []string{MsgUpdateFailed}, rec.errors)
			assert.Len(t, backend.writes, tc.writes)
			assert.Equal(t, "Alicia", page.Form().Name, "form is not reverted")
		})
	}
}

func TestLogoutNavigatesToRoot(t *testing.T) {
	auth := &fakeAuth{session: alice}
	rec := &recorder{}
	page := newPage(t, auth, newBackend(t), rec)

	require.NoError(t, page.Logout(context.Background()))
	assert.Equal(t, 1, auth.signOuts)
	assert.Equal(t, []string{"/"}, rec.paths)
}

func TestLogoutFailureStillNavigates(t *testing.T) {
	auth := &fakeAuth{session: alice, signOutErr: errors.New("network")}
	rec := &recorder{}
	page := newPage(t, auth, newBackend(t), rec)

	require.Error(t, page.Logout(context.Background()))
	assert.Equal(t, []string{"/"}, rec.paths)
	assert.Equal(t, []string{MsgSignOutFailed}, rec.errors)
}

func TestSessionChangedReloadsForNewOwner(t *testing.T) {
	now := time.Now()
	backend := newBackend(t, listing("L1", "u1", now), listing("B1", "u2", now))
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	bob := domain.Session{ID: "u2", DisplayName: "Bob", Email: "b@x.com"}
	require.NoError(t, page.SessionChanged(context.Background(), bob))

	got := page.Listings()
	require.Len(t, got, 1)
	assert.Equal(t, "B1", got[0].ID)
	assert.Equal(t, "Bob", page.Form().Name)
}

func TestSessionChangedBeforeMount(t *testing.T) {
	page := newPage(t, &fakeAuth{session: alice}, newBackend(t), &recorder{})
	require.ErrorIs(t, page.SessionChanged(context.Background(), alice), ErrNotMounted)
}

func TestStaleLoadIsDiscardedAfterOwnerChange(t *testing.T) {
	now := time.Now()
	backend := newBackend(t, listing("L1", "u1", now), listing("B1", "u2", now))
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	// Hold the next load for u1 open while the owner switches to u2.
	gate := make(chan struct{})
	started := make(chan string, 2)
	backend.mu.Lock()
	backend.gate = gate
	backend.listing = started
	backend.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- page.SessionChanged(context.Background(), domain.Session{ID: "u3"})
	}()
	require.Equal(t, "u3", <-started)

	backend.mu.Lock()
	backend.gate = nil
	backend.mu.Unlock()
	require.NoError(t, page.SessionChanged(context.Background(), domain.Session{ID: "u2", DisplayName: "Bob"}))
	require.Equal(t, "u2", <-started)
	close(gate)

	require.NoError(t, <-firstDone)
	got := page.Listings()
	require.Len(t, got, 1)
	assert.Equal(t, "B1", got[0].ID)
	assert.False(t, page.Loading())
}

func TestUnmountDiscardsInFlightLoad(t *testing.T) {
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	gate := make(chan struct{})
	started := make(chan string, 1)
	backend.gate = gate
	backend.listing = started
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})

	done := make(chan error, 1)
	go func() { done <- page.Mount(context.Background()) }()
	<-started
	page.Unmount()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("unmount did not cancel the in-flight load")
	}
	assert.Empty(t, page.Listings())
	assert.NoError(t, page.LoadErr())
}

func TestReloadPicksUpNewListings(t *testing.T) {
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})
	require.ErrorIs(t, page.Reload(context.Background()), ErrNotMounted)
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, backend.SaveListing(context.Background(), listing("L2", "u1", time.Now().Add(time.Minute))))
	require.NoError(t, page.Reload(context.Background()))

	got := page.Listings()
	require.Len(t, got, 2)
	assert.Equal(t, "L2", got[0].ID)
}

func TestMountSessionFailureStopsLoading(t *testing.T) {
	auth := &fakeAuth{sessionErr: errors.New("token expired")}
	backend := newBackend(t, listing("L1", "u1", time.Now()))
	rec := &recorder{}
	page := newPage(t, auth, backend, rec)

	err := page.Mount(context.Background())
	require.ErrorIs(t, err, auth.sessionErr)
	assert.False(t, page.Loading())
	assert.ErrorIs(t, page.LoadErr(), auth.sessionErr)
	assert.Equal(t, []string{MsgSessionFailed}, rec.errors)
	assert.Empty(t, page.Listings())
}

func TestDeleteDuringReloadKeepsListingGone(t *testing.T) {
	now := time.Now()
	backend := newBackend(t, listing("L1", "u1", now), listing("L2", "u1", now.Add(-time.Minute)))
	rec := &recorder{answer: true}
	page := newPage(t, &fakeAuth{session: alice}, backend, rec)
	require.NoError(t, page.Mount(context.Background()))

	// The reload reads both listings, then stalls before returning them.
	gate := make(chan struct{})
	started := make(chan string, 1)
	backend.mu.Lock()
	backend.snapshotFirst = true
	backend.gate = gate
	backend.listing = started
	backend.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- page.Reload(context.Background()) }()
	require.Equal(t, "u1", <-started)

	require.NoError(t, page.Delete(context.Background(), "L1"))
	close(gate)
	require.NoError(t, <-done)

	got := page.Listings()
	require.Len(t, got, 1)
	assert.Equal(t, "L2", got[0].ID)
	remaining, err := backend.MemoryStore.ListListingsByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "L2", remaining[0].ID)

	// The next load starts clean.
	require.NoError(t, backend.SaveListing(context.Background(), listing("L1", "u1", now)))
	backend.mu.Lock()
	backend.snapshotFirst, backend.gate, backend.listing = false, nil, nil
	backend.mu.Unlock()
	require.NoError(t, page.Reload(context.Background()))
	assert.Len(t, page.Listings(), 2)
}

func TestConcurrentDoneTogglesSubmitOnce(t *testing.T) {
	backend := newBackend(t)
	backend.writeGate = make(chan struct{})
	backend.writing = make(chan struct{}, 2)
	page := newPage(t, &fakeAuth{session: alice}, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))
	require.NoError(t, page.ToggleEdit(context.Background()))

	first := make(chan error, 1)
	go func() { first <- page.ToggleEdit(context.Background()) }()
	<-backend.writing

	// Second "done" while the first submit is still writing.
	require.NoError(t, page.ToggleEdit(context.Background()))
	assert.Equal(t, "done", page.ControlLabel())
	require.ErrorIs(t, page.SetField(FieldName, "Mallory"), ErrNotEditing)

	close(backend.writeGate)
	require.NoError(t, <-first)
	assert.Len(t, backend.writes, 1)
	assert.False(t, page.Editing())
}

func TestSubmitTrimsForm(t *testing.T) {
	auth := &fakeAuth{session: alice}
	backend := newBackend(t)
	page := newPage(t, auth, backend, &recorder{})
	require.NoError(t, page.Mount(context.Background()))

	require.NoError(t, page.ToggleEdit(context.Background()))
	require.NoError(t, page.SetField(FieldName, "Alice "))
	require.NoError(t, page.SetField(FieldEmail, " a@x.com"))
	require.NoError(t, page.ToggleEdit(context.Background()))

	assert.Empty(t, auth.renames, "a padded but equal name is not a rename")
	require.Len(t, backend.writes, 1)
	assert.Equal(t, domain.ProfileForm{Name: "Alice", Email: "a@x.com"}, backend.writes[0])
	assert.Equal(t, "Alice", page.Session().DisplayName)
	assert.Equal(t, "Alice", page.Form().Name)

	require.NoError(t, page.ToggleEdit(context.Background()))
	require.NoError(t, page.SetField(FieldName, "  Alicia  "))
	require.NoError(t, page.ToggleEdit(context.Background()))
	assert.Equal(t, []string{"Alicia"}, auth.renames)
	assert.Equal(t, "Alicia", page.Session().DisplayName)
}

func TestCreateListingNavigates(t *testing.T) {
	rec := &recorder{}
	page := newPage(t, &fakeAuth{session: alice}, newBackend(t), rec)

	page.CreateListing()
	assert.Equal(t, []string{PathCreateListing}, rec.paths)
}
