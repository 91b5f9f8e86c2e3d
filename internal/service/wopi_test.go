package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wopihost/internal/clock"
	"wopihost/internal/logging"
	"wopihost/internal/model"
	"wopihost/internal/repository"
	"wopihost/internal/repository/memory"
	"wopihost/internal/storage"
	storeMocks "wopihost/internal/storage/mocks"
	"wopihost/internal/wopi"
	"wopihost/internal/wopi/discovery"
	"wopihost/internal/wopi/proof"
	"wopihost/internal/wopi/token"
)

const (
	docID     = "doc-1"
	container = "jane-contoso-com"
	authority = "wopi.contoso.com"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

var feedActions = []discovery.Action{
	{App: "Word", Name: "view", Ext: "docx", IsDefault: true, URLSrc: "https://word.example.com/wv/view.aspx?<ui=UI_LLCC&>"},
	{App: "Word", Name: "edit", Ext: "docx", URLSrc: "https://word.example.com/we/edit.aspx?<rs=DC_LLCC&>"},
}

type stubProof struct {
	ok  bool
	err error
	got *proof.Input
}

func (s stubProof) Verify(_ context.Context, in proof.Input) (bool, error) {
	if s.got != nil {
		*s.got = in
	}
	return s.ok, s.err
}

// staleRepo loses every optimistic-concurrency race.
type staleRepo struct {
	*memory.DocumentMemory
}

func (staleRepo) Update(context.Context, *model.Document) error {
	return repository.ErrStaleRecord
}

type fixture struct {
	t      *testing.T
	repo   *memory.DocumentMemory
	store  storage.Storage
	clk    *clock.Manual
	tokens *token.Service
	token  string
	deps   WopiDeps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	clk := clock.NewManual(t0)
	tokens, err := token.New("test-secret", "wopihost", clk)
	require.NoError(t, err)

	repo := memory.NewDocumentMemory()
	_, err = repo.Create(ctx, &model.Document{
		ID: docID, OwnerID: owner, Container: container,
		BaseFileName: "Plan.docx", Size: 5, Version: 1, CreatedAt: t0,
	})
	require.NoError(t, err)

	store := storage.NewMemory()
	_, err = store.Upload(ctx, docID, container, []byte("hello"))
	require.NoError(t, err)

	tok, _, err := tokens.Issue(owner, container, docID)
	require.NoError(t, err)

	f := &fixture{t: t, repo: repo, store: store, clk: clk, tokens: tokens, token: tok}
	f.deps = WopiDeps{
		Repo:    repo,
		Store:   store,
		Tokens:  tokens,
		Actions: stubActions{actions: feedActions},
		Clock:   clk,
		Logger:  logging.Discard(),
	}
	return f
}

func (f *fixture) service() WopiService {
	return NewWopiService(f.deps)
}

func (f *fixture) request(kind wopi.Kind, body []byte, kv ...string) WopiRequest {
	h := http.Header{}
	for i := 0; i+1 < len(kv); i += 2 {
		h.Set(kv[i], kv[i+1])
	}
	return WopiRequest{
		Descriptor: wopi.Descriptor{Kind: kind, ID: docID, AccessToken: f.token},
		Header:     h,
		Body:       body,
		URL:        "https://" + authority + "/wopi/files/" + docID + "?access_token=" + f.token,
		Authority:  authority,
	}
}

func (f *fixture) call(kind wopi.Kind, body []byte, kv ...string) WopiResponse {
	return f.service().Dispatch(context.Background(), f.request(kind, body, kv...))
}

func (f *fixture) doc() *model.Document {
	f.t.Helper()
	d, err := f.repo.FindByID(context.Background(), docID)
	require.NoError(f.t, err)
	return d
}

func assertMismatch(t *testing.T, resp WopiResponse, current, reason string) {
	t.Helper()
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.True(t, wopi.HasHeader(resp.Header, wopi.HeaderLock))
	assert.Equal(t, current, resp.Header.Get(wopi.HeaderLock))
	assert.Equal(t, reason, resp.Header.Get(wopi.HeaderLockFailureReason))
}

func TestHandlersCoverEveryKind(t *testing.T) {
	assert.Nil(t, handlers[wopi.None])
	for k := wopi.None + 1; k < wopi.KindCount; k++ {
		assert.NotNil(t, handlers[k], k.String())
	}
}

func TestDispatch_NotImplemented(t *testing.T) {
	f := newFixture(t)
	for _, kind := range []wopi.Kind{wopi.None, wopi.Kind(-1), wopi.KindCount} {
		assert.Equal(t, http.StatusNotImplemented, f.call(kind, nil).Status)
	}

	req := f.request(wopi.None, nil)
	req.ID = ""
	assert.Equal(t, http.StatusNotImplemented, f.service().Dispatch(context.Background(), req).Status)
}

func TestDispatch_UnknownDocument(t *testing.T) {
	f := newFixture(t)
	req := f.request(wopi.CheckFileInfo, nil)
	req.ID = "missing"

	resp := f.service().Dispatch(context.Background(), req)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "File Unknown/User Unauthorized", string(resp.Body))
}

func TestDispatch_Proof(t *testing.T) {
	f := newFixture(t)

	var got proof.Input
	f.deps.Proof = stubProof{ok: true, got: &got}
	resp := f.call(wopi.GetFile, nil, wopi.HeaderProof, "p", wopi.HeaderProofOld, "po", wopi.HeaderTimestamp, "42")
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, proof.Input{
		AccessToken: f.token,
		URL:         "https://" + authority + "/wopi/files/" + docID + "?access_token=" + f.token,
		Timestamp:   "42",
		Proof:       "p",
		ProofOld:    "po",
	}, got)

	f.deps.Proof = stubProof{ok: false}
	resp = f.call(wopi.Lock, nil, wopi.HeaderLock, "A")
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "Server Error", string(resp.Body))
	assert.False(t, f.doc().IsLocked(), "rejected request has no effect")

	f.deps.Proof = stubProof{err: errors.New("feed down")}
	assert.Equal(t, http.StatusInternalServerError, f.call(wopi.GetFile, nil).Status)
}

func TestCheckFileInfo(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "secret-lock").Status)

	resp := f.call(wopi.CheckFileInfo, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.NotContains(t, string(resp.Body), "secret-lock")

	var info map[string]any
	require.NoError(t, json.Unmarshal(resp.Body, &info))
	assert.Equal(t, "Plan.docx", info["BaseFileName"])
	assert.Equal(t, owner, info["OwnerId"])
	assert.Equal(t, owner, info["UserId"])
	assert.EqualValues(t, 5, info["Size"])
	assert.EqualValues(t, 1, info["Version"])
	assert.Equal(t, "https://"+authority, info["CloseUrl"])
	assert.Equal(t, "https://word.example.com/wv/view.aspx?ui=1033&WOPISrc=https://wopi.contoso.com/wopi/files/doc-1", info["HostViewUrl"])
	assert.Equal(t, "https://word.example.com/we/edit.aspx?rs=1033&WOPISrc=https://wopi.contoso.com/wopi/files/doc-1", info["HostEditUrl"])
	assert.Equal(t, true, info["SupportsLocks"])
	assert.Equal(t, true, info["SupportsRename"])
	assert.Equal(t, false, info["SupportsFolders"])
	assert.Equal(t, true, info["UserCanWrite"])
	assert.Len(t, info["Actions"], 2)
}

func TestCheckFileInfo_DiscoveryFailure(t *testing.T) {
	f := newFixture(t)
	f.deps.Actions = stubActions{err: errors.New("feed down")}

	resp := f.call(wopi.CheckFileInfo, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.NotContains(t, string(resp.Body), "feed down")
}

func TestGetFile(t *testing.T) {
	f := newFixture(t)

	resp := f.call(wopi.GetFile, nil)
	require.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, []byte("hello"), resp.Body)
	assert.Equal(t, "1", resp.Header.Get(wopi.HeaderItemVersion))
}

func TestGetFile_StorageFailure(t *testing.T) {
	f := newFixture(t)
	mStore := new(storeMocks.MockStorage)
	mStore.On("Read", mock.Anything, docID, container).Return(nil, errors.New("disk on fire"))
	f.deps.Store = mStore

	resp := f.call(wopi.GetFile, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, "Server Error", string(resp.Body))

	mStore.ExpectedCalls = nil
	mStore.On("Read", mock.Anything, docID, container).Return(nil, storage.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, f.call(wopi.GetFile, nil).Status)
}

func TestLock_Exclusivity(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	d := f.doc()
	assert.Equal(t, "A", d.LockValue)
	assert.Equal(t, t0.Add(LockDuration), *d.LockExpires)

	resp := f.call(wopi.Lock, nil, wopi.HeaderLock, "B")
	assertMismatch(t, resp, "A", "File already locked by A")
	assert.Equal(t, "A", f.doc().LockValue)

	f.clk.Advance(10 * time.Minute)
	assert.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status, "same token refreshes")
	assert.Equal(t, t0.Add(10*time.Minute+LockDuration), *f.doc().LockExpires)
}

func TestLock_MissingHeader(t *testing.T) {
	f := newFixture(t)
	for _, kind := range []wopi.Kind{wopi.Lock, wopi.RefreshLock, wopi.Unlock, wopi.UnlockAndRelock} {
		assert.Equal(t, http.StatusBadRequest, f.call(kind, nil).Status, kind.String())
	}
}

func TestLock_AfterExpiryByOtherToken(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)

	f.clk.Advance(LockDuration + time.Second)
	assert.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "B").Status)
	assert.Equal(t, "B", f.doc().LockValue)
}

func TestLock_ExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)

	f.clk.Advance(LockDuration)
	assertMismatch(t, f.call(wopi.Lock, nil, wopi.HeaderLock, "B"), "A", "File already locked by A")
}

func TestGetLock(t *testing.T) {
	f := newFixture(t)

	resp := f.call(wopi.GetLock, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, wopi.HasHeader(resp.Header, wopi.HeaderLock))
	assert.Empty(t, resp.Header.Get(wopi.HeaderLock))

	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	resp = f.call(wopi.GetLock, nil)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "A", resp.Header.Get(wopi.HeaderLock))
}

func TestGetLock_LazyExpiryEquivalence(t *testing.T) {
	never := newFixture(t)
	fresh := never.call(wopi.GetLock, nil)

	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	f.clk.Advance(31 * time.Minute)
	expired := f.call(wopi.GetLock, nil)

	assert.Equal(t, fresh, expired)
	d := f.doc()
	assert.Empty(t, d.LockValue)
	assert.Nil(t, d.LockExpires, "the clear is persisted")
}

func TestRefreshLock(t *testing.T) {
	f := newFixture(t)

	assertMismatch(t, f.call(wopi.RefreshLock, nil, wopi.HeaderLock, "A"), "", "File isn't locked")

	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	assertMismatch(t, f.call(wopi.RefreshLock, nil, wopi.HeaderLock, "B"), "A", "Lock mismatch")

	f.clk.Advance(20 * time.Minute)
	assert.Equal(t, http.StatusOK, f.call(wopi.RefreshLock, nil, wopi.HeaderLock, "A").Status)
	assert.Equal(t, t0.Add(20*time.Minute+LockDuration), *f.doc().LockExpires)

	f.clk.Advance(LockDuration + time.Minute)
	assertMismatch(t, f.call(wopi.RefreshLock, nil, wopi.HeaderLock, "A"), "", "File isn't locked")
	assert.False(t, f.doc().IsLocked())
}

func TestUnlock(t *testing.T) {
	f := newFixture(t)

	assertMismatch(t, f.call(wopi.Unlock, nil, wopi.HeaderLock, "A"), "", "File isn't locked")

	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	assertMismatch(t, f.call(wopi.Unlock, nil, wopi.HeaderLock, "B"), "A", "Lock mismatch")

	assert.Equal(t, http.StatusOK, f.call(wopi.Unlock, nil, wopi.HeaderLock, "A").Status)
	d := f.doc()
	assert.False(t, d.IsLocked())
	assert.Nil(t, d.LockExpires)
}

func TestUnlockAndRelock(t *testing.T) {
	f := newFixture(t)

	assertMismatch(t, f.call(wopi.UnlockAndRelock, nil, wopi.HeaderLock, "B", wopi.HeaderOldLock, "A"), "", "File isn't locked")

	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	assertMismatch(t, f.call(wopi.UnlockAndRelock, nil, wopi.HeaderLock, "C", wopi.HeaderOldLock, "X"), "A", "Lock mismatch")

	f.clk.Advance(5 * time.Minute)
	assert.Equal(t, http.StatusOK, f.call(wopi.UnlockAndRelock, nil, wopi.HeaderLock, "B", wopi.HeaderOldLock, "A").Status)
	d := f.doc()
	assert.Equal(t, "B", d.LockValue)
	assert.Equal(t, t0.Add(5*time.Minute+LockDuration), *d.LockExpires)
}

func TestPutFile(t *testing.T) {
	ctx := context.Background()

	t.Run("zero-length body on unlocked document creates", func(t *testing.T) {
		f := newFixture(t)
		resp := f.call(wopi.PutFile, nil, wopi.HeaderLock, "whatever")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "2", resp.Header.Get(wopi.HeaderItemVersion))

		d := f.doc()
		assert.Equal(t, 2, d.Version)
		assert.EqualValues(t, 0, d.Size)
		data, err := f.store.Read(ctx, docID, container)
		require.NoError(t, err)
		assert.Empty(t, data)
	})

	t.Run("content on unlocked document is rejected", func(t *testing.T) {
		f := newFixture(t)
		assertMismatch(t, f.call(wopi.PutFile, []byte("new")), "", "File isn't locked")
		assert.Equal(t, 1, f.doc().Version)
	})

	t.Run("lock mismatch", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		assertMismatch(t, f.call(wopi.PutFile, []byte("new"), wopi.HeaderLock, "B"), "A", "Lock mismatch")

		data, err := f.store.Read(ctx, docID, container)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data, "content untouched")
	})

	t.Run("matching lock writes", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)

		resp := f.call(wopi.PutFile, []byte("new content"), wopi.HeaderLock, "A")
		assert.Equal(t, http.StatusOK, resp.Status)
		assert.Equal(t, "2", resp.Header.Get(wopi.HeaderItemVersion))

		d := f.doc()
		assert.Equal(t, 2, d.Version)
		assert.EqualValues(t, 11, d.Size)
		assert.Equal(t, "A", d.LockValue)
		data, err := f.store.Read(ctx, docID, container)
		require.NoError(t, err)
		assert.Equal(t, []byte("new content"), data)
	})

	t.Run("expired lock behaves as unlocked", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		f.clk.Advance(time.Hour)

		assertMismatch(t, f.call(wopi.PutFile, []byte("late"), wopi.HeaderLock, "A"), "", "File isn't locked")
		assert.False(t, f.doc().IsLocked())
		assert.Equal(t, http.StatusOK, f.call(wopi.PutFile, nil).Status)
	})

	t.Run("storage failure", func(t *testing.T) {
		f := newFixture(t)
		mStore := new(storeMocks.MockStorage)
		mStore.On("Read", mock.Anything, docID, container).Return([]byte("hello"), nil)
		mStore.On("Upload", mock.Anything, docID, container, mock.Anything).Return("", errors.New("quota"))
		f.deps.Store = mStore

		assert.Equal(t, http.StatusInternalServerError, f.call(wopi.PutFile, nil).Status)
		assert.Equal(t, 1, f.doc().Version)
	})

	t.Run("previous content unreadable", func(t *testing.T) {
		f := newFixture(t)
		mStore := new(storeMocks.MockStorage)
		mStore.On("Read", mock.Anything, docID, container).Return(nil, errors.New("timeout"))
		f.deps.Store = mStore

		assert.Equal(t, http.StatusInternalServerError, f.call(wopi.PutFile, nil).Status)
		mStore.AssertNotCalled(t, "Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("lost race restores previous content", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		f.deps.Repo = staleRepo{DocumentMemory: f.repo}

		resp := f.call(wopi.PutFile, []byte("clobbered"), wopi.HeaderLock, "A")
		assertMismatch(t, resp, "A", "Document changed concurrently")

		data, err := f.store.Read(ctx, docID, container)
		require.NoError(t, err)
		assert.Equal(t, []byte("hello"), data)
		assert.Equal(t, 1, f.doc().Version)
	})

	t.Run("lost race removes content that did not exist", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.store.Delete(ctx, docID, container)
		require.NoError(t, err)
		f.deps.Repo = staleRepo{DocumentMemory: f.repo}

		assertMismatch(t, f.call(wopi.PutFile, nil), "", "Document changed concurrently")

		_, err = f.store.Read(ctx, docID, container)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("failed rollback still reports the race", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		f.deps.Repo = staleRepo{DocumentMemory: f.repo}
		mStore := new(storeMocks.MockStorage)
		mStore.On("Read", mock.Anything, docID, container).Return([]byte("hello"), nil)
		mStore.On("Upload", mock.Anything, docID, container, []byte("new")).Return(container+"/"+docID, nil)
		mStore.On("Upload", mock.Anything, docID, container, []byte("hello")).Return("", errors.New("offline"))
		f.deps.Store = mStore

		resp := f.call(wopi.PutFile, []byte("new"), wopi.HeaderLock, "A")
		assertMismatch(t, resp, "A", "Document changed concurrently")
		mStore.AssertExpectations(t)
	})
}

func TestPutRelativeFile(t *testing.T) {
	ctx := context.Background()

	t.Run("both modes", func(t *testing.T) {
		f := newFixture(t)
		resp := f.call(wopi.PutRelativeFile, []byte("x"), wopi.HeaderRelativeTarget, "a.docx", wopi.HeaderSuggestedTarget, ".docx")
		assert.Equal(t, http.StatusNotImplemented, resp.Status)
	})

	t.Run("no mode", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusBadRequest, f.call(wopi.PutRelativeFile, []byte("x")).Status)
	})

	t.Run("relative target", func(t *testing.T) {
		f := newFixture(t)
		resp := f.call(wopi.PutRelativeFile, []byte("copy"), wopi.HeaderRelativeTarget, "Copy of Plan.docx")
		require.Equal(t, http.StatusOK, resp.Status)

		var res struct {
			Name        string
			Url         string
			HostViewUrl string
			HostEditUrl string
		}
		require.NoError(t, json.Unmarshal(resp.Body, &res))
		assert.Equal(t, "Copy of Plan.docx", res.Name)

		u, err := url.Parse(res.Url)
		require.NoError(t, err)
		assert.Equal(t, authority, u.Host)
		newID := strings.TrimPrefix(u.Path, "/wopi/files/")
		assert.NotEqual(t, docID, newID)
		assert.True(t, f.tokens.Validate(u.Query().Get("access_token"), container, newID))
		assert.Contains(t, res.HostViewUrl, "WOPISrc=https://wopi.contoso.com/wopi/files/"+newID)
		assert.Contains(t, res.HostEditUrl, "WOPISrc=https://wopi.contoso.com/wopi/files/"+newID)

		created, err := f.repo.FindByID(ctx, newID)
		require.NoError(t, err)
		assert.Equal(t, owner, created.OwnerID)
		assert.Equal(t, container, created.Container)
		assert.Equal(t, 1, created.Version)
		assert.EqualValues(t, 4, created.Size)
		assert.False(t, created.IsLocked())

		data, err := f.store.Read(ctx, newID, container)
		require.NoError(t, err)
		assert.Equal(t, []byte("copy"), data)
	})

	t.Run("suggested extension", func(t *testing.T) {
		f := newFixture(t)
		resp := f.call(wopi.PutRelativeFile, []byte("pdf"), wopi.HeaderSuggestedTarget, ".pdf")
		require.Equal(t, http.StatusOK, resp.Status)

		var res map[string]string
		require.NoError(t, json.Unmarshal(resp.Body, &res))
		assert.Equal(t, "Plan.pdf", res["Name"])
		_, hasView := res["HostViewUrl"]
		assert.False(t, hasView, "no discovery action for pdf")
	})

	t.Run("suggested full name", func(t *testing.T) {
		f := newFixture(t)
		resp := f.call(wopi.PutRelativeFile, []byte("n"), wopi.HeaderSuggestedTarget, "notes.docx")
		require.Equal(t, http.StatusOK, resp.Status)

		var res map[string]string
		require.NoError(t, json.Unmarshal(resp.Body, &res))
		assert.Equal(t, "notes.docx", res["Name"])
	})

	t.Run("metadata failure rolls back content", func(t *testing.T) {
		f := newFixture(t)
		mStore := new(storeMocks.MockStorage)
		var uploadedID string
		mStore.On("Upload", mock.Anything, mock.AnythingOfType("string"), container, []byte("x")).
			Run(func(args mock.Arguments) { uploadedID = args.String(1) }).
			Return("loc", nil)
		mStore.On("Delete", mock.Anything, mock.AnythingOfType("string"), container).Return(true, nil)
		f.deps.Store = mStore

		failing := &createFailRepo{DocumentMemory: f.repo}
		f.deps.Repo = failing

		resp := f.call(wopi.PutRelativeFile, []byte("x"), wopi.HeaderRelativeTarget, "a.docx")
		assert.Equal(t, http.StatusInternalServerError, resp.Status)
		mStore.AssertCalled(t, "Delete", mock.Anything, uploadedID, container)
	})
}

type createFailRepo struct {
	*memory.DocumentMemory
}

func (*createFailRepo) Create(context.Context, *model.Document) (*model.Document, error) {
	return nil, errors.New("insert failed")
}

func TestSuggestedName(t *testing.T) {
	tests := []struct {
		base, suggested, want string
	}{
		{"Plan.docx", ".pdf", "Plan.pdf"},
		{"Plan.v2.docx", ".xlsx", "Plan.v2.xlsx"},
		{"README", ".md", "README.md"},
		{"Plan.docx", "Other.docx", "Other.docx"},
		// Only a leading dot marks an extension; a bare extension without it is a full name.
		{"Plan.docx", "pdf", "pdf"},
		{"Plan.docx", "", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuggestedName(tt.base, tt.suggested), tt.base+" + "+tt.suggested)
	}
}

func TestRenameFile(t *testing.T) {
	t.Run("missing requested name", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, http.StatusBadRequest, f.call(wopi.RenameFile, nil, wopi.HeaderLock, "A").Status)
	})

	t.Run("round trip with lock", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		before := f.doc()

		f.clk.Advance(10 * time.Minute)
		resp := f.call(wopi.RenameFile, nil, wopi.HeaderLock, "A", wopi.HeaderRequestedName, "Budget")
		require.Equal(t, http.StatusOK, resp.Status)
		assert.JSONEq(t, `{"Name":"Budget"}`, string(resp.Body))

		after := f.doc()
		assert.Equal(t, "Budget", after.BaseFileName)
		assert.Equal(t, before.ID, after.ID)
		assert.Equal(t, before.OwnerID, after.OwnerID)
		assert.Equal(t, before.Container, after.Container)
		assert.Equal(t, before.Version, after.Version)
		assert.Equal(t, "A", after.LockValue)
		assert.Equal(t, t0.Add(10*time.Minute+LockDuration), *after.LockExpires)
	})

	t.Run("lock mismatch", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
		assertMismatch(t, f.call(wopi.RenameFile, nil, wopi.HeaderLock, "B", wopi.HeaderRequestedName, "X"), "A", "File locked by A")
		assert.Equal(t, "Plan.docx", f.doc().BaseFileName)
	})

	t.Run("unlocked document takes the lock", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.RenameFile, nil, wopi.HeaderLock, "A", wopi.HeaderRequestedName, "X").Status)
		d := f.doc()
		assert.Equal(t, "X", d.BaseFileName)
		assert.Equal(t, "A", d.LockValue)
	})

	t.Run("unlocked document without lock header", func(t *testing.T) {
		f := newFixture(t)
		require.Equal(t, http.StatusOK, f.call(wopi.RenameFile, nil, wopi.HeaderRequestedName, "X").Status)
		d := f.doc()
		assert.Equal(t, "X", d.BaseFileName)
		assert.False(t, d.IsLocked())
	})
}

func TestPutUserInfo(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.call(wopi.PutUserInfo, []byte(`{"theme":"dark"}`)).Status)
	assert.Equal(t, `{"theme":"dark"}`, f.doc().UserInfo)

	var info map[string]any
	require.NoError(t, json.Unmarshal(f.call(wopi.CheckFileInfo, nil).Body, &info))
	assert.Equal(t, `{"theme":"dark"}`, info["UserInfo"])
}

func TestDispatch_ConcurrentUpdate(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.call(wopi.Lock, nil, wopi.HeaderLock, "A").Status)
	f.deps.Repo = staleRepo{DocumentMemory: f.repo}

	resp := f.call(wopi.RefreshLock, nil, wopi.HeaderLock, "A")
	assertMismatch(t, resp, "A", "Document changed concurrently")
}

func TestDispatch_StaleLockView(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	// Two requests read the unlocked record; the first write wins.
	first := f.request(wopi.Lock, nil, wopi.HeaderLock, "A")
	second := f.request(wopi.Lock, nil, wopi.HeaderLock, "B")

	snapshot := f.doc()
	require.Equal(t, http.StatusOK, svc.Dispatch(ctx, first).Status)

	snapshot.SetLock("B", t0.Add(LockDuration))
	assert.ErrorIs(t, f.repo.Update(ctx, snapshot), repository.ErrStaleRecord)

	assertMismatch(t, svc.Dispatch(ctx, second), "A", "File already locked by A")
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	assert.NoError(t, svc.Authorize(ctx, docID, f.token))
	assert.ErrorIs(t, svc.Authorize(ctx, docID, ""), ErrUnauthorized)
	assert.ErrorIs(t, svc.Authorize(ctx, docID, "garbage"), ErrUnauthorized)
	assert.ErrorIs(t, svc.Authorize(ctx, "missing", f.token), ErrNotFound)
	assert.NoError(t, svc.Authorize(ctx, strings.ToUpper(docID), f.token), "ids match regardless of case")

	other, _, err := f.tokens.Issue(owner, container, "doc-2")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.Authorize(ctx, docID, other), ErrUnauthorized)

	f.clk.Advance(token.Lifetime)
	assert.ErrorIs(t, svc.Authorize(ctx, docID, f.token), ErrUnauthorized)
}
