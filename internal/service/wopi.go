package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wopihost/internal/clock"
	"wopihost/internal/model"
	"wopihost/internal/repository"
	"wopihost/internal/storage"
	"wopihost/internal/wopi"
	"wopihost/internal/wopi/discovery"
	"wopihost/internal/wopi/proof"
)

// LockDuration is how long a lock lives without a refresh.
const LockDuration = 30 * time.Minute

var ErrUnauthorized = errors.New("access token rejected")

const (
	reasonNotLocked  = "File isn't locked"
	reasonMismatch   = "Lock mismatch"
	reasonConcurrent = "Document changed concurrently"
)

// TokenService issues and checks access tokens.
type TokenService interface {
	Issue(user, container, docID string) (string, time.Time, error)
	Validate(token, container, docID string) bool
	ExtractUser(token string) string
}

// ActionSource lists the editor actions published by discovery.
type ActionSource interface {
	Actions(ctx context.Context) ([]discovery.Action, error)
}

// ProofVerifier checks the editor's request signature.
type ProofVerifier interface {
	Verify(ctx context.Context, in proof.Input) (bool, error)
}

// WopiRequest is one classified protocol call with everything the handlers read.
type WopiRequest struct {
	wopi.Descriptor
	Header http.Header
	Body   []byte
	// URL is the absolute request URL the editor signed.
	URL string
	// Authority is the public host[:port] of this server.
	Authority string
}

// WopiResponse is the protocol answer. Dispatch never fails; every outcome,
// including internal errors, is a status code.
type WopiResponse struct {
	Status      int
	Header      http.Header
	ContentType string
	Body        []byte
}

// WopiService is the WOPI protocol engine.
type WopiService interface {
	// Authorize checks that token grants access to document id. It returns
	// ErrNotFound for an unknown document and ErrUnauthorized for a bad token.
	Authorize(ctx context.Context, id, token string) error

	// Dispatch runs the handler for req.Kind against the stored document.
	Dispatch(ctx context.Context, req WopiRequest) WopiResponse
}

// WopiDeps are the collaborators of the protocol engine. Proof may be nil to
// disable proof verification.
type WopiDeps struct {
	Repo    repository.DocumentRepository
	Store   storage.Storage
	Tokens  TokenService
	Actions ActionSource
	Proof   ProofVerifier
	Clock   clock.Clock
	Logger  *slog.Logger
}

type wopiService struct {
	repo    repository.DocumentRepository
	store   storage.Storage
	tokens  TokenService
	actions ActionSource
	proof   ProofVerifier
	clock   clock.Clock
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewWopiService(d WopiDeps) WopiService {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &wopiService{
		repo:    d.Repo,
		store:   d.Store,
		tokens:  d.Tokens,
		actions: d.Actions,
		proof:   d.Proof,
		clock:   d.Clock,
		log:     d.Logger,
		tracer:  otel.Tracer("wopihost/internal/service"),
	}
}

// wopiCall carries one request through its handler.
type wopiCall struct {
	req WopiRequest
	doc *model.Document
	now time.Time
}

type wopiHandler func(s *wopiService, ctx context.Context, call *wopiCall) (WopiResponse, error)

// handlers is indexed by kind; None has no entry.
var handlers = [wopi.KindCount]wopiHandler{
	wopi.CheckFileInfo:   (*wopiService).checkFileInfo,
	wopi.GetFile:         (*wopiService).getFile,
	wopi.Lock:            (*wopiService).lock,
	wopi.GetLock:         (*wopiService).getLock,
	wopi.RefreshLock:     (*wopiService).refreshLock,
	wopi.Unlock:          (*wopiService).unlock,
	wopi.UnlockAndRelock: (*wopiService).unlockAndRelock,
	wopi.PutFile:         (*wopiService).putFile,
	wopi.PutRelativeFile: (*wopiService).putRelativeFile,
	wopi.RenameFile:      (*wopiService).renameFile,
	wopi.PutUserInfo:     (*wopiService).putUserInfo,
}

// Authorize checks token against the document it addresses. Ids are matched
// case-insensitively, the same way Classify reports them to Dispatch.
func (s *wopiService) Authorize(ctx context.Context, id, token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	doc, err := s.repo.FindByID(ctx, strings.ToLower(id))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("load document: %w", err)
	}
	if !s.tokens.Validate(token, doc.Container, doc.ID) {
		return ErrUnauthorized
	}
	return nil
}

func (s *wopiService) Dispatch(ctx context.Context, req WopiRequest) WopiResponse {
	ctx, span := s.tracer.Start(ctx, "wopi."+req.Kind.String(), trace.WithAttributes(
		attribute.String("wopi.kind", req.Kind.String()),
		attribute.String("wopi.file_id", req.ID),
	))
	defer span.End()

	resp := s.dispatch(ctx, req)
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	if resp.Status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(resp.Status))
	}
	return resp
}

func (s *wopiService) dispatch(ctx context.Context, req WopiRequest) WopiResponse {
	var handle wopiHandler
	if req.Kind > wopi.None && req.Kind < wopi.KindCount {
		handle = handlers[req.Kind]
	}
	if handle == nil {
		return status(http.StatusNotImplemented)
	}

	log := s.log.With(slog.String("kind", req.Kind.String()), slog.String("file_id", req.ID))

	doc, err := s.repo.FindByID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return text(http.StatusNotFound, "File Unknown/User Unauthorized")
		}
		log.ErrorContext(ctx, "load document failed", slog.Any("error", err))
		return serverError()
	}

	if s.proof != nil {
		ok, err := s.proof.Verify(ctx, proof.Input{
			AccessToken: req.AccessToken,
			URL:         req.URL,
			Timestamp:   req.Header.Get(wopi.HeaderTimestamp),
			Proof:       req.Header.Get(wopi.HeaderProof),
			ProofOld:    req.Header.Get(wopi.HeaderProofOld),
		})
		if err != nil {
			log.ErrorContext(ctx, "proof keys unavailable", slog.Any("error", err))
			return serverError()
		}
		if !ok {
			log.WarnContext(ctx, "proof verification failed")
			return serverError()
		}
	}

	call := &wopiCall{req: req, doc: doc, now: s.clock.Now()}
	resp, err := handle(s, ctx, call)
	if err != nil {
		if errors.Is(err, repository.ErrStaleRecord) {
			log.InfoContext(ctx, "concurrent document update", slog.Any("error", err))
			return s.concurrentMismatch(ctx, req.ID)
		}
		log.ErrorContext(ctx, "wopi handler failed", slog.Any("error", err))
		return serverError()
	}
	return resp
}

// concurrentMismatch answers a lost optimistic-concurrency race with the lock
// the winner left behind.
func (s *wopiService) concurrentMismatch(ctx context.Context, id string) WopiResponse {
	current := ""
	if doc, err := s.repo.FindByID(ctx, id); err == nil && !doc.LockExpired(s.clock.Now()) {
		current = doc.LockValue
	}
	return lockMismatch(current, reasonConcurrent)
}

// expireLock clears a lock whose expiry has passed and persists the change,
// so the handler sees an unlocked document.
func (s *wopiService) expireLock(ctx context.Context, call *wopiCall) error {
	if !call.doc.LockExpired(call.now) {
		return nil
	}
	call.doc.ClearLock()
	return s.repo.Update(ctx, call.doc)
}

type fileInfo struct {
	BaseFileName                  string             `json:"BaseFileName"`
	OwnerID                       string             `json:"OwnerId"`
	Size                          int64              `json:"Size"`
	Version                       int                `json:"Version"`
	UserID                        string             `json:"UserId"`
	UserInfo                      string             `json:"UserInfo"`
	CloseURL                      string             `json:"CloseUrl"`
	HostViewURL                   string             `json:"HostViewUrl,omitempty"`
	HostEditURL                   string             `json:"HostEditUrl,omitempty"`
	SupportsCoauth                bool               `json:"SupportsCoauth"`
	SupportsExtendedLockLength    bool               `json:"SupportsExtendedLockLength"`
	SupportsFileCreation          bool               `json:"SupportsFileCreation"`
	SupportsFolders               bool               `json:"SupportsFolders"`
	SupportsGetLock               bool               `json:"SupportsGetLock"`
	SupportsLocks                 bool               `json:"SupportsLocks"`
	SupportsRename                bool               `json:"SupportsRename"`
	SupportsScenarioLinks         bool               `json:"SupportsScenarioLinks"`
	SupportsSecureStore           bool               `json:"SupportsSecureStore"`
	SupportsUpdate                bool               `json:"SupportsUpdate"`
	SupportsUserInfo              bool               `json:"SupportsUserInfo"`
	LicensesCheckForEditIsEnabled bool               `json:"LicensesCheckForEditIsEnabled"`
	ReadOnly                      bool               `json:"ReadOnly"`
	RestrictedWebViewOnly         bool               `json:"RestrictedWebViewOnly"`
	UserCanAttend                 bool               `json:"UserCanAttend"`
	UserCanNotWriteRelative       bool               `json:"UserCanNotWriteRelative"`
	UserCanPresent                bool               `json:"UserCanPresent"`
	UserCanRename                 bool               `json:"UserCanRename"`
	UserCanWrite                  bool               `json:"UserCanWrite"`
	WebEditingDisabled            bool               `json:"WebEditingDisabled"`
	Actions                       []discovery.Action `json:"Actions"`
}

func (s *wopiService) checkFileInfo(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	doc := call.doc
	actions, err := s.listActions(ctx)
	if err != nil {
		return WopiResponse{}, err
	}

	info := fileInfo{
		BaseFileName:                  doc.BaseFileName,
		OwnerID:                       doc.OwnerID,
		Size:                          doc.Size,
		Version:                       doc.Version,
		UserID:                        s.tokens.ExtractUser(call.req.AccessToken),
		UserInfo:                      doc.UserInfo,
		CloseURL:                      "https://" + call.req.Authority,
		SupportsGetLock:               true,
		SupportsLocks:                 true,
		SupportsRename:                true,
		SupportsUpdate:                true,
		SupportsUserInfo:              true,
		LicensesCheckForEditIsEnabled: true,
		UserCanRename:                 true,
		UserCanWrite:                  true,
		Actions:                       discovery.ActionsFor(actions, doc.BaseFileName),
	}
	info.HostViewURL, info.HostEditURL = hostURLs(actions, doc, call.req.Authority)
	if info.Actions == nil {
		info.Actions = []discovery.Action{}
	}
	return jsonResponse(info)
}

func (s *wopiService) getFile(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	data, err := s.store.Read(ctx, call.doc.ID, call.doc.Container)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return text(http.StatusNotFound, "File content missing"), nil
		}
		return WopiResponse{}, fmt.Errorf("read content: %w", err)
	}
	resp := WopiResponse{
		Status:      http.StatusOK,
		Header:      http.Header{},
		ContentType: "application/octet-stream",
		Body:        data,
	}
	resp.Header.Set(wopi.HeaderItemVersion, strconv.Itoa(call.doc.Version))
	return resp, nil
}

func (s *wopiService) lock(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	requested := call.req.Header.Get(wopi.HeaderLock)
	if requested == "" {
		return text(http.StatusBadRequest, "X-WOPI-Lock header missing"), nil
	}
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	if doc.IsLocked() && doc.LockValue != requested {
		return lockMismatch(doc.LockValue, "File already locked by "+doc.LockValue), nil
	}
	doc.SetLock(requested, call.now.Add(LockDuration))
	if err := s.repo.Update(ctx, doc); err != nil {
		return WopiResponse{}, err
	}
	return status(http.StatusOK), nil
}

func (s *wopiService) getLock(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}
	resp := status(http.StatusOK)
	resp.Header.Set(wopi.HeaderLock, call.doc.LockValue)
	return resp, nil
}

func (s *wopiService) refreshLock(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	requested := call.req.Header.Get(wopi.HeaderLock)
	if requested == "" {
		return text(http.StatusBadRequest, "X-WOPI-Lock header missing"), nil
	}
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	if !doc.IsLocked() {
		return lockMismatch("", reasonNotLocked), nil
	}
	if doc.LockValue != requested {
		return lockMismatch(doc.LockValue, reasonMismatch), nil
	}
	doc.SetLock(requested, call.now.Add(LockDuration))
	if err := s.repo.Update(ctx, doc); err != nil {
		return WopiResponse{}, err
	}
	return status(http.StatusOK), nil
}

func (s *wopiService) unlock(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	requested := call.req.Header.Get(wopi.HeaderLock)
	if requested == "" {
		return text(http.StatusBadRequest, "X-WOPI-Lock header missing"), nil
	}
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	if !doc.IsLocked() {
		return lockMismatch("", reasonNotLocked), nil
	}
	if doc.LockValue != requested {
		return lockMismatch(doc.LockValue, reasonMismatch), nil
	}
	doc.ClearLock()
	if err := s.repo.Update(ctx, doc); err != nil {
		return WopiResponse{}, err
	}
	return status(http.StatusOK), nil
}

func (s *wopiService) unlockAndRelock(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	requested := call.req.Header.Get(wopi.HeaderLock)
	if requested == "" {
		return text(http.StatusBadRequest, "X-WOPI-Lock header missing"), nil
	}
	old := call.req.Header.Get(wopi.HeaderOldLock)
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	if !doc.IsLocked() {
		return lockMismatch("", reasonNotLocked), nil
	}
	if doc.LockValue != old {
		return lockMismatch(doc.LockValue, reasonMismatch), nil
	}
	doc.SetLock(requested, call.now.Add(LockDuration))
	if err := s.repo.Update(ctx, doc); err != nil {
		return WopiResponse{}, err
	}
	return status(http.StatusOK), nil
}

// putFile replaces the content. An unlocked document only accepts an empty
// body, which is how the editor creates a new file.
func (s *wopiService) putFile(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	switch {
	case !doc.IsLocked() && len(call.req.Body) > 0:
		return lockMismatch("", reasonNotLocked), nil
	case doc.IsLocked() && doc.LockValue != call.req.Header.Get(wopi.HeaderLock):
		return lockMismatch(doc.LockValue, reasonMismatch), nil
	}

	prev, err := s.store.Read(ctx, doc.ID, doc.Container)
	existed := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return WopiResponse{}, fmt.Errorf("read previous content: %w", err)
	}

	if _, err := s.store.Upload(ctx, doc.ID, doc.Container, call.req.Body); err != nil {
		return WopiResponse{}, fmt.Errorf("upload content: %w", err)
	}
	doc.Size = int64(len(call.req.Body))
	doc.Version++
	if err := s.repo.Update(ctx, doc); err != nil {
		// The record still describes the previous content.
		if rbErr := s.restoreContent(ctx, doc, prev, existed); rbErr != nil {
			return WopiResponse{}, fmt.Errorf("%w; rollback content failed: %v", err, rbErr)
		}
		return WopiResponse{}, err
	}

	resp := status(http.StatusOK)
	resp.Header.Set(wopi.HeaderItemVersion, strconv.Itoa(doc.Version))
	return resp, nil
}

func (s *wopiService) restoreContent(ctx context.Context, doc *model.Document, prev []byte, existed bool) error {
	if !existed {
		_, err := s.store.Delete(ctx, doc.ID, doc.Container)
		return err
	}
	_, err := s.store.Upload(ctx, doc.ID, doc.Container, prev)
	return err
}

type putRelativeResult struct {
	Name        string `json:"Name"`
	URL         string `json:"Url"`
	HostViewURL string `json:"HostViewUrl,omitempty"`
	HostEditURL string `json:"HostEditUrl,omitempty"`
}

// putRelativeFile stores the body as a new document next to the current one.
func (s *wopiService) putRelativeFile(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	h := call.req.Header
	hasRelative := wopi.HasHeader(h, wopi.HeaderRelativeTarget)
	hasSuggested := wopi.HasHeader(h, wopi.HeaderSuggestedTarget)

	var name string
	switch {
	case hasRelative && hasSuggested:
		return text(http.StatusNotImplemented, "Both X-WOPI-RelativeTarget and X-WOPI-SuggestedTarget were present"), nil
	case hasRelative:
		name = h.Get(wopi.HeaderRelativeTarget)
	case hasSuggested:
		name = SuggestedName(call.doc.BaseFileName, h.Get(wopi.HeaderSuggestedTarget))
	}
	if name == "" {
		return text(http.StatusBadRequest, "PutRelativeFile mode was not provided in the request"), nil
	}

	src := call.doc
	doc := &model.Document{
		ID:           uuid.NewString(),
		OwnerID:      src.OwnerID,
		Container:    src.Container,
		BaseFileName: name,
		Size:         int64(len(call.req.Body)),
		Version:      1,
		CreatedAt:    call.now,
	}
	if _, err := s.store.Upload(ctx, doc.ID, doc.Container, call.req.Body); err != nil {
		return WopiResponse{}, fmt.Errorf("upload relative file: %w", err)
	}
	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		if _, delErr := s.store.Delete(ctx, doc.ID, doc.Container); delErr != nil {
			return WopiResponse{}, fmt.Errorf("create relative file: %v; rollback delete failed: %v", err, delErr)
		}
		return WopiResponse{}, fmt.Errorf("create relative file: %w", err)
	}

	token, _, err := s.tokens.Issue(stored.OwnerID, stored.Container, stored.ID)
	if err != nil {
		return WopiResponse{}, fmt.Errorf("issue token: %w", err)
	}
	actions, err := s.listActions(ctx)
	if err != nil {
		return WopiResponse{}, err
	}

	res := putRelativeResult{
		Name: stored.BaseFileName,
		URL: fmt.Sprintf("https://%s/wopi/files/%s?%s=%s",
			call.req.Authority, stored.ID, wopi.AccessTokenParam, url.QueryEscape(token)),
	}
	res.HostViewURL, res.HostEditURL = hostURLs(actions, stored, call.req.Authority)
	return jsonResponse(res)
}

// SuggestedName resolves an X-WOPI-SuggestedTarget value. A value starting
// with a dot is an extension and replaces the extension of base; anything
// else is used as the full name.
func SuggestedName(base, suggested string) string {
	if !strings.HasPrefix(suggested, ".") {
		return suggested
	}
	stem := base
	if i := strings.LastIndex(base, "."); i >= 0 {
		stem = base[:i]
	}
	return stem + suggested
}

func (s *wopiService) renameFile(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	h := call.req.Header
	if !wopi.HasHeader(h, wopi.HeaderRequestedName) {
		return text(http.StatusBadRequest, "X-WOPI-RequestedName header wasn't included in request"), nil
	}
	newName := h.Get(wopi.HeaderRequestedName)
	requested := h.Get(wopi.HeaderLock)
	if err := s.expireLock(ctx, call); err != nil {
		return WopiResponse{}, err
	}

	doc := call.doc
	if doc.IsLocked() && doc.LockValue != requested {
		return lockMismatch(doc.LockValue, "File locked by "+doc.LockValue), nil
	}
	if requested != "" {
		doc.SetLock(requested, call.now.Add(LockDuration))
	}
	doc.BaseFileName = newName
	if err := s.repo.Update(ctx, doc); err != nil {
		return WopiResponse{}, err
	}
	return jsonResponse(struct {
		Name string `json:"Name"`
	}{Name: newName})
}

func (s *wopiService) putUserInfo(ctx context.Context, call *wopiCall) (WopiResponse, error) {
	call.doc.UserInfo = string(call.req.Body)
	if err := s.repo.Update(ctx, call.doc); err != nil {
		return WopiResponse{}, err
	}
	return status(http.StatusOK), nil
}

func (s *wopiService) listActions(ctx context.Context) ([]discovery.Action, error) {
	if s.actions == nil {
		return nil, nil
	}
	actions, err := s.actions.Actions(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery actions: %w", err)
	}
	return actions, nil
}

func hostURLs(actions []discovery.Action, doc *model.Document, authority string) (view, edit string) {
	ext := doc.Extension()
	if a, ok := discovery.FindAction(actions, ext, "view"); ok {
		view = discovery.ActionURL(a, doc.ID, authority)
	}
	if a, ok := discovery.FindAction(actions, ext, "edit"); ok {
		edit = discovery.ActionURL(a, doc.ID, authority)
	}
	return view, edit
}

func status(code int) WopiResponse {
	return WopiResponse{Status: code, Header: http.Header{}}
}

func text(code int, msg string) WopiResponse {
	return WopiResponse{Status: code, Header: http.Header{}, ContentType: "text/plain; charset=utf-8", Body: []byte(msg)}
}

func serverError() WopiResponse {
	return text(http.StatusInternalServerError, "Server Error")
}

func lockMismatch(current, reason string) WopiResponse {
	resp := status(http.StatusConflict)
	resp.Header.Set(wopi.HeaderLock, current)
	if reason != "" {
		resp.Header.Set(wopi.HeaderLockFailureReason, reason)
	}
	return resp
}

func jsonResponse(v any) (WopiResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return WopiResponse{}, fmt.Errorf("encode response: %w", err)
	}
	return WopiResponse{
		Status:      http.StatusOK,
		Header:      http.Header{},
		ContentType: "application/json",
		Body:        body,
	}, nil
}
