package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"wopihost/internal/clock"
	"wopihost/internal/model"
	"wopihost/internal/repository"
	"wopihost/internal/storage"
	"wopihost/internal/wopi/discovery"
)

var (
	ErrIDRequired       = errors.New("id is required")
	ErrOwnerRequired    = errors.New("owner is required")
	ErrFilenameRequired = errors.New("filename is required")
	ErrNotFound         = errors.New("document not found")
	ErrReaderNil        = errors.New("reader is nil")
	ErrUnknownAction    = errors.New("action is not available for this file type")
)

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// LaunchInfo is what a host page needs to open a document in the editor.
type LaunchInfo struct {
	ActionURL   string `json:"action_url"`
	AccessToken string `json:"access_token"`
	// AccessTokenTTL is the token expiry in milliseconds since the Unix epoch.
	AccessTokenTTL int64 `json:"access_token_ttl"`
}

// DocumentService defines the host-side use cases for an owner's documents.
type DocumentService interface {
	// Upload stores the content in the owner's container, saves metadata to the
	// repository, and rolls back storage if the metadata save fails.
	Upload(ctx context.Context, owner string, r io.Reader, filename string) (*model.Document, error)

	// List returns an owner's documents using limit/offset and a total count.
	List(ctx context.Context, owner string, limit, offset int) (*DocumentListResult, error)

	// Get returns a single document of owner by its ID.
	Get(ctx context.Context, owner, id string) (*model.Document, error)

	// Delete removes the metadata record, then the content.
	Delete(ctx context.Context, owner, id string) error

	// Launch issues an access token for the document and builds the editor URL
	// of the named discovery action.
	Launch(ctx context.Context, owner, id, action, authority string) (*LaunchInfo, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store   storage.Storage
	repo    repository.DocumentRepository
	tokens  TokenService
	actions ActionSource
	clock   clock.Clock
}

// NewDocumentService constructs a new DocumentService. tokens and actions are
// only needed by Launch.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, tokens TokenService, actions ActionSource, clk clock.Clock) DocumentService {
	if clk == nil {
		clk = clock.Real{}
	}
	return &documentService{store: store, repo: repo, tokens: tokens, actions: actions, clock: clk}
}

func (s *documentService) Upload(ctx context.Context, owner string, r io.Reader, filename string) (*model.Document, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if r == nil {
		return nil, ErrReaderNil
	}
	name := filepath.Base(filepath.ToSlash(strings.TrimSpace(filename)))
	if name == "" || name == "." || name == "/" {
		return nil, ErrFilenameRequired
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	doc := &model.Document{
		ID:           uuid.New().String(),
		OwnerID:      owner,
		Container:    model.ContainerForOwner(owner),
		BaseFileName: name,
		Size:         int64(len(data)),
		Version:      1,
		CreatedAt:    s.clock.Now(),
	}

	// Upload to object storage
	if _, err := s.store.Upload(ctx, doc.ID, doc.Container, data); err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: delete the object from storage
		if _, delErr := s.store.Delete(ctx, doc.ID, doc.Container); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}
	return stored, nil
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, owner string, limit, offset int) (*DocumentListResult, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	res, err := s.repo.ListByOwner(ctx, owner, repository.PageQuery{Limit: limit, Offset: offset})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a document by ID. Documents of other owners are reported as
// not found.
func (s *documentService) Get(ctx context.Context, owner, id string) (*model.Document, error) {
	if owner == "" {
		return nil, ErrOwnerRequired
	}
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if doc.OwnerID != owner {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Delete removes the record first so the editor can no longer reach the
// document, then its content.
func (s *documentService) Delete(ctx context.Context, owner, id string) error {
	doc, err := s.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, doc.ID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if _, err := s.store.Delete(ctx, doc.ID, doc.Container); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	return nil
}

func (s *documentService) Launch(ctx context.Context, owner, id, action, authority string) (*LaunchInfo, error) {
	doc, err := s.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if action == "" {
		action = "view"
	}

	actions, err := s.actions.Actions(ctx)
	if err != nil {
		return nil, fmt.Errorf("discovery actions: %w", err)
	}
	a, ok := discovery.FindAction(actions, doc.Extension(), action)
	if !ok {
		return nil, ErrUnknownAction
	}

	token, exp, err := s.tokens.Issue(owner, doc.Container, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &LaunchInfo{
		ActionURL:      discovery.ActionURL(a, doc.ID, authority),
		AccessToken:    token,
		AccessTokenTTL: exp.UnixMilli(),
	}, nil
}
