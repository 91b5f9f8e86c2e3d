package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"wopihost/internal/model"
	"wopihost/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const selectColumns = `id, owner_id, container, base_file_name, size, version, user_info,
		lock_value, lock_expires, revision, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d           model.Document
		lockValue   sql.NullString
		lockExpires sql.NullTime
	)
	if err := row.Scan(
		&d.ID,
		&d.OwnerID,
		&d.Container,
		&d.BaseFileName,
		&d.Size,
		&d.Version,
		&d.UserInfo,
		&lockValue,
		&lockExpires,
		&d.Revision,
		&d.CreatedAt,
	); err != nil {
		return nil, err
	}
	if lockValue.Valid && lockValue.String != "" && lockExpires.Valid {
		d.SetLock(lockValue.String, lockExpires.Time.UTC())
	}
	return &d, nil
}

func lockColumns(doc *model.Document) (sql.NullString, sql.NullTime) {
	if !doc.IsLocked() || doc.LockExpires == nil {
		return sql.NullString{}, sql.NullTime{}
	}
	return sql.NullString{String: doc.LockValue, Valid: true},
		sql.NullTime{Time: doc.LockExpires.UTC(), Valid: true}
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO wopi_files (id, owner_id, container, base_file_name, size, version, user_info,
			lock_value, lock_expires, revision, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		RETURNING ` + selectColumns
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	lockValue, lockExpires := lockColumns(doc)
	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.OwnerID,
		doc.Container,
		doc.BaseFileName,
		doc.Size,
		doc.Version,
		doc.UserInfo,
		lockValue,
		lockExpires,
		createdAt,
	)
	return scanDocument(row)
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `SELECT ` + selectColumns + ` FROM wopi_files WHERE id = $1`
	d, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

// ListByOwner returns an owner's documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) ListByOwner(ctx context.Context, owner string, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	const qCount = `SELECT COUNT(*) FROM wopi_files WHERE owner_id = $1`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, owner).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `SELECT ` + selectColumns + `
		FROM wopi_files
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, qList, owner, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// Update performs a compare-and-swap on the revision column.
func (r *DocumentPostgres) Update(ctx context.Context, doc *model.Document) error {
	const q = `
		UPDATE wopi_files
		SET base_file_name = $3, size = $4, version = $5, user_info = $6,
			lock_value = $7, lock_expires = $8, revision = revision + 1
		WHERE id = $1 AND revision = $2`
	lockValue, lockExpires := lockColumns(doc)
	res, err := r.db.ExecContext(ctx, q,
		doc.ID,
		doc.Revision,
		doc.BaseFileName,
		doc.Size,
		doc.Version,
		doc.UserInfo,
		lockValue,
		lockExpires,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM wopi_files WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return repository.ErrNotFound
		}
		return repository.ErrStaleRecord
	}
	doc.Revision++
	return nil
}

// Delete removes a document by ID. It does not return an error if the row does not exist.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM wopi_files WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}
