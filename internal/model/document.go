package model

import (
	"strings"
	"time"
)

// Document is the metadata record of a file exposed to the editor.
// This is a pure domain model with no database-specific dependencies or tags.
//
// LockValue and LockExpires are either both set or both empty; use SetLock and
// ClearLock rather than assigning them directly.
type Document struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Container    string     `json:"container"`
	BaseFileName string     `json:"base_file_name"`
	Size         int64      `json:"size"`
	Version      int        `json:"version"`
	UserInfo     string     `json:"user_info,omitempty"`
	LockValue    string     `json:"-"`
	LockExpires  *time.Time `json:"-"`
	// Revision is the optimistic concurrency counter maintained by the repository.
	Revision  int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// IsLocked reports whether the record carries a lock, expired or not.
func (d *Document) IsLocked() bool {
	return d.LockValue != ""
}

// LockExpired reports whether the record holds a lock whose expiry is before now.
func (d *Document) LockExpired(now time.Time) bool {
	return d.IsLocked() && d.LockExpires != nil && d.LockExpires.Before(now)
}

// SetLock stores token as the active lock until expires.
func (d *Document) SetLock(token string, expires time.Time) {
	d.LockValue = token
	d.LockExpires = &expires
}

// ClearLock removes the lock.
func (d *Document) ClearLock() {
	d.LockValue = ""
	d.LockExpires = nil
}

// Extension returns the lower-cased file extension without the dot, used for
// discovery action lookup. A name without a dot is returned whole.
func (d *Document) Extension() string {
	return FileExtension(d.BaseFileName)
}

// FileExtension is Extension for a bare file name.
func FileExtension(name string) string {
	return strings.ToLower(name[strings.LastIndex(name, ".")+1:])
}

// ContainerForOwner derives the storage container name of an owner identity.
func ContainerForOwner(owner string) string {
	return strings.NewReplacer("@", "-", ".", "-").Replace(strings.ToLower(owner))
}
