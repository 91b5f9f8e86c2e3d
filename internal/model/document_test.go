package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocument_LockHelpers(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	d := &Document{}

	assert.False(t, d.IsLocked())
	assert.False(t, d.LockExpired(now))

	d.SetLock("L1", now.Add(30*time.Minute))
	assert.True(t, d.IsLocked())
	assert.False(t, d.LockExpired(now))
	assert.True(t, d.LockExpired(now.Add(31*time.Minute)))

	d.ClearLock()
	assert.Empty(t, d.LockValue)
	assert.Nil(t, d.LockExpires)
}

func TestFileExtension(t *testing.T) {
	tests := map[string]string{
		"Report.DOCX":    "docx",
		"archive.tar.gz": "gz",
		"README":         "readme",
		"trailing.":      "",
	}
	for name, want := range tests {
		assert.Equal(t, want, FileExtension(name), name)
	}
}

func TestContainerForOwner(t *testing.T) {
	assert.Equal(t, "jane-doe-contoso-com", ContainerForOwner("Jane.Doe@contoso.com"))
}
