package notebook

import (
	"github.com/starford/nbkeep/internal/hotexit"
	"github.com/starford/nbkeep/internal/models"
)

type dirtyMode int

const (
	useDefaultKey dirtyMode = iota
	useBackupID
	skipDirty
)

// DirtyPolicy says whether Load recovers uncommitted content and under which
// storage key. The zero value recovers from the default key.
type DirtyPolicy struct {
	mode     dirtyMode
	backupID string
}

// UseDefaultKey recovers dirty content stored under the document's default key.
func UseDefaultKey() DirtyPolicy { return DirtyPolicy{} }

// UseBackupID recovers dirty content stored under a host-supplied backup id.
// An empty id falls back to the default key.
func UseBackupID(id string) DirtyPolicy {
	if id == "" {
		return DirtyPolicy{}
	}
	return DirtyPolicy{mode: useBackupID, backupID: id}
}

// SkipDirty loads the on-disk content and discards the default-key backup.
func SkipDirty() DirtyPolicy { return DirtyPolicy{mode: skipDirty} }

// Skip reports whether dirty-content recovery is disabled.
func (p DirtyPolicy) Skip() bool { return p.mode == skipDirty }

// Key returns the storage key the policy refers to for uri.
func (p DirtyPolicy) Key(uri models.URI) string {
	if p.mode == useBackupID {
		return p.backupID
	}
	return hotexit.StorageKey(uri)
}

// LoadOptions configures Load.
type LoadOptions struct {
	// PossibleContents is used verbatim for documents that cannot be read
	// from disk (untitled and non-file schemes).
	PossibleContents *string
	Dirty            DirtyPolicy
}
