// Package core implements the on-disk chunk pipeline: path addressing,
// the Split/Cat sink and source, the fragment reorder queue, and the
// filesystem watcher that drives the Freeze and Restore orchestrators.
package core

import (
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Queue is one of the four lifecycle directories under the spool root.
type Queue int

const (
	// QueueBackup holds a backup's chunks while they are being written.
	QueueBackup Queue = iota
	// QueueFreeze holds chunks hard-linked from backup, awaiting upload.
	QueueFreeze
	// QueueThaw holds chunks downloaded from cold storage, awaiting restore.
	QueueThaw
	// QueueRestore holds chunks hard-linked from thaw, awaiting reassembly
	// into the output stream by Restore.
	QueueRestore
)

// String returns the lowercase directory name for q.
func (q Queue) String() string {
	switch q {
	case QueueBackup:
		return "backup"
	case QueueFreeze:
		return "freeze"
	case QueueThaw:
		return "thaw"
	case QueueRestore:
		return "restore"
	default:
		return "unknown"
	}
}

// BackupId identifies a single backup within a vault: a UUID-named
// container, an optional canonicalized relative-path prefix grouping
// related backups, and an optional ULID naming this specific backup.
type BackupId struct {
	Vault   uuid.UUID
	Prefix  string
	Ulid    ulid.ULID
	hasUlid bool
}

// NewBackupId constructs a BackupId with all three components.
func NewBackupId(vault uuid.UUID, prefix string, id ulid.ULID) BackupId {
	return BackupId{Vault: vault, Prefix: canonicalRelativePath(prefix), Ulid: id, hasUlid: true}
}

// NewBackupIdWithoutUlid constructs a BackupId naming only a vault and
// prefix, used when walking a queue directory to discover existing ids.
func NewBackupIdWithoutUlid(vault uuid.UUID, prefix string) BackupId {
	return BackupId{Vault: vault, Prefix: canonicalRelativePath(prefix), hasUlid: false}
}

// HasUlid reports whether this BackupId names a specific backup (true) or
// only a vault/prefix grouping (false).
func (b BackupId) HasUlid() bool {
	return b.hasUlid
}

// canonicalRelativePath produces a platform-neutral relative path from an
// arbitrary input path: "normal" components are kept in order, "current"
// (".") components are dropped, "parent" (i.e. "..") components pop the
// last kept component (never rising above the accumulator), and any
// absolute root or volume-name prefix is dropped outright.
//
// This intentionally does not use filepath.Clean, whose semantics differ:
// Clean preserves a leading ".." it cannot resolve, while this function
// silently drops it (there is nothing above an empty accumulator to pop).
func canonicalRelativePath(p string) string {
	if p == "" {
		return ""
	}

	// Strip a Windows volume name ("C:") if present; filepath.VolumeName
	// is a no-op on non-Windows inputs.
	p = p[len(filepath.VolumeName(p)):]

	parts := strings.Split(filepath.ToSlash(p), "/")
	kept := make([]string, 0, len(parts))

	for _, part := range parts {
		switch part {
		case "", ".":
			// root marker or current-dir: drop
			continue
		case "..":
			if len(kept) > 0 {
				kept = kept[:len(kept)-1]
			}
		default:
			kept = append(kept, part)
		}
	}

	return filepath.Join(kept...)
}

// ToPathBuf returns the filesystem-relative path for this id:
// <vault>/<canonical-prefix>/<ulid>, with an empty canonical prefix
// collapsing to <vault>/<ulid>. Pure, no I/O.
func (b BackupId) ToPathBuf() string {
	elems := []string{b.Vault.String()}
	if b.Prefix != "" {
		elems = append(elems, b.Prefix)
	}
	if b.hasUlid {
		elems = append(elems, b.Ulid.String())
	}
	return filepath.Join(elems...)
}

// ToVaultKey returns the delimited object-store key form of this id,
// substituting delimiter for the path separators within the prefix and
// between prefix and ulid: <prefix-with-delimiter><delim><ulid>. The
// scheme and vault are not included; StorageURI adds them.
func (b BackupId) ToVaultKey(delimiter rune) string {
	var sb strings.Builder
	if b.Prefix != "" {
		sb.WriteString(strings.ReplaceAll(b.Prefix, "/", string(delimiter)))
		if b.hasUlid {
			sb.WriteRune(delimiter)
		}
	}
	if b.hasUlid {
		sb.WriteString(b.Ulid.String())
	}
	return sb.String()
}

// StorageURI returns the s3://<vault>/<prefix>/<ulid> form described in
// spec.md §6, using '/' as the delimiter.
func (b BackupId) StorageURI() string {
	key := b.ToVaultKey('/')
	if key == "" {
		return "s3://" + b.Vault.String()
	}
	return "s3://" + b.Vault.String() + "/" + key
}

// Equal reports whether two BackupIds are equal after canonicalization.
func (b BackupId) Equal(other BackupId) bool {
	return b.Vault == other.Vault && b.Prefix == other.Prefix && b.hasUlid == other.hasUlid && (!b.hasUlid || b.Ulid == other.Ulid)
}
