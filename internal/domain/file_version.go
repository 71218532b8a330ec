package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Location points at where a version's bytes physically live. The engine never
// touches the bytes; the pointer is handed to the external transfer layer.
type Location struct {
	Service    string  `json:"service" db:"location_service"`
	Container  string  `json:"container" db:"location_container"`
	Object     string  `json:"object" db:"location_object"`
	WorkerHost *string `json:"worker_host,omitempty" db:"worker_host"`
}

// Validate rejects locations missing any of the three required keys.
func (l Location) Validate() error {
	if l.Service == "" || l.Container == "" || l.Object == "" {
		return fmt.Errorf("%w: location requires service, container and object", ErrValidation)
	}
	return nil
}

// Hash is the dedup key: the backend object key portion of the location.
func (l Location) Hash() string {
	return l.Object
}

// FileVersion is one immutable uploaded revision of a file node. Once size and
// hashes are set, only the deleted and has_duplicate flags may change.
type FileVersion struct {
	ID      int64     `json:"id" db:"id"`
	NodeID  uuid.UUID `json:"node_id" db:"node_id"`
	Number  int       `json:"number" db:"version_number"`
	Creator string    `json:"creator" db:"creator_id"`
	// ProjectID denormalizes the owning project so recomputes survive node
	// deletion; moves across trees rewrite it.
	ProjectID string `json:"project_id" db:"project_id"`
	Location  `json:"location"`

	SizeBytes    int64      `json:"size_bytes" db:"size_bytes"`
	ContentType  string     `json:"content_type" db:"content_type"`
	Modified     *time.Time `json:"modified,omitempty" db:"content_modified"`
	MD5          *string    `json:"md5,omitempty" db:"md5"`
	SHA256       *string    `json:"sha256,omitempty" db:"sha256"`
	ArchiveKey   *string    `json:"archive_key,omitempty" db:"archive_key"`
	Deleted      bool       `json:"deleted" db:"deleted"`
	HasDuplicate bool       `json:"has_duplicate" db:"has_duplicate"`
	IgnoreSize   bool       `json:"ignore_size" db:"ignore_size"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// SameContent reports whether two versions point at the same backend object.
// Creator-agnostic: this predicate only backs the no-op re-upload short
// circuit against a file's latest version.
func (v *FileVersion) SameContent(other *FileVersion) bool {
	if other == nil {
		return false
	}
	return v.Hash() != "" && v.Hash() == other.Hash()
}

// BillableDuplicateOf reports whether other belongs to v's billing dedup
// group: same creator, same location hash, live and counted. Intentionally
// narrower in creator scope than SameContent.
func (v *FileVersion) BillableDuplicateOf(other *FileVersion) bool {
	if other == nil || other == v {
		return false
	}
	return v.Creator == other.Creator &&
		v.Hash() != "" && v.Hash() == other.Hash() &&
		!other.Deleted && !other.IgnoreSize
}

// ContentHash returns the strongest content hash available, for archive
// pointer dedup across creators.
func (v *FileVersion) ContentHash() string {
	if v.SHA256 != nil && *v.SHA256 != "" {
		return *v.SHA256
	}
	if v.MD5 != nil && *v.MD5 != "" {
		return *v.MD5
	}
	return ""
}

// UsageDelta is the signed contribution of this version to an account's
// storage usage. billablePeers is how many other live, counted versions by
// the same creator share the location hash: when the version is flagged as a
// duplicate and at least one peer still carries the group's size, this copy
// contributes nothing.
func (v *FileVersion) UsageDelta(billablePeers int) int64 {
	if v.IgnoreSize {
		return 0
	}
	if v.HasDuplicate && billablePeers > 0 {
		return 0
	}
	if v.Deleted {
		return -v.SizeBytes
	}
	return v.SizeBytes
}

// ApplyMetadata folds an upload metadata document into the version. Unknown
// keys are ignored; missing keys leave prior values untouched.
func (v *FileVersion) ApplyMetadata(meta map[string]interface{}) {
	if meta == nil {
		return
	}

	if raw, ok := meta["size"]; ok {
		if size, ok := parseSize(raw); ok {
			v.SizeBytes = size
		}
	}

	if raw, ok := meta["contentType"]; ok {
		if ct, ok := raw.(string); ok && ct != "" {
			v.ContentType = ct
		}
	}

	if raw, ok := meta["modified"]; ok {
		if s, ok := raw.(string); ok {
			if t, err := ParseModifiedTime(s); err == nil {
				v.Modified = &t
			}
		}
	}

	if raw, ok := meta["md5"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			v.MD5 = &s
		}
	}

	if raw, ok := meta["sha256"]; ok {
		if s, ok := raw.(string); ok && s != "" {
			v.SHA256 = &s
		}
	}
}

func parseSize(raw interface{}) (int64, bool) {
	switch n := raw.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		size, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return size, true
	default:
		return 0, false
	}
}

var modifiedLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseModifiedTime parses an ISO-8601-ish timestamp, tolerating a missing
// timezone and discarding one when present.
func ParseModifiedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty modified timestamp", ErrValidation)
	}

	// Timestamps carrying an offset or Z suffix parse as RFC3339; the offset
	// is then dropped to match the naive interpretation of offset-less input.
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return stripZone(t), nil
	}

	for _, layout := range modifiedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: cannot parse modified timestamp %q", ErrValidation, s)
}

func stripZone(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
