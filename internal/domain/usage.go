package domain

import (
	"time"

	"github.com/google/uuid"
)

// QuotaPolicy holds the process-wide, read-only quota constants.
type QuotaPolicy struct {
	DefaultStorageLimit int64
	WarningThreshold    int64
	WarningWaitPeriod   time.Duration
}

// UserSettings is a user's storage account: a cached running usage counter
// plus the warning-email bookkeeping.
type UserSettings struct {
	UserID          string     `json:"user_id" db:"user_id"`
	StorageUsage    int64      `json:"storage_usage" db:"storage_usage"`
	LimitOverride   *int64     `json:"storage_limit_override,omitempty" db:"storage_limit_override"`
	WarningSent     bool       `json:"warning_sent" db:"warning_sent"`
	WarningLastSent *time.Time `json:"warning_last_sent,omitempty" db:"warning_last_sent"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

func (s *UserSettings) StorageLimit(policy QuotaPolicy) int64 {
	if s.LimitOverride != nil {
		return *s.LimitOverride
	}
	return policy.DefaultStorageLimit
}

func (s *UserSettings) FreeSpace(policy QuotaPolicy) int64 {
	return s.StorageLimit(policy) - s.StorageUsage
}

func (s *UserSettings) AtWarningThreshold(policy QuotaPolicy) bool {
	return s.FreeSpace(policy) < policy.WarningThreshold
}

// SetStorageUsage writes the counter and re-evaluates the warning flag. This
// coupling is the only path that clears a stale warning once usage falls back
// under the threshold.
func (s *UserSettings) SetStorageUsage(usage int64, policy QuotaPolicy) {
	s.StorageUsage = usage
	if !s.AtWarningThreshold(policy) {
		s.WarningSent = false
	}
}

// ShouldSendWarning decides whether a warning email goes out now. A send
// requires being at the threshold and either force, or neither a standing
// warning flag nor a send within the waiting period.
func (s *UserSettings) ShouldSendWarning(now time.Time, force bool, policy QuotaPolicy) bool {
	if !s.AtWarningThreshold(policy) {
		return false
	}
	if force {
		return true
	}
	if s.WarningSent {
		return false
	}
	if s.WarningLastSent != nil && now.Sub(*s.WarningLastSent) < policy.WarningWaitPeriod {
		return false
	}
	return true
}

// NodeSettings is a project's storage account: its own root node and a cached
// running usage counter over the versions attributed to that root's tree.
type NodeSettings struct {
	ProjectID       string    `json:"project_id" db:"project_id"`
	ParentProjectID *string   `json:"parent_project_id,omitempty" db:"parent_project_id"`
	RootNodeID      uuid.UUID `json:"root_node_id" db:"root_node_id"`
	StorageUsage    int64     `json:"storage_usage" db:"storage_usage"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// ComputeOptions selects which versions an authoritative recompute sees.
// Only the canonical combination (Dedup, no Ignored, no Deleted) may be
// persisted; everything else is a read-only diagnostic view.
type ComputeOptions struct {
	Dedup   bool
	Ignored bool
	Deleted bool
}

// Canonical reports whether a recompute with these options may overwrite the
// cached counter.
func (o ComputeOptions) Canonical() bool {
	return o.Dedup && !o.Ignored && !o.Deleted
}

// ComputeUsage is the authoritative fold over an account's versions. With
// Dedup set, versions sharing a (creator, location hash) pair count once.
func ComputeUsage(versions []FileVersion, opts ComputeOptions) int64 {
	var total int64
	seen := make(map[string]bool)

	for i := range versions {
		v := &versions[i]
		if v.IgnoreSize && !opts.Ignored {
			continue
		}
		if v.Deleted && !opts.Deleted {
			continue
		}
		if opts.Dedup && v.Hash() != "" {
			key := v.Creator + "\x00" + v.Hash()
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		total += v.SizeBytes
	}

	return total
}

// QuotaInfo is the account view served over the API.
type QuotaInfo struct {
	TotalSpace     int64   `json:"total_space"`
	UsedSpace      int64   `json:"used_space"`
	AvailableSpace int64   `json:"available_space"`
	UsagePercent   float64 `json:"usage_percent"`
	WarningSent    bool    `json:"warning_sent"`
}
