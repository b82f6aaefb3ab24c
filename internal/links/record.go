package links

import (
	"slices"
	"time"
)

// Partition names a persistence area. A slug is unique only within Active.
type Partition string

const (
	Active   Partition = "active"
	Archived Partition = "archived"
)

// Record is one short link as it is persisted.
type Record struct {
	ID                  string            `json:"id"`
	Slug                string            `json:"slug"`
	Destination         string            `json:"destination"`
	CreatedAt           time.Time         `json:"created_at"`
	LastModified        time.Time         `json:"last_modified"`
	CreatedBy           string            `json:"created_by"`
	ExpiresAt           *time.Time        `json:"expires_at"`
	RedirectAfterExpiry *string           `json:"redirect_after_expiry"`
	Tags                []string          `json:"tags"`
	UTMParams           map[string]string `json:"utm_params"`
	QRConfig            QRConfig          `json:"qr_config"`
	Metadata            Metadata          `json:"metadata"`
}

// QRConfig is stored with the record; generating the image is someone else's job.
type QRConfig struct {
	Enabled  bool    `json:"enabled"`
	FilePath *string `json:"file_path"`
}

type Metadata struct {
	Description  string    `json:"description"`
	LastModified time.Time `json:"last_modified"`
}

// HasAnyTag reports whether r carries at least one of tags.
func (r Record) HasAnyTag(tags ...string) bool {
	for _, t := range tags {
		if slices.Contains(r.Tags, t) {
			return true
		}
	}
	return false
}

// Expired reports whether r has an expiration at or before now.
func (r Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// touch stamps both modification timestamps.
func (r *Record) touch(now time.Time) {
	r.LastModified = now
	r.Metadata.LastModified = now
}
