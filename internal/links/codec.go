package links

import (
	"encoding/json"
	"fmt"
)

// encodeRecord renders the on-disk document: two-space indented JSON with a
// trailing newline, timestamps in UTC so they carry the Z suffix.
func encodeRecord(r Record) ([]byte, error) {
	r = normalize(r)
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode record %q: %w", r.Slug, err)
	}
	return append(b, '\n'), nil
}

func decodeRecord(b []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return normalize(r), nil
}

func normalize(r Record) Record {
	// Older documents only carry metadata.last_modified.
	if r.LastModified.IsZero() {
		r.LastModified = r.Metadata.LastModified
	}
	r.CreatedAt = r.CreatedAt.UTC()
	r.LastModified = r.LastModified.UTC()
	r.Metadata.LastModified = r.Metadata.LastModified.UTC()
	if r.ExpiresAt != nil {
		t := r.ExpiresAt.UTC()
		r.ExpiresAt = &t
	}
	if r.Tags == nil {
		r.Tags = []string{}
	}
	if r.UTMParams == nil {
		r.UTMParams = map[string]string{}
	}
	return r
}
