package domain

import "strings"

// LegacyUploadPrefix marks bills that were written to local disk before
// blob storage existed.
const LegacyUploadPrefix = "/uploads/"

// Document is an attached bill ("bon").
type Document struct {
	URL string `bson:"url" json:"url"`
	Key string `bson:"key,omitempty" json:"key,omitempty"`
}

// IsLegacy reports whether the document lives on local disk.
func (d *Document) IsLegacy() bool {
	return d != nil && d.Key == "" && strings.HasPrefix(d.URL, LegacyUploadPrefix)
}
