package registry

import "time"

// Package is the subset of upstream package metadata this service cares
// about.
type Package struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	MaxVersion  string    `json:"max_version"`
	Downloads   int64     `json:"downloads"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Packages []Package
	Total    int64
}

// Wire shapes. The upstream nests results under "crates"/"crate" and the
// total under "meta"; we flatten on decode.

type searchResponse struct {
	Crates []Package  `json:"crates"`
	Meta   searchMeta `json:"meta"`
}

type searchMeta struct {
	Total int64 `json:"total"`
}

type packageResponse struct {
	Crate Package `json:"crate"`
}
