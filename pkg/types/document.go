// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Document is a retrieved literature record. ID is the PubMed identifier
// (PMID) and is the only identity a document has throughout a run.
type Document struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Abstract string `json:"abstract" yaml:"abstract"`

	// Year is the publication year, zero when the record carried none.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Venue is the journal name, empty when unknown.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`
}

// RawRecord is a bibliographic record as returned by a retrieval backend,
// before validation. Any field may be empty.
type RawRecord struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Abstract string `json:"abstract" yaml:"abstract"`

	// Year holds whatever date text the backend produced
	// (e.g. "2021" or "2019 Dec-2020 Jan").
	Year  string `json:"year" yaml:"year"`
	Venue string `json:"venue" yaml:"venue"`
}
