// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pubmed

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/pdiddy/evidence-engine/pkg/types"
)

// PubMed efetch XML structures. Title and abstract text keep their inner
// markup (<i>, <sup>, ...) and are flattened after decoding.
type articleSet struct {
	Articles []pubmedArticle `xml:"PubmedArticle"`
}

type pubmedArticle struct {
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title        string `xml:"Title"`
				ISOAbbrev    string `xml:"ISOAbbreviation"`
				JournalIssue struct {
					PubDate struct {
						Year        string `xml:"Year"`
						MedlineDate string `xml:"MedlineDate"`
					} `xml:"PubDate"`
				} `xml:"JournalIssue"`
			} `xml:"Journal"`
			Title    innerText `xml:"ArticleTitle"`
			Abstract struct {
				Sections []abstractSection `xml:"AbstractText"`
			} `xml:"Abstract"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
}

type abstractSection struct {
	Label string `xml:"Label,attr"`
	Inner string `xml:",innerxml"`
}

type innerText struct {
	Inner string `xml:",innerxml"`
}

// ParseRecords decodes an efetch XML payload. Missing elements produce
// empty fields; validation is left to the caller.
func ParseRecords(r io.Reader) ([]types.RawRecord, error) {
	var set articleSet
	if err := xml.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("%w: decoding efetch: %v", ErrInvalidResponse, err)
	}

	records := make([]types.RawRecord, 0, len(set.Articles))
	for _, a := range set.Articles {
		cit := a.Citation
		rec := types.RawRecord{
			ID:    strings.TrimSpace(cit.PMID),
			Title: flattenMarkup(cit.Article.Title.Inner),
			Venue: strings.TrimSpace(cit.Article.Journal.Title),
		}
		if rec.Venue == "" {
			rec.Venue = strings.TrimSpace(cit.Article.Journal.ISOAbbrev)
		}

		date := cit.Article.Journal.JournalIssue.PubDate
		rec.Year = strings.TrimSpace(date.Year)
		if rec.Year == "" {
			rec.Year = strings.TrimSpace(date.MedlineDate)
		}

		var parts []string
		for _, s := range cit.Article.Abstract.Sections {
			text := flattenMarkup(s.Inner)
			if text == "" {
				continue
			}
			if s.Label != "" {
				text = s.Label + ": " + text
			}
			parts = append(parts, text)
		}
		rec.Abstract = strings.Join(parts, "\n")

		records = append(records, rec)
	}
	return records, nil
}

// flattenMarkup strips inline tags, decodes entities, and collapses
// whitespace.
func flattenMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		}
	}
}
