// Package extractor turns an annual-report bundle (a zip holding one inline
// XBRL document) into a normalized domain.FinancialStatement.
package extractor

import (
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"

	"bolagsdata/internal/domain"
)

// Extract decodes a zipped bundle and extracts its tagged document.
func Extract(bundle []byte) (domain.FinancialStatement, error) {
	zr, err := zip.NewReader(bytes.NewReader(bundle), int64(len(bundle)))
	if err != nil {
		return domain.FinancialStatement{}, &domain.ParseError{Reason: "bundle is not a zip archive", Err: err}
	}
	f := pickDocument(zr.File)
	if f == nil {
		return domain.FinancialStatement{}, &domain.ParseError{Reason: "no tagged document in archive"}
	}
	rc, err := f.Open()
	if err != nil {
		return domain.FinancialStatement{}, &domain.ParseError{Reason: "open " + f.Name, Err: err}
	}
	defer rc.Close()
	return ExtractDocument(rc)
}

// ExtractDocument extracts a bare XHTML document. The statement is normalized
// before it is returned.
func ExtractDocument(r io.Reader) (domain.FinancialStatement, error) {
	doc, err := scan(r)
	if err != nil {
		return domain.FinancialStatement{}, &domain.ParseError{Reason: "read tagged document", Err: err}
	}
	stmt := doc.statement()
	if stmt.FieldCount() == 0 {
		return domain.FinancialStatement{}, &domain.ParseError{
			Reason: fmt.Sprintf("no recognized concepts among %d tagged values", len(doc.numeric)),
		}
	}
	stmt.Normalize()
	return stmt, nil
}

// pickDocument prefers .xhtml over .html/.htm; among equals the largest wins.
func pickDocument(files []*zip.File) *zip.File {
	var (
		best     *zip.File
		bestRank int
	)
	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		rank := 0
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".xhtml":
			rank = 2
		case ".html", ".htm":
			rank = 1
		}
		if rank == 0 {
			continue
		}
		if best == nil || rank > bestRank || (rank == bestRank && f.UncompressedSize64 > best.UncompressedSize64) {
			best, bestRank = f, rank
		}
	}
	return best
}
