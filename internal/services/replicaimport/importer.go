// Package replicaimport loads the registry's bulk company file into the local
// replica used for name search.
package replicaimport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"bolagsdata/internal/domain"
	"bolagsdata/internal/logging"
	"bolagsdata/internal/ports"
)

// DefaultBatchSize rows are upserted per round trip.
const DefaultBatchSize = 5000

// nullMarker is how the bulk export writes SQL NULL.
const nullMarker = `\N`

// Bulk file columns.
const (
	colOrgNumber           = "organisationsidentitet"
	colNameProtectionSeq   = "namnskyddslopnummer"
	colRegistrationCountry = "registreringsland"
	colName                = "organisationsnamn"
	colLegalForm           = "organisationsform"
	colDeregisteredOn      = "avregistreringsdatum"
	colDeregistrationCause = "avregistreringsorsak"
	colOngoingProceedings  = "pagandeavvecklingselleromsstruktureringsforfarande"
	colRegisteredOn        = "registreringsdatum"
	colBusinessDescription = "verksamhetsbeskrivning"
	colPostalAddress       = "postadress"
)

// Result summarizes one import run.
type Result struct {
	Rows     int64 `json:"rows"`
	Skipped  int64 `json:"skipped"`
	Batches  int   `json:"batches"`
	Duration time.Duration
}

type Importer struct {
	writer    ports.ReplicaWriter
	batchSize int
	logger    *slog.Logger
}

func New(writer ports.ReplicaWriter, batchSize int, logger *slog.Logger) *Importer {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Importer{writer: writer, batchSize: batchSize, logger: logger}
}

// Import streams a CSV with a header row and upserts it in batches. The
// registry export is semicolon separated; plain comma files are accepted too.
// Rows without a valid org number are skipped and counted.
func (im *Importer) Import(ctx context.Context, r io.Reader) (Result, error) {
	start := time.Now()
	var res Result

	br := bufio.NewReader(r)
	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(br)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return res, fmt.Errorf("read header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	if _, ok := cols[colOrgNumber]; !ok {
		return res, &domain.ValidationError{Field: "header", Reason: "missing column " + colOrgNumber}
	}

	batch := make([]domain.ReplicaCompany, 0, im.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := im.writer.UpsertCompanies(ctx, batch)
		if err != nil {
			return fmt.Errorf("upsert batch %d: %w", res.Batches+1, err)
		}
		res.Rows += n
		res.Batches++
		im.logger.InfoContext(ctx, "replica batch imported", "batch", res.Batches, "rows", res.Rows, "skipped", res.Skipped)
		batch = batch[:0]
		return nil
	}

	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return res, fmt.Errorf("line %d: %w", line, err)
		}
		row, ok := parseRow(rec, cols)
		if !ok {
			res.Skipped++
			continue
		}
		batch = append(batch, row)
		if len(batch) >= im.batchSize {
			if err := flush(); err != nil {
				return res, err
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte{';'}) > bytes.Count(head, []byte{','}) {
		return ';'
	}
	return ','
}

func parseRow(rec []string, cols map[string]int) (domain.ReplicaCompany, bool) {
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		v := strings.TrimSpace(rec[i])
		if v == nullMarker {
			return ""
		}
		return v
	}

	orgnr, err := domain.ParseOrgNumber(stripSuffix(get(colOrgNumber)))
	if err != nil {
		return domain.ReplicaCompany{}, false
	}
	return domain.ReplicaCompany{
		OrgNumber:           orgnr.String(),
		NameProtectionSeq:   get(colNameProtectionSeq),
		RegistrationCountry: stripSuffix(get(colRegistrationCountry)),
		Name:                stripSuffix(get(colName)),
		LegalForm:           stripSuffix(get(colLegalForm)),
		DeregisteredOn:      date(get(colDeregisteredOn)),
		DeregistrationCause: stripSuffix(get(colDeregistrationCause)),
		OngoingProceedings:  get(colOngoingProceedings),
		RegisteredOn:        date(get(colRegisteredOn)),
		BusinessDescription: get(colBusinessDescription),
		PostalAddress:       get(colPostalAddress),
	}, true
}

// stripSuffix drops the "$type" suffix the bulk export appends to coded
// values and names.
func stripSuffix(s string) string {
	if i := strings.IndexByte(s, '$'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func date(s string) *time.Time {
	if len(s) < len(time.DateOnly) {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s[:len(time.DateOnly)])
	if err != nil {
		return nil
	}
	return &t
}
