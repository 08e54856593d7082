package replicaimport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bolagsdata/internal/domain"
)

type recordingWriter struct {
	batches [][]domain.ReplicaCompany
	err     error
}

func (w *recordingWriter) UpsertCompanies(_ context.Context, rows []domain.ReplicaCompany) (int64, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.batches = append(w.batches, append([]domain.ReplicaCompany(nil), rows...))
	return int64(len(rows)), nil
}

const bulkHeader = "\ufefforganisationsidentitet;namnskyddslopnummer;registreringsland;organisationsnamn;organisationsform;avregistreringsdatum;avregistreringsorsak;pagandeAvvecklingsEllerOmsstruktureringsforfarande;registreringsdatum;verksamhetsbeskrivning;postadress\n"

func TestImport(t *testing.T) {
	data := bulkHeader +
		`5560360793$orgnr-idorg;\N;SE-LAND$landskod;Saab Aktiebolag$FORETAGSNAMN-ORGNAM;AB-ORGFO$Aktiebolag;\N;\N;\N;1937-04-02;Flygplan;Box 170 58188 LINKÖPING` + "\n" +
		`5566778899;\N;SE-LAND$landskod;Exempel Handel AB$FORETAGSNAMN-ORGNAM;AB-ORGFO$Aktiebolag;2020-01-15;AVSLUTAD;\N;2001-05-01;\N;\N` + "\n" +
		`1234567890;\N;\N;Felaktig AB;\N;\N;\N;\N;\N;\N;\N` + "\n" +
		`9696979732;\N;\N;Tredje AB;\N;\N;\N;\N;\N;\N;\N` + "\n"

	w := &recordingWriter{}
	res, err := New(w, 2, nil).Import(context.Background(), strings.NewReader(data))
	require.NoError(t, err)

	assert.EqualValues(t, 3, res.Rows)
	assert.EqualValues(t, 1, res.Skipped, "invalid checksum row is skipped")
	assert.Equal(t, 2, res.Batches)
	require.Len(t, w.batches, 2)
	require.Len(t, w.batches[0], 2)
	require.Len(t, w.batches[1], 1)

	saab := w.batches[0][0]
	assert.Equal(t, "5560360793", saab.OrgNumber)
	assert.Equal(t, "Saab Aktiebolag", saab.Name)
	assert.Equal(t, "SE-LAND", saab.RegistrationCountry)
	assert.Equal(t, "AB-ORGFO", saab.LegalForm)
	assert.Empty(t, saab.NameProtectionSeq, `\N is NULL`)
	assert.Nil(t, saab.DeregisteredOn)
	require.NotNil(t, saab.RegisteredOn)
	assert.Equal(t, "1937-04-02", saab.RegisteredOn.Format("2006-01-02"))
	assert.Equal(t, "Box 170 58188 LINKÖPING", saab.PostalAddress)

	gone := w.batches[0][1]
	require.NotNil(t, gone.DeregisteredOn)
	assert.Equal(t, "AVSLUTAD", gone.DeregistrationCause)

	assert.Equal(t, "9696979732", w.batches[1][0].OrgNumber)
}

func TestImport_CommaSeparated(t *testing.T) {
	w := &recordingWriter{}
	data := "organisationsidentitet,organisationsnamn\n556036-0793,\"Saab, Aktiebolag\"\n"
	res, err := New(w, 10, nil).Import(context.Background(), strings.NewReader(data))
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows)
	assert.Equal(t, "Saab, Aktiebolag", w.batches[0][0].Name)
}

func TestImport_DefaultBatchSize(t *testing.T) {
	im := New(&recordingWriter{}, 0, nil)
	assert.Equal(t, DefaultBatchSize, im.batchSize)
}

func TestImport_MissingKeyColumn(t *testing.T) {
	_, err := New(&recordingWriter{}, 10, nil).Import(context.Background(), strings.NewReader("namn,ort\nx,y\n"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestImport_WriterFailure(t *testing.T) {
	w := &recordingWriter{err: errors.New("connection reset")}
	data := bulkHeader + `5560360793;\N;\N;Saab AB;\N;\N;\N;\N;\N;\N;\N` + "\n"

	res, err := New(w, 10, nil).Import(context.Background(), strings.NewReader(data))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert batch 1")
	assert.Zero(t, res.Rows)
}

func TestImport_EmptyInput(t *testing.T) {
	_, err := New(&recordingWriter{}, 10, nil).Import(context.Background(), strings.NewReader(""))
	assert.Error(t, err)
}

func TestStripSuffix(t *testing.T) {
	assert.Equal(t, "AB-ORGFO", stripSuffix("AB-ORGFO$Aktiebolag"))
	assert.Equal(t, "plain", stripSuffix("plain"))
	assert.Equal(t, "", stripSuffix("$x"))
}
