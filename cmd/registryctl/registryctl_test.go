package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const report = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:ix="http://www.xbrl.org/2013/inlineXBRL"
  xmlns:xbrli="http://www.xbrl.org/2003/instance" xmlns:se-gen-base="http://www.taxonomier.se/se/fr/gen-base/2021-10-31">
<body>
<div style="display:none"><ix:header><ix:resources>
  <xbrli:context id="balans0"><xbrli:entity><xbrli:identifier scheme="http://www.bolagsverket.se">5560360793</xbrli:identifier></xbrli:entity>
    <xbrli:period><xbrli:instant>2023-12-31</xbrli:instant></xbrli:period></xbrli:context>
</ix:resources></ix:header></div>
<ix:nonFraction name="se-gen-base:Tillgangar" contextRef="balans0" unitRef="SEK" format="ixt:numspacecomma">1 000 000</ix:nonFraction>
<ix:nonFraction name="se-gen-base:EgetKapital" contextRef="balans0" unitRef="SEK" format="ixt:numspacecomma">400 000</ix:nonFraction>
</body></html>`

func writeZip(t *testing.T, dir, name string, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for n, body := range files {
		w, err := zw.Create(n)
		require.NoError(t, err)
		_, err = io.WriteString(w, body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o600))
	return p
}

func runExtract(t *testing.T, args ...string) map[string]any {
	t.Helper()
	extractOrgNumber = ""
	cmd := extractCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	return got
}

func TestExtractCommand(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "report.xhtml")
	require.NoError(t, os.WriteFile(bare, []byte(report), 0o600))
	bundle := writeZip(t, dir, "report.zip", map[string]string{"arsredovisning.xhtml": report})

	for _, p := range []string{bare, bundle} {
		got := runExtract(t, p, "--orgnr", "556036-0793")
		assert.Equal(t, "5560360793", got["orgNumber"])
		metrics := got["keyMetrics"].(map[string]any)
		assert.EqualValues(t, 40, metrics["solidityPercent"])
	}
}

func TestExtractCommand_Unparseable(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.xhtml")
	require.NoError(t, os.WriteFile(p, []byte("<html><body>nothing tagged</body></html>"), 0o600))
	cmd := extractCmd()
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{p})
	assert.ErrorContains(t, cmd.Execute(), "empty.xhtml")
}

func TestOpenBulkFile(t *testing.T) {
	dir := t.TempDir()
	const content = "organisationsidentitet;organisationsnamn\n5560360793;Saab AB\n"

	plain := filepath.Join(dir, "bulk.txt")
	require.NoError(t, os.WriteFile(plain, []byte(content), 0o600))
	r, closeFn, err := openBulkFile(plain)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	closeFn()
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	zipped := writeZip(t, dir, "bulk.zip", map[string]string{"README.md": "x", "bolagsverket_bulkfil.txt": content})
	r, closeFn, err = openBulkFile(zipped)
	require.NoError(t, err)
	got, err = io.ReadAll(r)
	closeFn()
	require.NoError(t, err)
	assert.Equal(t, content, string(got))

	noData := writeZip(t, dir, "other.zip", map[string]string{"README.md": "x"})
	_, _, err = openBulkFile(noData)
	assert.ErrorContains(t, err, "no .txt or .csv entry")
}
