package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/cobra"

	"bolagsdata/internal/adapters/sqlite"
	"bolagsdata/internal/config"
	"bolagsdata/internal/ports"
	"bolagsdata/internal/services/replicaimport"
)

var (
	importBackend   string
	importSQLite    string
	importBatchSize int
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [bulk-file]",
		Short: "Load the registry bulk file into the local replica",
		Long: `Load the registry bulk file into the local replica.

The file is the semicolon separated export, either as published (a zip
holding one text file) or already unpacked. Rows are upserted on the
organisation number, so re-running an import refreshes the replica.

Examples:
  registryctl import bolagsverket_bulkfil.zip
  registryctl import bulk.txt --backend sqlite --sqlite-path data/replica.db`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
	cmd.Flags().StringVar(&importBackend, "backend", "", "replica backend: postgres or sqlite (default from config)")
	cmd.Flags().StringVar(&importSQLite, "sqlite-path", "", "SQLite replica file (default from config)")
	cmd.Flags().IntVar(&importBatchSize, "batch-size", replicaimport.DefaultBatchSize, "rows per upsert")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	ctx := cmd.Context()

	backend := cfg.Replica.Backend
	if importBackend != "" {
		backend = importBackend
	}
	var writer ports.ReplicaWriter
	switch backend {
	case config.BackendPostgres:
		db, err := connect(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx, logger); err != nil {
			return err
		}
		writer = db.Replica()
	case config.BackendSQLite:
		p := cfg.Replica.SQLitePath
		if importSQLite != "" {
			p = importSQLite
		}
		lite, err := sqlite.Open(ctx, p)
		if err != nil {
			return err
		}
		defer lite.Close()
		writer = lite
	default:
		return fmt.Errorf("unknown replica backend %q", backend)
	}

	in, closeFn, err := openBulkFile(args[0])
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := replicaimport.New(writer, importBatchSize, logger).Import(ctx, in)
	if err != nil {
		return fmt.Errorf("import after %d rows: %w", res.Rows, err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"backend":  backend,
		"rows":     res.Rows,
		"skipped":  res.Skipped,
		"batches":  res.Batches,
		"duration": res.Duration.String(),
	})
}

// openBulkFile returns the text stream of a bulk file, unpacking the first
// .txt or .csv entry when the file is a zip archive.
func openBulkFile(name string) (io.Reader, func(), error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		f.Close()
		return nil, nil, err
	}
	if !bytes.Equal(magic, []byte("PK\x03\x04")) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			return nil, nil, err
		}
		return f, func() { f.Close() }, nil
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	for _, entry := range zr.File {
		switch strings.ToLower(path.Ext(entry.Name)) {
		case ".txt", ".csv":
			rc, err := entry.Open()
			if err != nil {
				f.Close()
				return nil, nil, err
			}
			return rc, func() { rc.Close(); f.Close() }, nil
		}
	}
	f.Close()
	return nil, nil, fmt.Errorf("%s: no .txt or .csv entry in archive", name)
}
