package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/database/viewstore"
	"github.com/gnemet/datatable/dirtree"
	"github.com/gnemet/datatable/internal/logging"
)

func main() {
	dataPath := flag.String("data", "", "JSON file holding an array of objects")
	dirPath := flag.String("dir", "", "browse the directories below this path instead of a data file")
	depth := flag.Int("depth", 2, "directory levels listed below -dir")
	catalogPath := flag.String("catalog", "", "optional catalog describing the columns")
	lang := flag.String("lang", "en", "label language of the catalog")
	stateDir := flag.String("state", "", "directory for saved views (default: user config dir)")
	identifier := flag.String("id", "", "identifier property")
	pageSize := flag.Int("page", 0, "rows per page")
	reload := flag.Duration("reload", 0, "reload the file periodically")
	logPath := flag.String("log", "", "log file")
	logLevel := flag.String("log-level", "info", "log level")
	seqURL := flag.String("seq", "", "Seq server URL")
	flag.Parse()

	if *dataPath == "" && *dirPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: tableview -data <file.json> [-catalog <catalog.json>] | -dir <path> [-depth n]")
		os.Exit(2)
	}
	src := source{data: *dataPath, catalog: *catalogPath, lang: *lang, dir: *dirPath, depth: *depth}
	if err := run(src, *stateDir, *identifier, *pageSize, *reload, *logPath, *logLevel, *seqURL); err != nil {
		fmt.Fprintf(os.Stderr, "tableview: %v\n", err)
		os.Exit(1)
	}
}

// source selects what the table shows: a JSON file, optionally described by
// a catalog, or a directory hierarchy.
type source struct {
	data, catalog, lang string
	dir                 string
	depth               int
}

func run(src source, stateDir, identifier string, pageSize int, reload time.Duration, logPath, logLevel, seqURL string) error {
	var logOut io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	logger, closeLog := logging.New(logOut, logLevel, seqURL)
	defer closeLog()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		title string
		opts  datatable.Options
	)
	switch {
	case src.dir != "":
		root, err := filepath.Abs(src.dir)
		if err != nil {
			return err
		}
		title = root
		opts.Columns = dirColumns
		opts.Identifier = "path"
		opts.Fetcher = dirFetcher(dirtree.New(), root, src.depth, logger)
	case src.catalog != "":
		title = filepath.Base(src.data)
		def, err := datatable.LoadCatalog(ctx, src.catalog, src.lang, nil)
		if err != nil {
			return err
		}
		opts = def.Options
		if def.Title != "" {
			title = def.Title
		}
		opts.Fetcher = fileFetcher(src.data)
	default:
		title = filepath.Base(src.data)
		rows, err := readRows(src.data)
		if err != nil {
			return err
		}
		opts.Columns = inferColumns(rows, identifier)
		opts.Fetcher = fileFetcher(src.data)
	}
	if identifier != "" {
		opts.Identifier = identifier
		opts.ForceIdentifier = true
	}
	if pageSize != 0 {
		opts.PageSize = pageSize
	}
	// the whole source is loaded; filter, sort and page locally
	opts.ServerSide = false
	opts.AutoReload = reload

	if stateDir == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		stateDir = filepath.Join(dir, "tableview")
	}
	store, err := viewstore.NewFiles(stateDir)
	if err != nil {
		return err
	}
	opts.Store = store
	opts.Logger = logger

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	opts.OnUpdate = func(datatable.View) { notify() }
	opts.OnStatus = func(datatable.Status) { notify() }

	table, err := datatable.New(opts)
	if err != nil {
		return err
	}
	defer table.Close()
	if err := table.Start(ctx); err != nil {
		return err
	}

	_, err = tea.NewProgram(newModel(title, table, changed), tea.WithAltScreen()).Run()
	return err
}

func readRows(path string) ([]datatable.Row, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []datatable.Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// fileFetcher rereads the file on every refresh cycle.
func fileFetcher(path string) datatable.Fetcher {
	return datatable.FetcherFunc(func(fc *datatable.FetchContext) {
		go func() {
			rows, err := readRows(path)
			if err != nil {
				fc.Fail(err)
			} else {
				fc.SetRows(rows)
			}
			fc.Done()
		}()
	})
}

// inferColumns builds one column per key of the first row, identifier first.
func inferColumns(rows []datatable.Row, identifier string) []datatable.Column {
	if len(rows) == 0 {
		return []datatable.Column{{Name: "id", Prop: "id"}}
	}
	keys := make([]string, 0, len(rows[0]))
	for k := range rows[0] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	if identifier == "" {
		identifier = "id"
	}
	if i := slices.Index(keys, identifier); i > 0 {
		keys = slices.Insert(slices.Delete(keys, i, i+1), 0, identifier)
	}
	cols := make([]datatable.Column, len(keys))
	for i, k := range keys {
		cols[i] = datatable.Column{Name: k, Prop: k, Sortable: true}
		switch rows[0][k].(type) {
		case string, bool:
			cols[i].Filterable = true
		}
	}
	return cols
}
