package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/dirtree"
)

var dirColumns = []datatable.Column{
	{Name: "Path", Prop: "path", Sortable: true, FlexGrow: 3},
	{Name: "Name", Prop: "name", Sortable: true, FlexGrow: 2},
	{Name: "Depth", Prop: "depth", Sortable: true, Filterable: true},
	{Name: "Subdirs", Prop: "subdirs", Sortable: true},
}

// dirFetcher lists the directories below root, depth levels deep, into tree
// and answers with the cached subtree.
func dirFetcher(tree *dirtree.Tree, root string, depth int, logger *slog.Logger) datatable.Fetcher {
	tree.Update(filepath.Dir(root), []dirtree.Dir{{Path: root, Name: filepath.Base(root)}})
	return datatable.FetcherFunc(func(fc *datatable.FetchContext) {
		go func() {
			if err := listDirs(fc.Context(), tree, root, depth); err != nil {
				fc.Fail(err)
			} else {
				fc.SetRows(dirRows(tree, root))
			}
			if err := fc.Done(); err != nil {
				logger.Debug("directory listing dropped", "root", root, "error", err)
			}
		}()
	})
}

func listDirs(ctx context.Context, tree *dirtree.Tree, path string, depth int) error {
	if depth <= 0 || ctx.Err() != nil {
		return ctx.Err()
	}
	if !tree.BeginLoad(path) {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		tree.EndLoad(path)
		return err
	}
	var dirs []dirtree.Dir
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, dirtree.Dir{Path: filepath.Join(path, e.Name()), Name: e.Name()})
		}
	}
	tree.Update(path, dirs)
	tree.EndLoad(path)

	for _, d := range dirs {
		// unreadable subdirectories keep their cached children
		if err := listDirs(ctx, tree, d.Path, depth-1); err != nil && ctx.Err() != nil {
			return err
		}
	}
	return nil
}

func dirRows(tree *dirtree.Tree, root string) []datatable.Row {
	base := len(tree.Ancestors(root))
	sub := tree.Subtree(root)
	rows := make([]datatable.Row, 0, len(sub))
	for _, d := range sub {
		rows = append(rows, datatable.Row{
			"path":    d.Path,
			"name":    d.Name,
			"depth":   len(tree.Ancestors(d.Path)) - base,
			"subdirs": len(tree.Children(d.Path)),
		})
	}
	return rows
}
