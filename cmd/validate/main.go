package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gnemet/datatable"
)

func main() {
	lang := flag.String("lang", "en", "resolve labels for this language")
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Println("Usage: datatable-validate [-lang en] <catalog_path1> [catalog_path2] ...")
		os.Exit(1)
	}

	allValid := true
	for _, arg := range flag.Args() {
		name := filepath.Base(arg)
		data, err := os.ReadFile(arg)
		if err != nil {
			fmt.Printf("❌ Cannot read %s: %v\n", name, err)
			allValid = false
			continue
		}
		if err := datatable.ValidateCatalog(data); err != nil {
			fmt.Printf("❌ %s is invalid!\n   - %v\n", name, err)
			allValid = false
			continue
		}

		// a schema-valid catalog must also resolve into table options
		def, err := datatable.ParseCatalog(context.Background(), data, *lang, nil)
		if err == nil {
			_, err = datatable.New(def.Options)
		}
		if err != nil {
			fmt.Printf("❌ %s does not resolve: %v\n", name, err)
			allValid = false
			continue
		}
		fmt.Printf("✅ %s is valid (%s, %d columns).\n", name, def.Object, len(def.Options.Columns))
	}

	if !allValid {
		os.Exit(1)
	}
}
