package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/automerge/automerge-go"

	"github.com/thesislab/collabd/pkg/store"
	"github.com/thesislab/collabd/pkg/viz"
)

// Inspect the persisted state of a document: print its latex text and change
// history, and optionally render the history graph to an SVG.
func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	driverVar := flag.String("db-driver", store.DriverSQLite, "the database driver (sqlite3 or postgres)")
	dsnVar := flag.String("db-dsn", "collabd.sqlite3", "the database connection string")
	renderVar := flag.Bool("render", false, "render the change history to an SVG in the temp dir")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one positional argument: the document id")
	}
	id, err := strconv.ParseInt(flag.Arg(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid document id %q", flag.Arg(0))
	}

	ctx := context.Background()
	st, err := store.Open(ctx, *driverVar, *dsnVar)
	if err != nil {
		return err
	}
	defer st.Close()

	raw, err := st.LoadState(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no saved state for document %d", id)
		}
		return err
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return fmt.Errorf("failed to load doc: %w", err)
	}

	text, err := doc.Path("latex").Text().Get()
	if err != nil {
		return fmt.Errorf("failed to read latex text: %w", err)
	}
	fmt.Println(text)

	slog.Info("loaded heads", "heads", doc.Heads())
	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "dep", change.Dependencies())
	}

	if *renderVar {
		svgPath, err := viz.RenderToTemp(doc)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "path", "file://"+svgPath)
	}
	return nil
}
