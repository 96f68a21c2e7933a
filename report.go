package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gutterdiff/git"
	"gutterdiff/text"
)

const reportTimeout = 30 * time.Second

// report prints a marker summary of every file in the work tree at dir that
// differs from spec
func report(w io.Writer, dir string, spec git.TrackSpec, gitRate float64) error {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()

	runner := git.NewExecRunner("", gitRate)
	repo, err := git.NewLocator(runner).Open(ctx, dir)
	if err != nil {
		return err
	}

	commit, err := repo.Resolve(ctx, spec)
	if err != nil {
		return err
	}

	diff, err := repo.UnifiedDiff(ctx, commit)
	if err != nil {
		return err
	}

	return writeReport(w, text.ClassifyUnifiedDiffFiles(diff))
}

// writeReport prints one "path  +added ~changed -removed [new]" line per file
func writeReport(w io.Writer, files []text.FileResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range files {
		s := f.Result.Summary()
		line := fmt.Sprintf("%s\t+%d\t~%d\t-%d", f.Path(), s.Added+s.Created, s.Changed, s.Removed)
		if f.NewFile {
			line += "\tnew"
		}
		if _, err := fmt.Fprintln(tw, line); err != nil {
			return err
		}
	}
	return tw.Flush()
}
