// Package export renders fork scan results as CSV or a text table.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/Romamo/forkscout-sub000/pkg/forks"
)

var csvHeader = []string{
	"fork", "owner", "stars", "ahead", "behind", "pushed_at",
	"features", "bugfixes", "docs", "skipped", "skip_reason",
}

// WriteCSV writes one row per fork, ranked order preserved.
func WriteCSV(w io.Writer, result *forks.ScanResult) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, fork := range result.Forks {
		features := fork.Features()
		row := []string{
			fork.Repository.FullName,
			fork.Repository.Owner.Login,
			strconv.Itoa(fork.Repository.Stars),
			strconv.Itoa(fork.AheadBy),
			strconv.Itoa(fork.BehindBy),
			formatTime(fork.Repository.PushedAt),
			strconv.Itoa(features[forks.CategoryFeature]),
			strconv.Itoa(features[forks.CategoryBugfix]),
			strconv.Itoa(features[forks.CategoryDocs]),
			strconv.FormatBool(fork.Skipped),
			fork.SkipReason,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row for %s: %w", fork.Repository.FullName, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteTable writes a human-readable summary table.
func WriteTable(w io.Writer, result *forks.ScanResult) error {
	fmt.Fprintf(w, "Forks of %s (%d total, %d compared, %d skipped)\n\n",
		result.Upstream.FullName, result.Total, result.Compared, result.Skipped)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FORK\tSTARS\tAHEAD\tBEHIND\tPUSHED\tTOP CATEGORY")

	for _, fork := range result.Forks {
		if fork.Skipped {
			fmt.Fprintf(tw, "%s\t%d\t-\t-\t%s\tskipped: %s\n",
				fork.Repository.FullName,
				fork.Repository.Stars,
				formatTime(fork.Repository.PushedAt),
				fork.SkipReason)
			continue
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\n",
			fork.Repository.FullName,
			fork.Repository.Stars,
			fork.AheadBy,
			fork.BehindBy,
			formatTime(fork.Repository.PushedAt),
			topCategory(fork))
	}

	return tw.Flush()
}

// topCategory returns the dominant commit category of a fork's unique
// commits, or "-" when it has none.
func topCategory(fork forks.Fork) string {
	features := fork.Features()
	best := forks.Category("-")
	bestCount := 0
	for _, category := range []forks.Category{
		forks.CategoryFeature, forks.CategoryBugfix, forks.CategoryDocs,
		forks.CategoryRefactor, forks.CategoryTest, forks.CategoryOther,
	} {
		if features[category] > bestCount {
			best = category
			bestCount = features[category]
		}
	}
	return string(best)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
