package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jbweber/corral/api/v1alpha1"
)

// TableFormatter formats domains as an aligned table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatDomain formats a single domain as a table row.
func (f *TableFormatter) FormatDomain(d *v1alpha1.Domain) (string, error) {
	return f.FormatDomainList([]*v1alpha1.Domain{d})
}

// FormatDomainList formats domains as a table, one row each.
func (f *TableFormatter) FormatDomainList(ds []*v1alpha1.Domain) (string, error) {
	if len(ds) == 0 {
		return "No domains found\n", nil
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	// Write header unless NoHeaders is set
	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "NAME\tUUID\tSTATE\tID\tPERSISTENT\tVCPUS\tMEMORY\tAGE")
	}

	// Write each domain as a row
	for _, d := range ds {
		state := string(d.Status.State)
		if state == "" {
			state = "-"
		}

		// Inactive domains have no runtime id
		id := "-"
		if d.Status.State.IsActive() {
			id = strconv.Itoa(d.Status.RuntimeID)
		}

		persistent := "no"
		if d.Status.Persistent {
			persistent = "yes"
		}

		// Calculate age from creation timestamp
		age := "-"
		if !d.CreationTimestamp.IsZero() {
			age = formatAge(time.Since(d.CreationTimestamp.Time))
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d MiB\t%s\n",
			d.Name, d.UID, state, id, persistent, d.Spec.VCPUs, d.Spec.MemoryMiB, age)
	}

	_ = w.Flush()
	return buf.String(), nil
}

// formatAge formats a duration as a human-readable age string.
// Examples: "5s", "2m", "3h", "4d", "2w", "1y"
func formatAge(d time.Duration) string {
	// A creation timestamp ahead of the local clock
	if d < 0 {
		return "unknown"
	}

	seconds := int(d.Seconds())

	// Less than 1 minute
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}

	// Less than 1 hour
	minutes := seconds / 60
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	// Less than 1 day
	hours := minutes / 60
	if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}

	// Less than 1 week
	days := hours / 24
	if days < 7 {
		return fmt.Sprintf("%dd", days)
	}

	// Less than ~2 months (8 weeks)
	weeks := days / 7
	if weeks < 8 {
		return fmt.Sprintf("%dw", weeks)
	}

	// More than 2 months, show in approximate years/days
	if years := days / 365; years > 0 {
		return fmt.Sprintf("%dy", years)
	}
	return fmt.Sprintf("%dd", days)
}
