// Package output provides formatters for CLI output.
package output

import (
	"fmt"
	"io"
	"strings"

	"tasksync/internal/service"
)

const (
	// Separator is printed between successive snapshots of a watched list.
	Separator = "------------"

	// NoTasks is printed for an empty list.
	NoTasks = "no tasks found"
)

// detailIndent aligns detail lines under the title.
const detailIndent = "      "

// FormatTask formats one task.
// Format: "{ID:>4}  {TITLE}\n", then the description and image URL, if any,
// each on its own line indented under the title.
func FormatTask(w io.Writer, task service.Task) {
	fmt.Fprintf(w, "%4d  %s\n", task.ID, normalizeTitle(task.Title))
	if desc := singleLine(task.Description); strings.TrimSpace(desc) != "" {
		fmt.Fprintf(w, "%s%s\n", detailIndent, desc)
	}
	if task.ImageURL != nil && *task.ImageURL != "" {
		fmt.Fprintf(w, "%simage: %s\n", detailIndent, *task.ImageURL)
	}
}

// FormatTasks formats every task in order. An empty list prints NoTasks
// unless quiet is set.
func FormatTasks(w io.Writer, tasks []service.Task, quiet bool) {
	if len(tasks) == 0 {
		if !quiet {
			fmt.Fprintln(w, NoTasks)
		}
		return
	}
	for _, task := range tasks {
		FormatTask(w, task)
	}
}

// FormatSnapshot formats a list update while watching: a separator line
// followed by the whole list.
func FormatSnapshot(w io.Writer, tasks []service.Task) {
	fmt.Fprintln(w, Separator)
	FormatTasks(w, tasks, false)
}

// normalizeTitle normalizes a task title for display.
// - Empty or whitespace-only titles become "(untitled)"
// - Newlines are replaced with spaces
func normalizeTitle(title string) string {
	title = singleLine(title)
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
