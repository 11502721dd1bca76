package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/agentworkforce/notesync/internal/notesync"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var timeNow = time.Now

const previewWidth = 72

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#7AA2F7"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E0AF68")).Italic(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#737AA2"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ECE6A")).Bold(true)
	offlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1B26")).
			Background(lipgloss.Color("#E0AF68")).
			Bold(true).
			Padding(0, 1)
	onlineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1B26")).
			Background(lipgloss.Color("#9ECE6A")).
			Bold(true).
			Padding(0, 1)
)

func renderOfflineBanner(w io.Writer) {
	fmt.Fprintln(w, offlineStyle.Render("You are offline. Changes will be saved locally and synced when you're back online."))
}

func renderOnlineBanner(w io.Writer) {
	fmt.Fprintln(w, onlineStyle.Render("Back online. Syncing queued changes."))
}

func renderDiscard(w io.Writer, op notesync.PendingOperation, err error) {
	fmt.Fprintf(w, "%s dropped queued %s of note %s: %v\n", pendingStyle.Render("!"), op.Action, op.Note.ID, err)
}

func renderPark(w io.Writer, op notesync.PendingOperation, err error) {
	fmt.Fprintf(w, "%s parked queued %s of note %s after %d attempts: %v (run \"notes sync --retry-parked\" to try again)\n",
		pendingStyle.Render("!"), op.Action, op.Note.ID, op.Attempts, err)
}

func renderNotes(w io.Writer, items []notes.Note, now time.Time) {
	if len(items) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No notes yet."))
		return
	}
	for i, note := range items {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s  %s  %s\n", renderID(note.ID), titleStyle.Render(displayTitle(note.Title)), mutedStyle.Render(relativeTime(note.UpdatedAt, now)))
		if preview := contentPreview(note.Content); preview != "" {
			fmt.Fprintf(w, "    %s\n", preview)
		}
	}
}

func renderNote(w io.Writer, note notes.Note, now time.Time) {
	fmt.Fprintf(w, "%s  %s\n", renderID(note.ID), titleStyle.Render(displayTitle(note.Title)))
	times := "updated " + relativeTime(note.UpdatedAt, now)
	if !note.CreatedAt.IsZero() {
		times = "created " + relativeTime(note.CreatedAt, now) + ", " + times
	}
	fmt.Fprintln(w, mutedStyle.Render(times))
	if note.Content != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, note.Content)
	}
}

func renderReport(w io.Writer, report notesync.ReplayReport, remaining int, online bool) {
	switch {
	case report.Skipped:
		fmt.Fprintln(w, mutedStyle.Render("A sync is already running."))
		return
	case !online:
		fmt.Fprintf(w, "%s %s still queued\n", pendingStyle.Render("offline:"), pluralOps(remaining))
		return
	}
	fmt.Fprintf(w, "%s %d synced, %d failed, %d waiting, %d dropped, %d parked; %s still queued\n",
		okStyle.Render("sync:"), report.Succeeded, report.Failed, report.Deferred, report.Discarded, report.Parked, pluralOps(remaining))
}

func renderStatus(w io.Writer, server string, online bool, pending, parked []notesync.PendingOperation, now time.Time) {
	state := okStyle.Render("online")
	if !online {
		state = pendingStyle.Render("offline")
	}
	fmt.Fprintf(w, "server  %s (%s)\n", server, state)
	fmt.Fprintf(w, "queue   %s\n", pluralOps(len(pending)))
	for _, op := range pending {
		line := fmt.Sprintf("  %-6s %s  %s", op.Action, renderID(op.Note.ID), mutedStyle.Render("queued "+relativeTime(op.EnqueuedAt, now)))
		if op.Attempts > 0 {
			line += mutedStyle.Render(fmt.Sprintf("  %d failed attempts, last: %s", op.Attempts, op.LastError))
		}
		fmt.Fprintln(w, line)
	}
	if len(parked) == 0 {
		return
	}
	fmt.Fprintf(w, "parked  %s (notes sync --retry-parked)\n", pluralOps(len(parked)))
	for _, op := range parked {
		fmt.Fprintf(w, "  %-6s %s  %s\n", op.Action, renderID(op.Note.ID), mutedStyle.Render("last error: "+op.LastError))
	}
}

func renderJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func renderID(id string) string {
	if notes.IsTemporaryID(id) {
		return pendingStyle.Render(id + " (pending)")
	}
	return idStyle.Render("#" + id)
}

func displayTitle(title string) string {
	if strings.TrimSpace(title) == "" {
		return "(untitled)"
	}
	return title
}

func contentPreview(content string) string {
	content = strings.Join(strings.Fields(content), " ")
	if len([]rune(content)) <= previewWidth {
		return content
	}
	return string([]rune(content)[:previewWidth-1]) + "…"
}

func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func pluralOps(n int) string {
	if n == 1 {
		return "1 change"
	}
	return humanize.Comma(int64(n)) + " changes"
}
