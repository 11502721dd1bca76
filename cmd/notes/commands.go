package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentworkforce/notesync/internal/notes"
	"github.com/spf13/cobra"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List notes, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				items, err := s.engine.List(ctx)
				if err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return renderJSON(a.stdout, items)
				}
				renderNotes(a.stdout, items, timeNow())
				return nil
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				note, err := s.engine.Get(ctx, strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return renderJSON(a.stdout, note)
				}
				renderNote(a.stdout, note, timeNow())
				return nil
			})
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a note",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := inputFromFlags(cmd)
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				note, err := s.engine.Create(ctx, in)
				if err != nil {
					return err
				}
				return a.printSaved(note, "created", s.synced(note.ID))
			})
		},
	}
	cmd.Flags().String("title", "", "note title")
	cmd.Flags().String("content", "", "note body")
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Update a note's title and/or content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			in := inputFromFlags(cmd)
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				// A flag left out keeps the current value.
				if in.Title == nil || in.Content == nil {
					current, err := s.engine.Get(ctx, id)
					if err != nil {
						return err
					}
					if in.Title == nil {
						in.Title = &current.Title
					}
					if in.Content == nil {
						in.Content = &current.Content
					}
				}
				note, err := s.engine.Update(ctx, id, in)
				if err != nil {
					return err
				}
				return a.printSaved(note, "updated", s.synced(note.ID))
			})
		},
	}
	cmd.Flags().String("title", "", "new title")
	cmd.Flags().String("content", "", "new body")
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				err := s.engine.Delete(ctx, id)
				if err != nil && !errors.Is(err, notes.ErrNotFound) {
					return err
				}
				if err != nil {
					fmt.Fprintf(a.stdout, "note %s removed locally; the server did not have it\n", id)
					return nil
				}
				fmt.Fprintf(a.stdout, "note %s deleted%s\n", id, pendingSuffix(len(s.queued) == 0))
				return nil
			})
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var retryParked bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes against the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				if retryParked {
					moved, err := s.engine.RetryParked()
					if err != nil {
						return err
					}
					if moved > 0 {
						fmt.Fprintf(a.stdout, "requeued %s\n", pluralOps(moved))
					}
				}
				report, err := s.engine.Replay(ctx)
				if err != nil {
					return err
				}
				pending, err := s.engine.Pending()
				if err != nil {
					return err
				}
				renderReport(a.stdout, report, len(pending), s.engine.Online())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&retryParked, "retry-parked", false, "requeue changes that ran out of attempts before syncing")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queued changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				pending, err := s.engine.Pending()
				if err != nil {
					return err
				}
				parked, err := s.engine.Parked()
				if err != nil {
					return err
				}
				if a.v.GetBool("json") {
					return renderJSON(a.stdout, map[string]any{
						"online":  s.engine.Online(),
						"server":  a.v.GetString("server"),
						"pending": pending,
						"parked":  parked,
					})
				}
				renderStatus(a.stdout, a.v.GetString("server"), s.engine.Online(), pending, parked, timeNow())
				return nil
			})
		},
	}
}

func inputFromFlags(cmd *cobra.Command) notes.NoteInput {
	var in notes.NoteInput
	if cmd.Flags().Changed("title") {
		title, _ := cmd.Flags().GetString("title")
		in.Title = &title
	}
	if cmd.Flags().Changed("content") {
		content, _ := cmd.Flags().GetString("content")
		in.Content = &content
	}
	return in
}

func (a *app) printSaved(note notes.Note, verb string, synced bool) error {
	if a.v.GetBool("json") {
		return renderJSON(a.stdout, note)
	}
	fmt.Fprintf(a.stdout, "note %s %s%s\n", note.ID, verb, pendingSuffix(synced))
	return nil
}

func pendingSuffix(synced bool) string {
	if synced {
		return ""
	}
	return " (queued until the server is reachable)"
}
