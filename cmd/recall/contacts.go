package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Napageneral/recall/internal/identity"
)

func contactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contacts",
		Short: "Manage the identity registry",
	}
	cmd.AddCommand(contactsListCmd())
	cmd.AddCommand(contactsShowCmd())
	cmd.AddCommand(contactsSearchCmd())
	cmd.AddCommand(contactsMergeCmd())
	cmd.AddCommand(contactsTouchCmd())
	cmd.AddCommand(contactsNoteCmd())
	return cmd
}

func contactsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all contacts by recency",
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			contacts, err := registry.ListContacts(context.Background())
			if err != nil {
				fail("list failed: %v", err)
			}
			printContacts(contacts)
		},
	}
}

func contactsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <handle-or-id>",
		Short: "Resolve a handle to its canonical contact",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			contact, err := registry.Resolve(context.Background(), args[0])
			if err != nil {
				fail("resolve failed: %v", err)
			}
			if contact == nil {
				fail("no contact matches %q", args[0])
			}
			if jsonOutput {
				printJSON(contact)
				return
			}
			fmt.Printf("%s  %s\n", contact.ID, contact.DisplayName)
			for kind, aliases := range contact.Channels {
				fmt.Printf("  %s: %s\n", kind, strings.Join(aliases, ", "))
			}
			for _, n := range contact.Notes {
				fmt.Printf("  note %s: %s\n", n.ID, n.Text)
			}
		},
	}
}

func contactsSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <term>",
		Short: "Find contacts by name or alias substring",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			contacts, err := registry.SearchContacts(context.Background(), strings.Join(args, " "))
			if err != nil {
				fail("search failed: %v", err)
			}
			printContacts(contacts)
		},
	}
}

func contactsMergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <target-id> <source-id>",
		Short: "Merge the source contact into the target",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			if err := registry.Merge(context.Background(), args[0], args[1]); err != nil {
				fail("merge failed: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "target": args[0], "source": args[1]})
			} else {
				fmt.Printf("merged %s into %s\n", args[1], args[0])
			}
		},
	}
}

func contactsTouchCmd() *cobra.Command {
	var channel, at string
	cmd := &cobra.Command{
		Use:   "touch <handle>",
		Short: "Record an interaction with a handle",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ts := time.Now().UTC()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					fail("bad --at timestamp: %v", err)
				}
				ts = parsed
			}

			conn, _, registry, _, _ := open()
			defer conn.Close()

			contact, err := registry.RecordContact(context.Background(), args[0], ts, channel)
			if err != nil {
				fail("record failed: %v", err)
			}
			if jsonOutput {
				printJSON(contact)
			} else {
				fmt.Printf("%s  last contacted %s via %s\n", contact.ID, contact.LastContacted.Format(time.RFC3339), contact.LastChannel)
			}
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "Channel of the interaction")
	cmd.Flags().StringVar(&at, "at", "", "Interaction time (RFC3339, default now)")
	return cmd
}

func contactsNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage contact notes",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <contact-id> <text>",
		Short: "Append a note",
		Args:  cobra.MinimumNArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			note, err := registry.AddNote(context.Background(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				fail("add note failed: %v", err)
			}
			if jsonOutput {
				printJSON(note)
			} else {
				fmt.Println(note.ID)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <contact-id> <note-id>",
		Short: "Delete a note",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			if err := registry.DeleteNote(context.Background(), args[0], args[1]); err != nil {
				fail("delete note failed: %v", err)
			}
		},
	})
	return cmd
}

func suggestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Review staged contact suggestions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list <contact-id>",
		Short: "List pending suggestions for a contact",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			suggestions, err := registry.ListSuggestions(context.Background(), args[0], identity.StatusPending)
			if err != nil {
				fail("list failed: %v", err)
			}
			if jsonOutput {
				printJSON(suggestions)
				return
			}
			for _, s := range suggestions {
				fmt.Printf("%s  %-14s %s\n", s.ID, s.Kind, s.Content)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stage <handle> <kind> <content>",
		Short: "Stage a suggestion for review",
		Args:  cobra.MinimumNArgs(3),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			s, staged, err := registry.StageSuggestion(context.Background(), args[0], args[1], strings.Join(args[2:], " "))
			if err != nil {
				fail("stage failed: %v", err)
			}
			if !staged {
				fmt.Println("already staged or previously declined")
				return
			}
			if jsonOutput {
				printJSON(s)
			} else {
				fmt.Println(s.ID)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "accept <suggestion-id>",
		Short: "Apply a suggestion",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			if err := registry.AcceptSuggestion(context.Background(), args[0]); err != nil {
				fail("accept failed: %v", err)
			}
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "decline <suggestion-id>",
		Short: "Decline a suggestion; its content is never re-suggested",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, registry, _, _ := open()
			defer conn.Close()

			if err := registry.DeclineSuggestion(context.Background(), args[0]); err != nil {
				fail("decline failed: %v", err)
			}
		},
	})
	return cmd
}

func printContacts(contacts []*identity.Contact) {
	if jsonOutput {
		printJSON(contacts)
		return
	}
	for _, c := range contacts {
		last := ""
		if !c.LastContacted.IsZero() {
			last = c.LastContacted.Format("2006-01-02") + " via " + c.LastChannel
		}
		fmt.Printf("%s  %-24s %s\n", c.ID, c.DisplayName, last)
	}
}
