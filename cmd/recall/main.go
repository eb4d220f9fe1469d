package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"github.com/Napageneral/recall/internal/bridge"
	"github.com/Napageneral/recall/internal/config"
	"github.com/Napageneral/recall/internal/db"
	"github.com/Napageneral/recall/internal/embed"
	"github.com/Napageneral/recall/internal/identity"
	"github.com/Napageneral/recall/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
)

func main() {
	// Best-effort: the embedder API key may live in a local .env.
	_ = godotenv.Load()

	log.DefaultLogger = log.Logger{
		Level:  log.InfoLevel,
		Writer: &log.ConsoleWriter{Writer: os.Stderr},
	}

	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "Personal communications memory engine",
		Long: `Recall ingests messages, emails and notes from many channels into a
hybrid vector+lexical store and maintains a resolved identity graph of
the people behind them.`,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(annotateCmd())
	rootCmd.AddCommand(goldenCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(suggestionsCmd())
	rootCmd.AddCommand(bridgeLogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// open wires the engine: database, embedding provider, store, registry,
// bridge. The provider loads lazily so read-only commands never pay for it.
func open() (*sql.DB, *store.Store, *identity.Registry, *bridge.Bridge, *config.Config) {
	cfg, err := config.Load()
	if err != nil {
		fail("failed to load config: %v", err)
	}
	conn, err := db.Open()
	if err != nil {
		fail("failed to open database: %v", err)
	}

	provider := embed.NewLazy(cfg.Embedder.Dimension, func() (embed.Provider, error) {
		return embed.NewHTTPProvider(embed.HTTPOptions{
			Endpoint:          cfg.Embedder.Endpoint,
			APIKey:            os.Getenv("RECALL_EMBED_API_KEY"),
			Model:             cfg.Embedder.Model,
			Dimension:         cfg.Embedder.Dimension,
			RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
			BurstSize:         cfg.Embedder.BurstSize,
		})
	})

	st := store.New(conn, provider)
	registry := identity.New(conn)
	br := bridge.New(conn, st, registry, cfg)
	return conn, st, registry, br, cfg
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{"version": version, "commit": commit, "date": buildDate})
			} else {
				fmt.Printf("recall %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize recall config and database",
		Run: func(cmd *cobra.Command, args []string) {
			configDir, err := config.GetConfigDir()
			if err != nil {
				fail("failed to get config directory: %v", err)
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail("failed to create config directory: %v", err)
			}
			cfg, err := config.Load()
			if err != nil {
				fail("failed to load config: %v", err)
			}
			if err := cfg.Save(); err != nil {
				fail("failed to write config: %v", err)
			}
			if err := db.Init(); err != nil {
				fail("failed to initialize database: %v", err)
			}
			dbPath, _ := db.GetPath()
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "config_dir": configDir, "db_path": dbPath})
			} else {
				fmt.Printf("Initialized.\n  config: %s\n  db:     %s\n", configDir, dbPath)
			}
		},
	}
}

func ingestCmd() *cobra.Command {
	var dryRun, failFast, watch bool
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest raw inbound events from a JSON file or stdin",
		Long: `Reads a single event object or {"events": [...]} and runs each through
the channel bridge: normalize, policy gate, dedupe, embed, persist.`,
		Args: cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			var data []byte
			var err error
			if len(args) == 1 && args[0] != "-" {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				fail("failed to read events: %v", err)
			}

			raws, err := bridge.DecodePayload(data)
			if err != nil {
				fail("failed to decode payload: %v", err)
			}

			conn, _, _, br, cfg := open()
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			if watch {
				go func() {
					if err := config.Watch(ctx, cfg); err != nil && ctx.Err() == nil {
						log.Warn().Err(err).Msg("config watch stopped")
					}
				}()
			}

			result, err := br.IngestMany(ctx, raws, bridge.IngestOptions{DryRun: dryRun, FailFast: failFast})
			if err != nil {
				if jsonOutput {
					printJSON(map[string]any{"ok": false, "error": err.Error(), "result": result})
				}
				fail("%v", err)
			}
			if jsonOutput {
				printJSON(result)
			} else {
				fmt.Printf("accepted=%d skipped=%d errors=%d\n", result.Accepted, result.Skipped, result.Errors)
			}
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Normalize without persisting")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop at the first failing event")
	cmd.Flags().BoolVar(&watch, "watch-config", false, "Hot-reload channel policy while ingesting")
	return cmd
}

func searchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Hybrid vector+lexical search over the corpus",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
			defer cancel()

			results, err := st.HybridSearch(ctx, strings.Join(args, " "), limit)
			if err != nil {
				fail("search failed: %v", err)
			}
			if jsonOutput {
				printJSON(results)
				return
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.Score, r.ID, firstLine(r.Text))
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Max results")
	return cmd
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <path-prefix>",
		Short: "List documents for a conversation path prefix",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			docs, err := st.HistoryByPrefix(context.Background(), args[0])
			if err != nil {
				fail("history failed: %v", err)
			}
			if jsonOutput {
				printJSON(docs)
				return
			}
			for _, d := range docs {
				fmt.Println(firstLine(d.Text))
			}
		},
	}
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "Per-conversation summary index",
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			index, err := st.ConversationIndex(context.Background())
			if err != nil {
				fail("conversation index failed: %v", err)
			}
			if jsonOutput {
				printJSON(index)
				return
			}
			handles := make([]string, 0, len(index))
			for h := range index {
				handles = append(handles, h)
			}
			sort.Strings(handles)
			for _, h := range handles {
				s := index[h]
				fmt.Printf("%s (%s, %d msgs)  %s\n", s.Handle, s.Channel, s.Count, firstLine(s.LastText))
			}
		},
	}
}

func annotateCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "annotate <id>",
		Short: "Mark a document as a golden example",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			if err := st.Annotate(context.Background(), args[0], !clear); err != nil {
				fail("annotate failed: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "id": args[0], "golden": !clear})
			}
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the flag instead of setting it")
	return cmd
}

func goldenCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "golden",
		Short: "List curated golden examples",
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			docs, err := st.GoldenExamples(context.Background(), limit)
			if err != nil {
				fail("golden list failed: %v", err)
			}
			printDocs(docs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Max results")
	return cmd
}

func pendingCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List machine-generated suggestions awaiting review",
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			docs, err := st.PendingSuggestions(context.Background(), limit)
			if err != nil {
				fail("pending list failed: %v", err)
			}
			printDocs(docs)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Max results")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a document",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			conn, st, _, _, _ := open()
			defer conn.Close()

			if err := st.Delete(context.Background(), args[0]); err != nil {
				fail("delete failed: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "id": args[0]})
			}
		},
	}
}

func bridgeLogCmd() *cobra.Command {
	var limit int
	var summary bool
	cmd := &cobra.Command{
		Use:   "bridge-log",
		Short: "Inspect the inbound bridge event log",
		Run: func(cmd *cobra.Command, args []string) {
			conn, _, _, br, _ := open()
			defer conn.Close()

			ctx := context.Background()
			if summary {
				s, err := br.Summary(ctx)
				if err != nil {
					fail("summary failed: %v", err)
				}
				if jsonOutput {
					printJSON(s)
				} else {
					fmt.Printf("total=%d ingested=%d duplicate=%d error=%d\n",
						s.Total, s.ByStatus[bridge.StatusIngested], s.ByStatus[bridge.StatusDuplicate], s.ByStatus[bridge.StatusError])
				}
				return
			}

			entries, err := br.ReadEventLog(ctx, limit)
			if err != nil {
				fail("bridge log failed: %v", err)
			}
			if jsonOutput {
				printJSON(entries)
				return
			}
			for _, e := range entries {
				fmt.Printf("%s  %-10s %-10s %s\n", e.At.Format(time.RFC3339), e.Channel, e.Status, e.Detail)
			}
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Max entries")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print the aggregated rollup instead of entries")
	return cmd
}

func printDocs(docs []store.Document) {
	if jsonOutput {
		printJSON(docs)
		return
	}
	for _, d := range docs {
		fmt.Printf("%s  %s\n", d.ID, firstLine(d.Text))
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}
