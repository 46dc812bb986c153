package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pkorolov/weir/internal/config"
	"github.com/pkorolov/weir/internal/coordinator"
	"github.com/pkorolov/weir/internal/telemetry"
)

// --- query ---

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question through the hybrid coordinator",
	Long: `Ask a question through the hybrid coordinator.

The daemon retrieves learned context, routes between the local model and
the remote API, and records the interaction for later scoring.

Examples:
  weir query "how do I profile goroutine leaks"
  weir query --mode local_only "explain this stack trace"
  weir query --category error-fix "sqlite database is locked"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.Join(args, " ")
		mode, _ := cmd.Flags().GetString("mode")
		category, _ := cmd.Flags().GetString("category")
		verbose, _ := cmd.Flags().GetBool("verbose")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/query", map[string]any{
			"query":    question,
			"mode":     mode,
			"category": category,
		})
		if err != nil {
			return err
		}

		var answer coordinator.Answer
		if err := decodeJSON(resp, &answer); err != nil {
			return err
		}

		fmt.Println(answer.Response)
		if verbose {
			fmt.Fprintln(os.Stderr)
			printStatus("Interaction", "%s", answer.InteractionID)
			printStatus("Backend", "%s (%s)", answer.Backend, answer.RoutingReason)
			printStatus("Context", "%d match(es), best %.2f", answer.ContextUsed, answer.BestRetrievalScore)
			printStatus("Value score", "%.2f", answer.ValueScore)
			if answer.Fallback != "" {
				printWarning("%s", answer.Fallback)
			}
		}
		return nil
	},
}

func init() {
	queryCmd.Flags().String("mode", "", "routing mode: auto, local_only, remote_only")
	queryCmd.Flags().String("category", "", "category tag, e.g. error-fix")
	queryCmd.Flags().BoolP("verbose", "v", false, "show routing and scoring details")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over learned context without invoking a model",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/recall?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			Collection string  `json:"collection"`
			ID         string  `json:"id"`
			Score      float64 `json:"score"`
			Text       string  `json:"text"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [%s, score %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Collection, r.Score)
			fmt.Printf("  %s\n", r.Text)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest knowledge into the best-practices collection",
	Long: `Ingest knowledge into the best-practices collection.

Examples:
  weir ingest --text "Always set busy_timeout when sharing a SQLite file" --tags sqlite
  weir ingest --file ./runbooks/incident-response.pdf --tags ops
  weir ingest --file ./notes.md --title "Deploy notes"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}

		var tags []string
		if tagsStr != "" {
			tags = strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
		}

		// Files (including PDFs) are ingested daemon-side so the text
		// extraction happens where the embedder lives.
		req := map[string]any{"source": "cli"}
		if title != "" {
			req["title"] = title
		}
		if tags != nil {
			req["tags"] = tags
		}
		switch {
		case text != "":
			req["content"] = text
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["content"] = string(data)
			req["source"] = file
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var result struct {
			IDs    []string `json:"ids"`
			Chunks int      `json:"chunks"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored %d chunk(s)", result.Chunks)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest")
	ingestCmd.Flags().String("title", "", "title for the document")
	ingestCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <interaction-id>",
	Short: "Confirm or reject an earlier answer",
	Long: `Confirm or reject an earlier answer. The interaction's value score is
recomputed and a correction record is appended; the original record is
never modified.

Examples:
  weir feedback 7b9e... --confirm
  weir feedback 7b9e... --reject --notes "suggested flag does not exist"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		partial, _ := cmd.Flags().GetBool("partial")
		reject, _ := cmd.Flags().GetBool("reject")
		notes, _ := cmd.Flags().GetString("notes")

		var confirmation string
		switch {
		case confirm:
			confirmation = "confirmed"
		case partial:
			confirmation = "partial"
		case reject:
			confirmation = "failed"
		default:
			return fmt.Errorf("one of --confirm, --partial, or --reject is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/interactions/"+args[0]+"/feedback", map[string]any{
			"confirmation": confirmation,
			"notes":        notes,
		})
		if err != nil {
			return err
		}

		var rec telemetry.Record
		if err := decodeJSON(resp, &rec); err != nil {
			return err
		}

		if rec.ValueScore != nil {
			printSuccess("Recorded %s feedback (value score now %.2f)", confirmation, *rec.ValueScore)
		} else {
			printSuccess("Recorded %s feedback", confirmation)
		}
		return nil
	},
}

func init() {
	feedbackCmd.Flags().Bool("confirm", false, "the answer worked")
	feedbackCmd.Flags().Bool("partial", false, "the answer partially worked")
	feedbackCmd.Flags().Bool("reject", false, "the answer did not work")
	feedbackCmd.Flags().String("notes", "", "free-text notes about the outcome")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show learning statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/stats")
		if err != nil {
			return err
		}

		var stats telemetry.Stats
		if err := decodeJSON(resp, &stats); err != nil {
			return err
		}

		printStatus("Interactions", "%d", stats.Total)
		for b, n := range stats.ByBackend {
			printStatus("  "+b, "%d", n)
		}
		for o, n := range stats.ByOutcome {
			printStatus("  "+o, "%d", n)
		}
		if stats.ScoredCount > 0 {
			printStatus("Avg value score", "%.2f (%d scored)", stats.AverageValueScore, stats.ScoredCount)
		}
		printStatus("Served locally", "%d", stats.LocalServed)
		printStatus("Est. tokens saved", "%d", stats.EstimatedTokensSaved)
		printStatus("Est. cost saved", "$%.2f", stats.EstimatedCostSavedUSD)
		return nil
	},
}

// --- patterns ---

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "List extracted patterns",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/patterns")
		if err != nil {
			return err
		}

		var patterns []struct {
			ID            string   `json:"id"`
			Name          string   `json:"name"`
			Type          string   `json:"type"`
			Keywords      []string `json:"trigger_keywords"`
			SourceCount   int      `json:"source_count"`
			AvgValueScore float64  `json:"avg_value_score"`
			Version       int      `json:"version"`
		}
		if err := decodeJSON(resp, &patterns); err != nil {
			return err
		}

		if len(patterns) == 0 {
			fmt.Println("No patterns extracted yet.")
			return nil
		}

		for _, p := range patterns {
			fmt.Printf("%s  %s (v%d, %s)\n", colorize(colorCyan, p.ID[:8]), colorize(colorBold, p.Name), p.Version, p.Type)
			fmt.Printf("  sources: %d  avg score: %.2f  keywords: %s\n",
				p.SourceCount, p.AvgValueScore, strings.Join(p.Keywords, ", "))
		}
		return nil
	},
}

// --- extract ---

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run pattern extraction now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running pattern extraction...")
		resp, err := client.post(cmd.Context(), "/extract", nil)
		if err != nil {
			return err
		}

		var result struct {
			Considered int `json:"considered"`
			Clusters   int `json:"clusters"`
			Created    int `json:"created"`
			Updated    int `json:"updated"`
			Unchanged  int `json:"unchanged"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Considered %d interaction(s), %d cluster(s): %d created, %d updated, %d unchanged",
			result.Considered, result.Clusters, result.Created, result.Updated, result.Unchanged)
		return nil
	},
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Exchange high-value knowledge with peer installations",
}

var syncExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write federation snapshots to the export directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync/export", nil)
		if err != nil {
			return err
		}

		var result struct {
			Files    []string `json:"files"`
			Exported int      `json:"exported"`
			Pruned   int      `json:"pruned"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, f := range result.Files {
			printStep("wrote %s", f)
		}
		printSuccess("Exported %d payload(s), pruned %d old snapshot(s)", result.Exported, result.Pruned)
		return nil
	},
}

var syncImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import the newest snapshots from configured peer directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/sync/import", nil)
		if err != nil {
			return err
		}

		var result struct {
			SnapshotsRead int `json:"snapshots_read"`
			Malformed     int `json:"malformed"`
			Imported      int `json:"imported"`
			Skipped       int `json:"skipped"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Read %d snapshot(s): %d imported, %d skipped, %d malformed",
			result.SnapshotsRead, result.Imported, result.Skipped, result.Malformed)
		return nil
	},
}

func init() {
	syncCmd.AddCommand(syncExportCmd)
	syncCmd.AddCommand(syncImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(config.DefaultConfigPath(), key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(config.DefaultConfigPath())
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List valid configuration keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(config.ValidKeys())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configKeysCmd)
}
