package main

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teleprompt/autocue/internal/config"
)

// --- format ---

var formatCmd = &cobra.Command{
	Use:   "format [file]",
	Short: "Format a raw transcript into a teleprompter script",
	Long: `Format a raw transcript into a teleprompter-ready script.

Reads the transcript from the given file, or from stdin when no file is
given. The formatted script is written to stdout; progress goes to stderr.

Examples:
  autocue format transcript.txt
  cat transcript.txt | autocue format
  autocue format transcript.txt --model mistral-nemo --examples id1,id2`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		model, _ := cmd.Flags().GetString("model")
		exampleIDs, _ := cmd.Flags().GetString("examples")
		output, _ := cmd.Flags().GetString("output")

		var input []byte
		var err error
		if len(args) == 1 {
			input, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading input file: %w", err)
			}
		} else {
			input, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("reading stdin: %w", err)
			}
		}
		if strings.TrimSpace(string(input)) == "" {
			return fmt.Errorf("input is empty")
		}

		req := map[string]any{
			"input":  string(input),
			"stream": true,
		}
		if model != "" {
			req["model"] = model
		}
		if exampleIDs != "" {
			req["enabled_example_ids"] = splitCSV(exampleIDs)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.postStream(cmd.Context(), "/v1/format", req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		result, err := renderFormatStream(resp.Body)
		if err != nil {
			return err
		}

		if output != "" {
			if err := os.WriteFile(output, []byte(result.Text+"\n"), 0o644); err != nil {
				return fmt.Errorf("writing output file: %w", err)
			}
			printSuccess("Script written to %s", output)
			return nil
		}
		fmt.Println(result.Text)
		return nil
	},
}

type formatResult struct {
	ID           string `json:"id"`
	Text         string `json:"text"`
	Model        string `json:"model"`
	ExampleCount int    `json:"example_count"`
	Attempts     int    `json:"attempts"`
}

// renderFormatStream consumes the SSE response from /v1/format, printing
// progress and status to stderr, and returns the final result event.
func renderFormatStream(body io.Reader) (*formatResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var event string
	var result *formatResult
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data := strings.TrimPrefix(line, "data: ")
			switch event {
			case "progress":
				var p struct {
					Percent int `json:"percent"`
				}
				if json.Unmarshal([]byte(data), &p) == nil {
					fmt.Fprintf(os.Stderr, "\r%s %3d%%", colorize(colorCyan, "formatting"), p.Percent)
				}
			case "status":
				var s struct {
					Message      string `json:"message"`
					ExampleCount int    `json:"example_count"`
				}
				if json.Unmarshal([]byte(data), &s) == nil {
					fmt.Fprintf(os.Stderr, "\r\033[K")
					printStep("%s", s.Message)
				}
			case "error":
				var e struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				}
				if json.Unmarshal([]byte(data), &e) != nil {
					return nil, fmt.Errorf("formatting failed")
				}
				fmt.Fprintf(os.Stderr, "\r\033[K")
				return nil, fmt.Errorf("formatting failed: %s", e.Message)
			case "result":
				var r formatResult
				if err := json.Unmarshal([]byte(data), &r); err != nil {
					return nil, fmt.Errorf("parsing result: %w", err)
				}
				result = &r
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("stream ended without a result")
	}

	fmt.Fprintf(os.Stderr, "\r\033[K")
	suffix := ""
	if result.Attempts > 1 {
		suffix = fmt.Sprintf(" after %d attempts", result.Attempts)
	}
	printSuccess("Formatted with %d example(s)%s", result.ExampleCount, suffix)
	return result, nil
}

func init() {
	formatCmd.Flags().String("model", "", "generation model (default: server config)")
	formatCmd.Flags().String("examples", "", "comma-separated example IDs to use")
	formatCmd.Flags().String("output", "", "write the script to a file instead of stdout")
}

// --- examples ---

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Manage the before/after example corpus",
}

var examplesUploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload a before/after example pair",
	Long: `Upload a before/after example pair to the corpus.

The raw transcript comes from --file (text or PDF) or --url; the polished
script comes from --after.

Examples:
  autocue examples upload --file raw.txt --after polished.txt --title "Intro talk"
  autocue examples upload --file talk.pdf --after polished.txt --category educational
  autocue examples upload --url https://example.com/transcript --after polished.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		url, _ := cmd.Flags().GetString("url")
		after, _ := cmd.Flags().GetString("after")
		title, _ := cmd.Flags().GetString("title")
		category, _ := cmd.Flags().GetString("category")
		tagsStr, _ := cmd.Flags().GetString("tags")
		quality, _ := cmd.Flags().GetInt("quality")

		if (file == "") == (url == "") {
			return fmt.Errorf("exactly one of --file or --url is required")
		}
		if after == "" {
			return fmt.Errorf("--after is required")
		}
		if title == "" {
			return fmt.Errorf("--title is required")
		}

		afterText, err := os.ReadFile(after)
		if err != nil {
			return fmt.Errorf("reading after file: %w", err)
		}

		req := map[string]any{
			"title":      title,
			"after_text": string(afterText),
		}
		if category != "" {
			req["category"] = category
		}
		if tagsStr != "" {
			req["tags"] = splitCSV(tagsStr)
		}
		if quality > 0 {
			req["quality_score"] = quality
		}

		switch {
		case url != "":
			req["url"] = url
		case strings.EqualFold(filepath.Ext(file), ".pdf"):
			// PDF text extraction happens server-side.
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["file_base64"] = base64.StdEncoding.EncodeToString(data)
			req["filename"] = filepath.Base(file)
		default:
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req["before_text"] = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/examples", req)
		if err != nil {
			return err
		}

		var created struct {
			ID       string `json:"id"`
			Category string `json:"category"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Uploaded example %s (category: %s)", created.ID, created.Category)
		return nil
	},
}

var examplesReplaceCmd = &cobra.Command{
	Use:   "replace <id>",
	Short: "Replace the text of a user-uploaded example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		after, _ := cmd.Flags().GetString("after")

		if file == "" || after == "" {
			return fmt.Errorf("both --file and --after are required")
		}

		beforeText, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		afterText, err := os.ReadFile(after)
		if err != nil {
			return fmt.Errorf("reading after file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{
			"before_text": string(beforeText),
			"after_text":  string(afterText),
		}
		resp, err := client.put(cmd.Context(), "/v1/examples/"+args[0], req)
		if err != nil {
			return err
		}

		var updated struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &updated); err != nil {
			return err
		}

		printSuccess("Replaced example %s", args[0])
		return nil
	},
}

var examplesDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user-uploaded example",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/examples/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		printSuccess("Deleted example %s", args[0])
		return nil
	},
}

var examplesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List examples in the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/examples")
		if err != nil {
			return err
		}

		var body struct {
			Examples []struct {
				ID           string   `json:"id"`
				Title        string   `json:"title"`
				Category     string   `json:"category"`
				Tags         []string `json:"tags"`
				WordCount    int      `json:"word_count"`
				QualityScore int      `json:"quality_score"`
				Source       string   `json:"source"`
			} `json:"examples"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Examples) == 0 {
			fmt.Println("No examples found.")
			return nil
		}

		for _, ex := range body.Examples {
			marker := " "
			if ex.Source == "bundled" {
				marker = "*"
			}
			line := fmt.Sprintf("%s %s  %-12s  %5dw", marker, colorize(colorCyan, shortID(ex.ID)), ex.Category, ex.WordCount)
			if ex.QualityScore > 0 {
				line += fmt.Sprintf("  q%d", ex.QualityScore)
			}
			fmt.Printf("%s  %s\n", line, ex.Title)
		}
		return nil
	},
}

var examplesReindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Re-embed every stored example with the current embed model",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/examples/reindex", nil)
		if err != nil {
			return err
		}

		var queued struct {
			Jobs int `json:"jobs"`
		}
		if err := decodeJSON(resp, &queued); err != nil {
			return err
		}

		printSuccess("Queued %d reindex job(s)", queued.Jobs)
		return nil
	},
}

func init() {
	examplesUploadCmd.Flags().String("file", "", "raw transcript file (text or PDF)")
	examplesUploadCmd.Flags().String("url", "", "URL to fetch the raw transcript from")
	examplesUploadCmd.Flags().String("after", "", "file holding the polished script")
	examplesUploadCmd.Flags().String("title", "", "example title")
	examplesUploadCmd.Flags().String("category", "", "category (suggested automatically when omitted)")
	examplesUploadCmd.Flags().String("tags", "", "comma-separated tags")
	examplesUploadCmd.Flags().Int("quality", 0, "quality score 1-5")

	examplesReplaceCmd.Flags().String("file", "", "new raw transcript file")
	examplesReplaceCmd.Flags().String("after", "", "new polished script file")

	examplesCmd.AddCommand(examplesUploadCmd)
	examplesCmd.AddCommand(examplesReplaceCmd)
	examplesCmd.AddCommand(examplesDeleteCmd)
	examplesCmd.AddCommand(examplesListCmd)
	examplesCmd.AddCommand(examplesReindexCmd)
}

// --- results ---

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Browse formatted script history",
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent results",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/results?limit=%d", limit))
		if err != nil {
			return err
		}

		var body struct {
			Results []struct {
				ID           string `json:"id"`
				Model        string `json:"model"`
				ExampleCount int    `json:"example_count"`
				CreatedAt    string `json:"created_at"`
			} `json:"results"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		if len(body.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for _, res := range body.Results {
			fmt.Printf("%s  %s  %s (%d examples)\n",
				colorize(colorCyan, shortID(res.ID)),
				res.CreatedAt,
				res.Model,
				res.ExampleCount,
			)
		}
		return nil
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single result as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/results/"+args[0])
		if err != nil {
			return err
		}

		var result any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

var resultsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/results/"+args[0])
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
		}

		printSuccess("Deleted result %s", args[0])
		return nil
	},
}

func init() {
	resultsListCmd.Flags().Int("limit", 20, "maximum number of results to list")
	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsCmd.AddCommand(resultsDeleteCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available generation models",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var body struct {
			Models  []string `json:"models"`
			Default string   `json:"default"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}

		for _, m := range body.Models {
			if m == body.Default {
				fmt.Printf("%s %s\n", colorize(colorGreen, "*"), m)
			} else {
				fmt.Printf("  %s\n", m)
			}
		}
		return nil
	},
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

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// shortID abbreviates UUIDs for list output. Bundled records carry short
// human-readable IDs which are shown whole.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
