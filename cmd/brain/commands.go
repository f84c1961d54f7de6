package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/config"
)

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// --- search / context / stats ---

type searchResult struct {
	ID            string  `json:"id"`
	Content       string  `json:"content"`
	KnowledgeType string  `json:"knowledgeType"`
	Scope         string  `json:"scope"`
	Similarity    float64 `json:"similarity"`
}

type searchResponse struct {
	QueryID string         `json:"queryId"`
	Results []searchResult `json:"results"`
}

func searchBody(cmd *cobra.Command, action, query string) (map[string]any, error) {
	user, _ := cmd.Flags().GetString("user")
	if user == "" {
		return nil, errors.New("--user is required")
	}
	body := map[string]any{"action": action, "query": query, "userId": user}
	if v, _ := cmd.Flags().GetString("project"); v != "" {
		body["projectId"] = v
	}
	if v, _ := cmd.Flags().GetString("role"); v != "" {
		body["roleTag"] = v
	}
	if v, _ := cmd.Flags().GetStringSlice("scope"); len(v) > 0 {
		body["scopes"] = v
	}
	if v, _ := cmd.Flags().GetFloat64("threshold"); v > 0 {
		body["threshold"] = v
	}
	if v, _ := cmd.Flags().GetInt("limit"); v > 0 {
		body["limit"] = v
	}
	return body, nil
}

func addSearchFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "user the search runs as (required)")
	cmd.Flags().String("project", "", "narrow team knowledge to a project")
	cmd.Flags().String("role", "", "narrow role knowledge to a role tag")
	cmd.Flags().StringSlice("scope", nil, "scopes to search: personal, team, role, global")
	cmd.Flags().Float64("threshold", 0, "minimum similarity (server default when unset)")
	cmd.Flags().Int("limit", 0, "maximum results (server default when unset)")
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search team knowledge",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := searchBody(cmd, "search", strings.Join(args, " "))
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp searchResponse
		if err := client.call(cmdContext(cmd), "/query", body, &resp); err != nil {
			return err
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return printJSON(resp)
		}
		if len(resp.Results) == 0 {
			printWarning("No knowledge above the threshold")
			return nil
		}
		for i, r := range resp.Results {
			fmt.Fprintf(stdout, "%d. [%s] %s  %s\n   %s\n", i+1, r.Scope, r.KnowledgeType, printScore(r.Similarity), r.Content)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Print the knowledge block a prompt would receive",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := searchBody(cmd, "getContext", strings.Join(args, " "))
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("max-chars") {
			n, _ := cmd.Flags().GetInt("max-chars")
			body["maxChars"] = n
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Context   string `json:"context"`
			Truncated bool   `json:"truncated"`
		}
		if err := client.call(cmdContext(cmd), "/query", body, &resp); err != nil {
			return err
		}
		fmt.Fprintln(stdout, resp.Context)
		if resp.Truncated {
			printWarning("context was truncated to fit the budget")
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show a user's knowledge and recent queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return errors.New("--user is required")
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Stats struct {
				Total   int            `json:"total"`
				ByScope map[string]int `json:"byScope"`
				ByType  map[string]int `json:"byType"`
			} `json:"stats"`
			RecentQueries []struct {
				Query       string `json:"query"`
				ResultCount int    `json:"resultCount"`
			} `json:"recentQueries"`
		}
		if err := client.call(cmdContext(cmd), "/query", map[string]any{"action": "getStats", "userId": user}, &resp); err != nil {
			return err
		}
		printStatus("Items", "%d", resp.Stats.Total)
		printStatus("By scope", "%s", formatCounts(resp.Stats.ByScope))
		printStatus("By type", "%s", formatCounts(resp.Stats.ByType))
		for _, q := range resp.RecentQueries {
			fmt.Fprintf(stdout, "  %q -> %d results\n", q.Query, q.ResultCount)
		}
		return nil
	},
}

func init() {
	addSearchFlags(searchCmd)
	searchCmd.Flags().Bool("json", false, "print the raw response")
	addSearchFlags(contextCmd)
	contextCmd.Flags().Int("max-chars", 0, "character budget (server default when unset)")
	statsCmd.Flags().String("user", "", "user id (required)")
}

// --- digest / batch / reembed ---

var digestCmd = &cobra.Command{
	Use:   "digest <conversation-id>",
	Short: "Digest a conversation now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"conversationId": args[0]}
		if cmd.Flags().Changed("min-messages") {
			n, _ := cmd.Flags().GetInt("min-messages")
			body["minMessages"] = n
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Created int `json:"created"`
		}
		if err := client.call(cmdContext(cmd), "/digests", body, &resp); err != nil {
			return err
		}
		if resp.Created == 0 {
			printWarning("Nothing to digest in %s", args[0])
			return nil
		}
		printSuccess("Created %d digests for %s", resp.Created, args[0])
		return nil
	},
}

type ingestResult struct {
	Processed    int `json:"processed"`
	Skipped      int `json:"skipped"`
	Failed       int `json:"failed"`
	Updated      int `json:"updated"`
	ItemsCreated int `json:"itemsCreated"`
}

func runIngest(cmd *cobra.Command, action string) (ingestResult, error) {
	body := map[string]any{"action": action}
	if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
		body["limit"] = n
	}
	client, err := newAPIClient()
	if err != nil {
		return ingestResult{}, err
	}
	var resp struct {
		Result ingestResult `json:"result"`
	}
	err = client.call(cmdContext(cmd), "/ingest", body, &resp)
	return resp.Result, err
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Extract knowledge from unprocessed digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runIngest(cmd, "batchProcess")
		if err != nil {
			return err
		}
		printSuccess("Processed %d digests (%d skipped, %d failed), %d items created",
			res.Processed, res.Skipped, res.Failed, res.ItemsCreated)
		return nil
	},
}

var reembedCmd = &cobra.Command{
	Use:   "reembed",
	Short: "Embed items that have no vector or an outdated one",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runIngest(cmd, "reembed")
		if err != nil {
			return err
		}
		printSuccess("Re-embedded %d of %d items (%d failed)", res.Updated, res.Processed, res.Failed)
		return nil
	},
}

func init() {
	digestCmd.Flags().Int("min-messages", 0, "override the minimum number of new messages")
	batchCmd.Flags().Int("limit", 0, "maximum digests to process")
	reembedCmd.Flags().Int("limit", 0, "maximum items to re-embed")
}

// --- confirm / execute ---

type actionView struct {
	ID     string `json:"id"`
	Type   string `json:"actionType"`
	Status string `json:"status"`
}

var confirmCmd = &cobra.Command{
	Use:   "confirm <action-id>",
	Short: "Confirm (or with --reject, reject) a pending action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			return errors.New("--user is required")
		}
		verb := "confirm"
		if reject, _ := cmd.Flags().GetBool("reject"); reject {
			verb = "reject"
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Action actionView `json:"action"`
		}
		path := "/actions/" + url.PathEscape(args[0]) + "/" + verb
		if err := client.call(cmdContext(cmd), path, map[string]any{"userId": user}, &resp); err != nil {
			return err
		}
		printSuccess("%s %s is %s", resp.Action.Type, resp.Action.ID, resp.Action.Status)
		return nil
	},
}

var executeCmd = &cobra.Command{
	Use:   "execute <action-id>",
	Short: "Execute a confirmed action",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var resp struct {
			Action          actionView `json:"action"`
			AlreadyExecuted bool       `json:"alreadyExecuted"`
			Entity          *struct {
				ID      string          `json:"id"`
				Kind    string          `json:"kind"`
				Payload json.RawMessage `json:"payload"`
			} `json:"entity"`
		}
		path := "/actions/" + url.PathEscape(args[0]) + "/execute"
		if err := client.call(cmdContext(cmd), path, map[string]any{}, &resp); err != nil {
			return err
		}
		if resp.AlreadyExecuted {
			printWarning("%s was already executed", resp.Action.ID)
		} else {
			printSuccess("Executed %s", resp.Action.ID)
		}
		if resp.Entity != nil {
			printStatus("Created "+resp.Entity.Kind, "%s %s", resp.Entity.ID, string(resp.Entity.Payload))
		}
		return nil
	},
}

func init() {
	confirmCmd.Flags().String("user", "", "user deciding the action (required)")
	confirmCmd.Flags().Bool("reject", false, "reject instead of confirm")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}
