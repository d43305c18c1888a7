package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <content>",
	Short: "Store a document in the memory backend",
	Long: `Store a document in the memory backend.

Examples:
  ame remember "I prefer Go for backend services" --importance 0.8
  ame remember "Related to the migration plan" --refs doc-id-1,doc-id-2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		importance, _ := cmd.Flags().GetFloat64("importance")
		refs, _ := cmd.Flags().GetString("refs")

		req := map[string]any{
			"content":    args[0],
			"importance": importance,
		}
		if refs != "" {
			req["metadata"] = map[string]string{"refs": refs}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/documents", req)
		if err != nil {
			return err
		}

		var doc struct {
			ID          string `json:"id"`
			Temperature string `json:"temperature"`
		}
		if err := decodeJSON(resp, &doc); err != nil {
			return err
		}

		printSuccess("Remembered document %s (%s)", doc.ID, doc.Temperature)
		return nil
	},
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the memory backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(fmt.Sprintf("/search?q=%s&limit=%d", url.QueryEscape(args[0]), limit))
		if err != nil {
			return err
		}

		var results []struct {
			Document struct {
				ID          string  `json:"id"`
				Content     string  `json:"content"`
				Importance  float64 `json:"importance"`
				Temperature string  `json:"temperature"`
			} `json:"document"`
			Score float64 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			printWarning("no results")
			return nil
		}
		for _, r := range results {
			content := r.Document.Content
			if len(content) > 120 {
				content = content[:120] + "..."
			}
			fmt.Printf("%.3f  [%s]  %s\n      %s\n", r.Score, r.Document.Temperature, r.Document.ID, content)
		}
		return nil
	},
}

// --- forget ---

var forgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Remove a document from the memory backend",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete("/documents/" + args[0])
		if err != nil {
			return err
		}
		if err := drain(resp); err != nil {
			return err
		}

		printSuccess("Forgot document %s", args[0])
		return nil
	},
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage maintenance jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List maintenance jobs and their last outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get("/jobs")
		if err != nil {
			return err
		}

		var jobs []struct {
			Name     string `json:"name"`
			Schedule string `json:"schedule"`
			Running  bool   `json:"running"`
			NextRun  string `json:"next_run"`
			LastRun  *struct {
				StartedAt  string `json:"started_at"`
				DurationMs int64  `json:"duration_ms"`
				Success    bool   `json:"success"`
				Error      string `json:"error"`
			} `json:"last_run"`
		}
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		for _, j := range jobs {
			state := "idle"
			if j.Running {
				state = "running"
			}
			fmt.Printf("%s (%s, %s)\n", j.Name, j.Schedule, state)
			if j.NextRun != "" {
				fmt.Printf("  next: %s\n", j.NextRun)
			}
			if j.LastRun != nil {
				outcome := "ok"
				if !j.LastRun.Success {
					outcome = "failed: " + j.LastRun.Error
				}
				fmt.Printf("  last: %s (%dms, %s)\n", j.LastRun.StartedAt, j.LastRun.DurationMs, outcome)
			}
		}
		return nil
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Trigger a maintenance job now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post("/jobs/"+args[0]+"/run", nil)
		if err != nil {
			return err
		}
		if err := drain(resp); err != nil {
			return err
		}

		printSuccess("Job %s completed", args[0])
		return nil
	},
}

func init() {
	rememberCmd.Flags().Float64("importance", 0.5, "importance in [0,1]; protects from expiry")
	rememberCmd.Flags().String("refs", "", "comma-separated ids of related documents")
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRunCmd)
}
