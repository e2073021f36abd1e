// Command benchmark measures /api/v1/process latency per URL: the first run
// renders the page (cold), later runs should be served from the cache (warm).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"
)

var (
	apiURL = flag.String("api-url", "http://localhost:8080", "glimpse API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "runs per URL; run 1 is cold, the rest warm")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test URLs covering static pages, articles, docs and a video page.
var testURLs = []struct {
	Label string
	URL   string
}{
	{"Static", "https://example.com"},
	{"Blog", "https://go.dev/blog/go1.21"},
	{"Docs", "https://go.dev/doc/effective_go"},
	{"Complex", "https://github.com/go-rod/rod"},
	{"Video", "https://www.youtube.com/watch?v=jNQXAC9IVRw"},
}

type processResponse struct {
	Success bool `json:"success"`
	Results []struct {
		Title        string `json:"title"`
		TextContent  string `json:"text_content"`
		Markdown     string `json:"markdown"`
		VideoDetails *struct {
			IsVideo bool `json:"is_video"`
		} `json:"video_details"`
	} `json:"results"`
	Timing struct {
		TotalMs int64 `json:"total_ms"`
	} `json:"timing"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type runResult struct {
	Run           int    `json:"run"`
	TotalMs       int64  `json:"total_ms"`
	ContentLength int    `json:"content_length"`
	HasTitle      bool   `json:"has_title"`
	IsVideo       bool   `json:"is_video"`
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
}

type urlResult struct {
	URL    string      `json:"url"`
	Label  string      `json:"label"`
	Runs   []runResult `json:"runs"`
	ColdMs int64       `json:"cold_ms"`
	WarmMs float64     `json:"warm_ms"`
}

type benchmarkReport struct {
	Timestamp  string      `json:"timestamp"`
	APIURL     string      `json:"api_url"`
	RunsPerURL int         `json:"runs_per_url"`
	Results    []urlResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== glimpse benchmark ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/URL:  %d\n", *runs)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	report := benchmarkReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		APIURL:     *apiURL,
		RunsPerURL: *runs,
	}

	for _, t := range testURLs {
		fmt.Printf("Benchmarking [%s] %s ...\n", t.Label, t.URL)
		ur := urlResult{URL: t.URL, Label: t.Label}
		for i := 1; i <= *runs; i++ {
			rr := benchmarkURL(client, t.URL, i)
			if rr.Success {
				fmt.Printf("  Run %d/%d  OK  %dms\n", i, *runs, rr.TotalMs)
			} else {
				fmt.Printf("  Run %d/%d  FAILED: %s\n", i, *runs, rr.Error)
			}
			ur.Runs = append(ur.Runs, rr)
		}
		ur.ColdMs, ur.WarmMs = coldWarm(ur.Runs)
		report.Results = append(report.Results, ur)
		fmt.Println()
	}

	printTable(report.Results)

	if err := writeJSON(*output, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing JSON output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results written to %s\n", *output)
}

func checkAPI(baseURL string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(baseURL + "/api/v1/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func benchmarkURL(client *http.Client, url string, run int) runResult {
	rr := runResult{Run: run}

	body, _ := json.Marshal(map[string]any{"urls": []string{url}})
	req, err := http.NewRequest(http.MethodPost, *apiURL+"/api/v1/process", bytes.NewReader(body))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+*apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var pr processResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.TotalMs = pr.Timing.TotalMs
	if pr.Error != nil {
		rr.Error = pr.Error.Message
	}
	if !pr.Success || len(pr.Results) == 0 {
		return rr
	}
	rr.Success = true
	r := pr.Results[0]
	rr.ContentLength = len(r.Markdown)
	if rr.ContentLength == 0 {
		rr.ContentLength = len(r.TextContent)
	}
	rr.HasTitle = r.Title != ""
	rr.IsVideo = r.VideoDetails != nil && r.VideoDetails.IsVideo
	return rr
}

// coldWarm returns the first run's latency and the mean of the successful
// later runs.
func coldWarm(runs []runResult) (int64, float64) {
	if len(runs) == 0 || !runs[0].Success {
		return 0, 0
	}
	var sum float64
	n := 0
	for _, r := range runs[1:] {
		if r.Success {
			sum += float64(r.TotalMs)
			n++
		}
	}
	if n == 0 {
		return runs[0].TotalMs, 0
	}
	return runs[0].TotalMs, sum / float64(n)
}

func printTable(results []urlResult) {
	fmt.Println(strings.Repeat("─", 80))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "URL\tCold\tWarm\tContent Len\tVideo\n")
	fmt.Fprintf(w, "───\t────\t────\t───────────\t─────\n")
	for _, r := range results {
		if r.ColdMs == 0 {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\t-\n", truncateURL(r.URL, 40))
			continue
		}
		last := r.Runs[len(r.Runs)-1]
		fmt.Fprintf(w, "%s\t%dms\t%.0fms\t%d\t%t\n",
			truncateURL(r.URL, 40), r.ColdMs, r.WarmMs, last.ContentLength, last.IsVideo)
	}
	w.Flush()
	fmt.Println(strings.Repeat("─", 80))
}

func truncateURL(u string, max int) string {
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
