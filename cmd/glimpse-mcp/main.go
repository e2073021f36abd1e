package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxTextChars truncates each page's text in tool output so a single
// oversized page cannot flood the agent's context.
const maxTextChars = 20000

// contentResult mirrors the glimpse API content result.
type contentResult struct {
	URL struct {
		Original string `json:"original"`
		Resolved string `json:"resolved"`
	} `json:"url"`
	Title        string `json:"title"`
	TextContent  string `json:"text_content"`
	Markdown     string `json:"markdown"`
	VideoDetails *struct {
		IsVideo   bool           `json:"is_video"`
		IsYouTube bool           `json:"is_youtube"`
		Metadata  map[string]any `json:"metadata"`
		VideoPath string         `json:"video_path"`
	} `json:"video_details"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// processResponse mirrors the glimpse /process response.
type processResponse struct {
	Success bool            `json:"success"`
	Results []contentResult `json:"results"`
	Missing []string        `json:"missing"`
	Error   *apiError       `json:"error"`
}

// batchResponse mirrors the glimpse batch creation response.
type batchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// batchStatusResponse mirrors the glimpse batch status response.
type batchStatusResponse struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Completed int             `json:"completed"`
	Total     int             `json:"total"`
	Results   []contentResult `json:"results"`
	Missing   []string        `json:"missing"`
}

func main() {
	apiURL := os.Getenv("GLIMPSE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("GLIMPSE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GLIMPSE_API_KEY is required")
		os.Exit(1)
	}

	if err := server.ServeStdio(newServer(apiURL, apiKey)); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newServer(apiURL, apiKey string) *server.MCPServer {
	s := server.NewMCPServer(
		"glimpse",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	fetchURLsTool := mcp.NewTool("fetch_urls",
		mcp.WithDescription("Fetch web pages in a real browser and return their title, main content as markdown, and any video metadata. Results are cached, so repeated fetches of the same page are cheap."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to fetch (max 50)"),
		),
	)
	s.AddTool(fetchURLsTool, handleFetchURLs(apiURL, apiKey))

	batchFetchTool := mcp.NewTool("batch_fetch",
		mcp.WithDescription("Fetch a large list of URLs as a background job and wait for it to finish. Use for more than 50 URLs."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("List of URLs to fetch (max 200)"),
		),
	)
	s.AddTool(batchFetchTool, handleBatchFetch(apiURL, apiKey))

	groundTool := mcp.NewTool("fetch_grounding_sources",
		mcp.WithDescription("Fetch the source pages cited by a search-grounded answer. Sources that cannot be reached are skipped."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Source URLs to fetch (max 50)"),
		),
	)
	s.AddTool(groundTool, handleGroundingSources(apiURL, apiKey))

	return s
}

// apiPost sends a POST request to the glimpse API and returns the response body.
func apiPost(ctx context.Context, client *http.Client, apiURL, apiKey, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJob polls a job endpoint until its status is no longer "processing"
// or ctx is cancelled.
func pollJob(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string, every time.Duration) ([]byte, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("create poll request: %w", err)
			}
			req.Header.Set("X-API-Key", apiKey)

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("read poll response: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}
			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

func handleFetchURLs(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil || len(urls) == 0 {
			return mcp.NewToolResultError("urls is required and must be a non-empty array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/process", map[string]any{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("fetch request failed: %v", err)), nil
		}

		var resp processResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			errMsg := "fetch failed"
			if resp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(formatResults(resp.Results, resp.Missing)), nil
	}
}

func handleBatchFetch(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil || len(urls) == 0 {
			return mcp.NewToolResultError("urls is required and must be a non-empty array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/batch", map[string]any{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch request failed: %v", err)), nil
		}

		var created batchResponse
		if err := json.Unmarshal(respBody, &created); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch response: %v", err)), nil
		}
		if created.ID == "" {
			return mcp.NewToolResultError("batch job creation failed"), nil
		}

		resultBody, err := pollJob(ctx, client, apiURL, apiKey, "/api/v1/batch/"+created.ID, 2*time.Second)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling batch job failed: %v", err)), nil
		}

		var status batchStatusResponse
		if err := json.Unmarshal(resultBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse batch status: %v", err)), nil
		}

		header := fmt.Sprintf("Batch %s: %s (%d/%d completed)\n\n", status.ID, status.Status, status.Completed, status.Total)
		return mcp.NewToolResultText(header + formatResults(status.Results, status.Missing)), nil
	}
}

func handleGroundingSources(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 600 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls, err := request.RequireStringSlice("urls")
		if err != nil || len(urls) == 0 {
			return mcp.NewToolResultError("urls is required and must be a non-empty array of strings"), nil
		}

		respBody, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/ground", map[string]any{"urls": urls})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("grounding request failed: %v", err)), nil
		}

		var resp processResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resp.Success {
			errMsg := "grounding fetch failed"
			if resp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}
		if len(resp.Results) == 0 {
			return mcp.NewToolResultText("None of the sources could be fetched."), nil
		}

		return mcp.NewToolResultText(formatResults(resp.Results, nil)), nil
	}
}

// formatResults renders results as plain text for the agent.
func formatResults(results []contentResult, missing []string) string {
	var sb strings.Builder
	for i, r := range results {
		title := r.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(&sb, "--- [%d] %s ---\nSource: %s\n", i+1, title, r.URL.Resolved)

		if v := r.VideoDetails; v != nil && v.IsVideo {
			sb.WriteString("Video: yes")
			if d, ok := v.Metadata["duration"].(float64); ok {
				fmt.Fprintf(&sb, " (%s)", time.Duration(d*float64(time.Second)).Round(time.Second))
			}
			sb.WriteString("\n")
		}

		body := r.Markdown
		if body == "" {
			body = r.TextContent
		}
		if len(body) > maxTextChars {
			body = body[:maxTextChars] + "\n[truncated]"
		}
		sb.WriteString("\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	if len(missing) > 0 {
		sb.WriteString("Could not fetch:\n")
		for _, u := range missing {
			sb.WriteString("- " + u + "\n")
		}
	}
	return sb.String()
}
