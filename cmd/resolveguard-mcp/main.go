package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// resolveRequest mirrors models.ResolveAPIRequest.
type resolveRequest struct {
	URL          string `json:"url"`
	SelectorName string `json:"selector_name"`
	TabID        string `json:"tab_id,omitempty"`
	JobID        string `json:"job_id,omitempty"`
	Env          string `json:"env,omitempty"`
	StealthMode  bool   `json:"stealth_mode,omitempty"`
}

// resolveBatchRequest mirrors models.ResolveBatchAPIRequest.
type resolveBatchRequest struct {
	URL           string   `json:"url"`
	SelectorNames []string `json:"selector_names"`
	TabID         string   `json:"tab_id,omitempty"`
	JobID         string   `json:"job_id,omitempty"`
	Env           string   `json:"env,omitempty"`
	StealthMode   bool     `json:"stealth_mode,omitempty"`
}

// resolveResponse mirrors models.ResolveAPIResponse, kept minimal since
// the tool only needs to relay the raw JSON body back to the caller.
type resolveResponse struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type resolveBatchResponse struct {
	Success bool              `json:"success"`
	Results []json.RawMessage `json:"results"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func main() {
	apiURL := os.Getenv("RESOLVEGUARD_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("RESOLVEGUARD_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "RESOLVEGUARD_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"resolveguard",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	resolveTool := mcp.NewTool("resolve_selector",
		mcp.WithDescription("Resolve a registered semantic selector against a live page, navigating a headless browser and running the selector's strategy chain until one passes the confidence gate."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page URL to navigate before resolving")),
		mcp.WithString("selector_name", mcp.Required(), mcp.Description("Name of a previously-registered selector")),
		mcp.WithString("tab_id", mcp.Description("Tab/view context the selector was registered under, if any")),
		mcp.WithString("env", mcp.Description("Quality-gate environment: production, staging, development, or testing")),
		mcp.WithBoolean("stealth_mode", mcp.Description("Apply the stealth orchestrator's fingerprint/anti-detection pipeline to the page before resolving")),
	)
	s.AddTool(resolveTool, handleResolve(apiURL, apiKey))

	resolveBatchTool := mcp.NewTool("resolve_batch",
		mcp.WithDescription("Resolve multiple registered selectors against the same live page concurrently."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page URL to navigate before resolving")),
		mcp.WithArray("selector_names", mcp.Required(), mcp.Description("Names of previously-registered selectors")),
		mcp.WithString("tab_id", mcp.Description("Tab/view context the selectors were registered under, if any")),
		mcp.WithString("env", mcp.Description("Quality-gate environment: production, staging, development, or testing")),
		mcp.WithBoolean("stealth_mode", mcp.Description("Apply the stealth orchestrator's fingerprint/anti-detection pipeline to the page before resolving")),
	)
	s.AddTool(resolveBatchTool, handleResolveBatch(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

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

func handleResolve(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		name, err := request.RequireString("selector_name")
		if err != nil {
			return mcp.NewToolResultError("selector_name is required"), nil
		}

		args := request.GetArguments()
		stealthMode, _ := args["stealth_mode"].(bool)

		reqBody := resolveRequest{
			URL:          url,
			SelectorName: name,
			TabID:        request.GetString("tab_id", ""),
			Env:          request.GetString("env", "production"),
			StealthMode:  stealthMode,
		}

		body, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/resolve", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var resolveResp resolveResponse
		if err := json.Unmarshal(body, &resolveResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !resolveResp.Success {
			errMsg := "resolve failed"
			if resolveResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", resolveResp.Error.Code, resolveResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		return mcp.NewToolResultText(string(resolveResp.Result)), nil
	}
}

func handleResolveBatch(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 120 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		rawNames, err := request.RequireStringSlice("selector_names")
		if err != nil {
			return mcp.NewToolResultError("selector_names is required and must be an array of strings"), nil
		}

		args := request.GetArguments()
		stealthMode, _ := args["stealth_mode"].(bool)

		reqBody := resolveBatchRequest{
			URL:           url,
			SelectorNames: rawNames,
			TabID:         request.GetString("tab_id", ""),
			Env:           request.GetString("env", "production"),
			StealthMode:   stealthMode,
		}

		body, err := apiPost(ctx, client, apiURL, apiKey, "/api/v1/resolve/batch", reqBody)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var batchResp resolveBatchResponse
		if err := json.Unmarshal(body, &batchResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !batchResp.Success {
			errMsg := "resolve_batch failed"
			if batchResp.Error != nil {
				errMsg = fmt.Sprintf("[%s] %s", batchResp.Error.Code, batchResp.Error.Message)
			}
			return mcp.NewToolResultError(errMsg), nil
		}

		out, _ := json.Marshal(batchResp.Results)
		return mcp.NewToolResultText(string(out)), nil
	}
}
