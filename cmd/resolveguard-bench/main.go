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

// CLI flags
var (
	apiURL = flag.String("api-url", "http://localhost:8080", "resolveguard API base URL")
	apiKey = flag.String("api-key", "", "API key for authenticated requests")
	runs   = flag.Int("runs", 3, "Number of runs per case for averaging")
	output = flag.String("output", "benchmark-results.json", "JSON output file path")
)

// Test cases: a URL paired with a previously-registered selector name,
// covering a spread of page types.
var testCases = []struct {
	Label        string
	URL          string
	SelectorName string
}{
	{"Static", "https://example.com", "example-heading"},
	{"Blog", "https://go.dev/blog/go1.21", "blog-title"},
	{"Docs", "https://go.dev/doc/effective_go", "doc-toc"},
	{"News", "https://www.bbc.com/news", "news-headline"},
	{"Complex", "https://github.com/go-rod/rod", "repo-star-count"},
}

// --- Request / Response types (mirrors models package) ---

type resolveRequest struct {
	URL          string `json:"url"`
	SelectorName string `json:"selector_name"`
	Env          string `json:"env"`
}

type elementInfo struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
}

type resultDTO struct {
	SelectorName     string       `json:"selector_name"`
	StrategyUsed     string       `json:"strategy_used"`
	ConfidenceScore  float64      `json:"confidence_score"`
	ResolutionTimeMS int64        `json:"resolution_time_ms"`
	Success          bool         `json:"success"`
	FailureReason    string       `json:"failure_reason,omitempty"`
	SnapshotID       string       `json:"snapshot_id,omitempty"`
	Element          *elementInfo `json:"element,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type resolveResponse struct {
	Success bool         `json:"success"`
	Result  *resultDTO   `json:"result,omitempty"`
	Error   *errorDetail `json:"error,omitempty"`
}

// --- Benchmark result types ---

type runResult struct {
	Run              int     `json:"run"`
	ResolutionTimeMS int64   `json:"resolution_time_ms"`
	ConfidenceScore  float64 `json:"confidence_score"`
	StrategyUsed     string  `json:"strategy_used"`
	Success          bool    `json:"success"`
	Error            string  `json:"error,omitempty"`
}

type caseAverages struct {
	ResolutionTimeMS float64 `json:"resolution_time_ms"`
	ConfidenceScore  float64 `json:"confidence_score"`
}

type caseResult struct {
	URL          string        `json:"url"`
	Label        string        `json:"label"`
	SelectorName string        `json:"selector_name"`
	Runs         []runResult   `json:"runs"`
	Averages     *caseAverages `json:"averages,omitempty"`
}

type benchmarkReport struct {
	Timestamp  string       `json:"timestamp"`
	APIURL     string       `json:"api_url"`
	RunsPerCase int         `json:"runs_per_case"`
	Results    []caseResult `json:"results"`
}

func main() {
	flag.Parse()

	fmt.Println("=== resolveguard Benchmark Suite ===")
	fmt.Printf("API URL:   %s\n", *apiURL)
	fmt.Printf("Runs/case: %d\n", *runs)
	fmt.Printf("Output:    %s\n", *output)
	fmt.Println()

	if err := checkAPI(*apiURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach API at %s: %v\n", *apiURL, err)
		fmt.Fprintf(os.Stderr, "Make sure resolveguardd is running\n")
		os.Exit(1)
	}

	report := benchmarkReport{
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		APIURL:      *apiURL,
		RunsPerCase: *runs,
	}

	for _, t := range testCases {
		fmt.Printf("Benchmarking [%s] %s -> %s ...\n", t.Label, t.URL, t.SelectorName)
		cr := caseResult{URL: t.URL, Label: t.Label, SelectorName: t.SelectorName}

		for i := 1; i <= *runs; i++ {
			fmt.Printf("  Run %d/%d ... ", i, *runs)
			rr := benchmarkCase(t.URL, t.SelectorName, i)
			if rr.Success {
				fmt.Printf("OK  %dms  confidence=%.2f  strategy=%s\n", rr.ResolutionTimeMS, rr.ConfidenceScore, rr.StrategyUsed)
			} else {
				fmt.Printf("FAILED: %s\n", rr.Error)
			}
			cr.Runs = append(cr.Runs, rr)
		}

		cr.Averages = computeAverages(cr.Runs)
		report.Results = append(report.Results, cr)
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

func benchmarkCase(url, selectorName string, run int) runResult {
	rr := runResult{Run: run}

	reqBody := resolveRequest{URL: url, SelectorName: selectorName, Env: "testing"}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		rr.Error = fmt.Sprintf("marshal error: %v", err)
		return rr
	}

	req, err := http.NewRequest("POST", *apiURL+"/api/v1/resolve", bytes.NewReader(bodyBytes))
	if err != nil {
		rr.Error = fmt.Sprintf("request error: %v", err)
		return rr
	}
	req.Header.Set("Content-Type", "application/json")
	if *apiKey != "" {
		req.Header.Set("X-API-Key", *apiKey)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		rr.Error = fmt.Sprintf("request failed: %v", err)
		return rr
	}
	defer resp.Body.Close()

	var rresp resolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&rresp); err != nil {
		rr.Error = fmt.Sprintf("decode error: %v", err)
		return rr
	}

	rr.Success = rresp.Success
	if rresp.Result != nil {
		rr.ResolutionTimeMS = rresp.Result.ResolutionTimeMS
		rr.ConfidenceScore = rresp.Result.ConfidenceScore
		rr.StrategyUsed = rresp.Result.StrategyUsed
		if !rresp.Result.Success {
			rr.Success = false
			rr.Error = rresp.Result.FailureReason
		}
	}
	if rresp.Error != nil {
		rr.Error = rresp.Error.Message
	}

	return rr
}

func computeAverages(runs []runResult) *caseAverages {
	var successCount int
	var avg caseAverages

	for _, r := range runs {
		if !r.Success {
			continue
		}
		successCount++
		avg.ResolutionTimeMS += float64(r.ResolutionTimeMS)
		avg.ConfidenceScore += r.ConfidenceScore
	}

	if successCount == 0 {
		return nil
	}

	n := float64(successCount)
	avg.ResolutionTimeMS /= n
	avg.ConfidenceScore /= n
	return &avg
}

func printTable(results []caseResult) {
	fmt.Println(strings.Repeat("─", 85))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Selector\tAvg Latency\tAvg Confidence\tStatus\n")
	fmt.Fprintf(w, "────────\t───────────\t──────────────\t──────\n")

	for _, r := range results {
		if r.Averages == nil {
			fmt.Fprintf(w, "%s\tFAILED\t-\t-\n", r.SelectorName)
			continue
		}
		fmt.Fprintf(w, "%s\t%dms\t%.2f\tOK\n",
			r.SelectorName,
			int64(r.Averages.ResolutionTimeMS),
			r.Averages.ConfidenceScore,
		)
	}

	w.Flush()
	fmt.Println(strings.Repeat("─", 85))
}

func writeJSON(path string, report benchmarkReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
