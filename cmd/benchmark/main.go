// Benchmark tool for driving Kestrel with audit extract data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/extract.csv -url http://localhost:8080
//
// This tool:
//   1. Reads an audit data extract (first row is the header)
//   2. Optionally seeds rule definitions from a JSON file
//   3. Sends row batches to Kestrel for evaluation
//   4. Reports throughput, latency and the rating distribution
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// RuleSeed is one rule definition from the -rules JSON file.
type RuleSeed struct {
	ID                     string   `json:"id,omitempty"`
	Name                   string   `json:"name"`
	Formula                string   `json:"formula"`
	Description            string   `json:"description,omitempty"`
	Threshold              *float64 `json:"threshold,omitempty"`
	Severity               string   `json:"severity,omitempty"`
	ResponsiblePartyColumn string   `json:"responsiblePartyColumn,omitempty"`
}

// EvaluateRequest is the Kestrel API request format.
type EvaluateRequest struct {
	RunID       string           `json:"runId,omitempty"`
	Columns     []string         `json:"columns"`
	Rows        []map[string]any `json:"rows"`
	PartyColumn string           `json:"partyColumn,omitempty"`
}

// EvaluateResponse is the Kestrel API response format.
type EvaluateResponse struct {
	RunID   string `json:"runId"`
	Results []struct {
		Summary struct {
			RuleID           string  `json:"rule_id"`
			RuleName         string  `json:"rule_name"`
			ComplianceStatus string  `json:"compliance_status"`
			ComplianceRate   float64 `json:"compliance_rate"`
			TotalItems       int     `json:"total_items"`
			ErrorCount       int     `json:"error_count"`
		} `json:"summary"`
		FailingItems int `json:"failingItems"`
	} `json:"results"`
	Scores map[string]struct {
		Rating string `json:"rating"`
	} `json:"scores"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	BatchesSent  int64
	RowsSent     int64
	Errors       int64
	LatencyMs    int64
	EngineErrors int64
	StatusCounts sync.Map // status -> *int64
	RatingCounts sync.Map // rating -> *int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to audit extract CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	rulesPath := flag.String("rules", "", "Optional JSON file of rules to seed via POST /rules")
	batchSize := flag.Int("batch", 500, "Rows per evaluation request")
	limit := flag.Int("limit", 0, "Maximum rows to process (0 = all)")
	workers := flag.Int("workers", 4, "Number of concurrent workers")
	partyColumn := flag.String("party", "", "Responsible party column name")
	verbose := flag.Bool("verbose", false, "Print each batch result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/extract.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Audit Extract Evaluation")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Batch Size:  %d\n", *batchSize)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("Kestrel is healthy")

	if *rulesPath != "" {
		count, err := seedRules(*baseURL, *rulesPath)
		if err != nil {
			fmt.Printf("ERROR: Failed to seed rules: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Seeded %d rules from %s\n", count, *rulesPath)
	}

	fmt.Printf("\nReading audit data from %s...\n", *csvPath)
	columns, rows, err := readExtract(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows with %d columns\n", len(rows), len(columns))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(columns, rows, *baseURL, *partyColumn, *batchSize, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func seedRules(baseURL, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var seeds []RuleSeed
	if err := json.Unmarshal(data, &seeds); err != nil {
		return 0, fmt.Errorf("failed to parse rules file: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	for _, seed := range seeds {
		body, _ := json.Marshal(seed)
		resp, err := client.Post(baseURL+"/rules", "application/json", bytes.NewReader(body))
		if err != nil {
			return 0, err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			return 0, fmt.Errorf("rule %q rejected: status %d", seed.Name, resp.StatusCode)
		}
	}
	return len(seeds), nil
}

func readExtract(path string, limit int) ([]string, []map[string]any, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("empty extract")
	}

	columns := records[0]
	var rows []map[string]any
	for _, record := range records[1:] {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i >= len(record) {
				row[col] = nil
				continue
			}
			row[col] = coerce(record[i])
		}
		rows = append(rows, row)

		if limit > 0 && len(rows) >= limit {
			break
		}
	}

	return columns, rows, nil
}

func coerce(raw string) any {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch strings.ToUpper(s) {
	case "TRUE":
		return true
	case "FALSE":
		return false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	return s
}

func runBenchmark(columns []string, rows []map[string]any, baseURL, partyColumn string, batchSize, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan []map[string]any, numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 60 * time.Second}

			for batch := range work {
				start := time.Now()
				result, err := evaluateBatch(client, baseURL, columns, batch, partyColumn)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.LatencyMs, elapsed)
				atomic.AddInt64(&metrics.BatchesSent, 1)
				atomic.AddInt64(&metrics.RowsSent, int64(len(batch)))

				if err != nil {
					atomic.AddInt64(&metrics.Errors, 1)
					if verbose {
						fmt.Printf("ERROR: batch of %d rows -> %v\n", len(batch), err)
					}
					continue
				}

				for _, r := range result.Results {
					metrics.count(&metrics.StatusCounts, r.Summary.ComplianceStatus)
					atomic.AddInt64(&metrics.EngineErrors, int64(r.Summary.ErrorCount))
				}
				if overall, ok := result.Scores["overall"]; ok {
					metrics.count(&metrics.RatingCounts, overall.Rating)
				}

				if verbose {
					fmt.Printf("batch %-4d rows | %4d ms | rules: %d\n",
						len(batch), elapsed, len(result.Results))
				}
			}
		}()
	}

	for start := 0; start < len(rows); start += batchSize {
		end := start + batchSize
		if end > len(rows) {
			end = len(rows)
		}
		work <- rows[start:end]
	}
	close(work)

	wg.Wait()
	return metrics
}

func (m *Metrics) count(counts *sync.Map, key string) {
	if key == "" {
		return
	}
	v, _ := counts.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), 1)
}

func evaluateBatch(client *http.Client, baseURL string, columns []string, batch []map[string]any, partyColumn string) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		Columns:     columns,
		Rows:        batch,
		PartyColumn: partyColumn,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/evaluate", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nWORKLOAD\n")
	fmt.Printf("   Batches Sent:  %d\n", m.BatchesSent)
	fmt.Printf("   Rows Sent:     %d\n", m.RowsSent)
	fmt.Printf("   Errors:        %d\n", m.Errors)
	fmt.Printf("   Engine Errors: %d\n", m.EngineErrors)

	fmt.Printf("\nRULE STATUS DISTRIBUTION (per batch)\n")
	m.StatusCounts.Range(func(k, v any) bool {
		fmt.Printf("   %-4s %d\n", k.(string), atomic.LoadInt64(v.(*int64)))
		return true
	})

	fmt.Printf("\nOVERALL RATING DISTRIBUTION (per batch)\n")
	m.RatingCounts.Range(func(k, v any) bool {
		fmt.Printf("   %-4s %d\n", k.(string), atomic.LoadInt64(v.(*int64)))
		return true
	})

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if m.BatchesSent > 0 {
		avgMs := float64(m.LatencyMs) / float64(m.BatchesSent)
		rps := float64(m.RowsSent) / duration.Seconds()
		fmt.Printf("   Avg Batch Latency: %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:        %.2f rows/sec\n", rps)
	}
	fmt.Println()
}
