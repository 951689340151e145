// Benchmark tool for replaying labeled return requests against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/returns.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a CSV of historical return requests with expected outcomes
//   2. Sends each request to Kestrel for evaluation
//   3. Compares Kestrel's outcome (approved/manual_review/rejected) with the labels
//   4. Prints agreement rates, a confusion matrix, and throughput
//
// Expected CSV columns (header row required, order-independent):
//   order_id, customer_id, sku, category, quantity, unit_price, reason,
//   country, order_age_days, expected_outcome
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledReturn represents one row from the replay dataset.
type LabeledReturn struct {
	OrderID         string
	CustomerID      string
	SKU             string
	Category        string
	Quantity        int
	UnitPrice       float64
	Reason          string
	Country         string
	OrderAgeDays    int
	ExpectedOutcome string
}

// EvaluateRequest mirrors the Kestrel API request format.
type EvaluateRequest struct {
	ReturnRequest ReturnRequest `json:"returnRequest"`
	Order         OrderSnapshot `json:"orderSnapshot"`
}

type ReturnRequest struct {
	OrderID     string       `json:"orderId"`
	CustomerID  string       `json:"customerId"`
	Items       []ReturnItem `json:"items"`
	Destination Location     `json:"destination"`
}

type ReturnItem struct {
	SKU       string  `json:"sku"`
	Category  string  `json:"category,omitempty"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
	Reason    string  `json:"reason"`
}

type Location struct {
	Country string `json:"country"`
}

type OrderSnapshot struct {
	CreatedAt  time.Time `json:"createdAt"`
	TotalPrice float64   `json:"totalPrice"`
}

// EvaluateResponse mirrors the Kestrel API response format.
type EvaluateResponse struct {
	EvaluationID string   `json:"evaluationId"`
	Outcome      string   `json:"outcome"`
	Reasons      []string `json:"reasons"`
}

var outcomes = []string{"approved", "manual_review", "rejected"}

// Metrics tracks benchmark results. The confusion matrix is indexed
// [expected][predicted] over the outcomes slice.
type Metrics struct {
	mu        sync.Mutex
	Confusion [3][3]int64

	TotalProcessed int64
	TotalMatched   int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func outcomeIndex(o string) int {
	for i, name := range outcomes {
		if name == o {
			return i
		}
	}
	return -1
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled returns CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum returns to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each request result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/returns.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Return Policy Replay             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading labeled returns from %s...\n", *csvPath)
	returns, err := readReturnsCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d labeled returns\n", len(returns))

	counts := map[string]int{}
	for _, r := range returns {
		counts[r.ExpectedOutcome]++
	}
	for _, o := range outcomes {
		fmt.Printf("  - %-13s %d (%.2f%%)\n", o+":", counts[o], 100*float64(counts[o])/float64(len(returns)))
	}

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(returns, *baseURL, *tenantID, *workers, *verbose)
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

func readReturnsCSV(path string, limit int) ([]LabeledReturn, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}

	var returns []LabeledReturn

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		quantity, _ := strconv.Atoi(record[colIndex["quantity"]])
		unitPrice, _ := strconv.ParseFloat(record[colIndex["unit_price"]], 64)
		orderAge, _ := strconv.Atoi(record[colIndex["order_age_days"]])

		r := LabeledReturn{
			OrderID:         record[colIndex["order_id"]],
			CustomerID:      record[colIndex["customer_id"]],
			SKU:             record[colIndex["sku"]],
			Category:        record[colIndex["category"]],
			Quantity:        quantity,
			UnitPrice:       unitPrice,
			Reason:          record[colIndex["reason"]],
			Country:         record[colIndex["country"]],
			OrderAgeDays:    orderAge,
			ExpectedOutcome: strings.ToLower(record[colIndex["expected_outcome"]]),
		}

		if outcomeIndex(r.ExpectedOutcome) < 0 {
			continue
		}

		returns = append(returns, r)

		if limit > 0 && len(returns) >= limit {
			break
		}
	}

	return returns, nil
}

func runBenchmark(returns []LabeledReturn, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledReturn, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for r := range work {
				start := time.Now()
				result, err := evaluateReturn(client, baseURL, tenantID, r)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", r.OrderID, err)
					}
					continue
				}

				expected := outcomeIndex(r.ExpectedOutcome)
				predicted := outcomeIndex(result.Outcome)
				if predicted < 0 {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					continue
				}

				metrics.mu.Lock()
				metrics.Confusion[expected][predicted]++
				metrics.mu.Unlock()

				if expected == predicted {
					atomic.AddInt64(&metrics.TotalMatched, 1)
				}

				if verbose {
					status := "✓"
					if expected != predicted {
						status = "✗"
					}
					fmt.Printf("%s %-12s | SKU: %-10s | $%10.2f | Age: %3dd | Expected: %-13s | Got: %-13s\n",
						status,
						r.OrderID,
						r.SKU,
						r.UnitPrice*float64(r.Quantity),
						r.OrderAgeDays,
						r.ExpectedOutcome,
						result.Outcome,
					)
				}
			}
		}()
	}

	for _, r := range returns {
		work <- r
	}
	close(work)

	wg.Wait()

	return metrics
}

func evaluateReturn(client *http.Client, baseURL, tenantID string, r LabeledReturn) (*EvaluateResponse, error) {
	now := time.Now().UTC()
	req := EvaluateRequest{
		ReturnRequest: ReturnRequest{
			OrderID:    r.OrderID,
			CustomerID: r.CustomerID,
			Items: []ReturnItem{
				{
					SKU:       r.SKU,
					Category:  r.Category,
					Quantity:  r.Quantity,
					UnitPrice: r.UnitPrice,
					Reason:    r.Reason,
				},
			},
			Destination: Location{Country: r.Country},
		},
		Order: OrderSnapshot{
			CreatedAt:  now.AddDate(0, 0, -r.OrderAgeDays),
			TotalPrice: r.UnitPrice * float64(r.Quantity),
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
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
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Matched:    %d\n", m.TotalMatched)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX (rows = expected, cols = predicted)\n")
	fmt.Printf("   %-15s", "")
	for _, o := range outcomes {
		fmt.Printf("%15s", o)
	}
	fmt.Println()
	for i, o := range outcomes {
		fmt.Printf("   %-15s", o)
		for j := range outcomes {
			fmt.Printf("%15d", m.Confusion[i][j])
		}
		fmt.Println()
	}

	fmt.Printf("\n🎯 AGREEMENT METRICS\n")
	total := m.TotalProcessed - m.TotalErrors
	if total > 0 {
		fmt.Printf("   Overall Agreement:  %.4f\n", float64(m.TotalMatched)/float64(total))
	}
	for i, o := range outcomes {
		var rowTotal, colTotal int64
		for j := range outcomes {
			rowTotal += m.Confusion[i][j]
			colTotal += m.Confusion[j][i]
		}
		recall := float64(0)
		if rowTotal > 0 {
			recall = float64(m.Confusion[i][i]) / float64(rowTotal)
		}
		precision := float64(0)
		if colTotal > 0 {
			precision = float64(m.Confusion[i][i]) / float64(colTotal)
		}
		fmt.Printf("   %-15s precision %.4f  recall %.4f\n", o+":", precision, recall)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", rps)
	}

	fmt.Println()
}
