// Load generator for Kestrel.
//
// Usage:
//
//	go run ./cmd/loadgen -url http://localhost:8080 -mode all -count 2000
//
// This tool:
//  1. Generates synthetic legal invoices, injecting billing anomalies into a
//     share of them
//  2. seed: submits labelled invoices and trains a model from them
//  3. score: scores unlabelled invoices and compares the risk level with
//     the injected anomalies
//  4. Reports precision, recall, F1-score, latency and throughput
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ScoreResponse is the subset of the scoring response the tool reads.
type ScoreResponse struct {
	Assessment struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
		Level string  `json:"level"`
	} `json:"assessment"`
}

// TrainingResult is the subset of the training response the tool reads.
type TrainingResult struct {
	Success     bool    `json:"success"`
	Metric      float64 `json:"metric"`
	SampleCount int     `json:"sampleCount"`
	Algorithm   string  `json:"algorithm"`
	Version     string  `json:"version"`
	Reason      string  `json:"reason"`
	DurationMs  int64   `json:"durationMs"`
}

// Metrics tracks load test results.
type Metrics struct {
	TruePositives  int64 // Anomalous invoice flagged
	FalsePositives int64 // Clean invoice flagged
	TrueNegatives  int64 // Clean invoice not flagged
	FalseNegatives int64 // Anomalous invoice missed

	TotalProcessed int64
	TotalAnomalous int64
	TotalClean     int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

type options struct {
	baseURL   string
	tenantID  string
	count     int
	workers   int
	anomaly   float64
	vendors   int
	seed      uint64
	threshold string
	verbose   bool
}

func main() {
	var opts options
	mode := flag.String("mode", "all", "seed, score, or all")
	flag.StringVar(&opts.baseURL, "url", "http://localhost:8080", "Kestrel base URL")
	flag.StringVar(&opts.tenantID, "tenant", "loadgen", "Tenant ID for requests")
	flag.IntVar(&opts.count, "count", 1000, "Invoices per phase")
	flag.IntVar(&opts.workers, "workers", 10, "Number of concurrent workers")
	flag.Float64Var(&opts.anomaly, "anomaly", 0.2, "Share of invoices with injected anomalies (0.0-1.0)")
	flag.IntVar(&opts.vendors, "vendors", 25, "Number of distinct vendors")
	flag.Uint64Var(&opts.seed, "seed", 7, "Generator seed")
	flag.StringVar(&opts.threshold, "flag-level", "high", "Lowest risk level counted as flagged (medium or high)")
	flag.BoolVar(&opts.verbose, "verbose", false, "Print each invoice result")
	flag.Parse()

	if *mode != "seed" && *mode != "score" && *mode != "all" {
		fmt.Println("Usage: loadgen -mode seed|score|all [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("+---------------------------------------------------------------+")
	fmt.Println("|            KESTREL LOAD GENERATOR - Invoice Scoring           |")
	fmt.Println("+---------------------------------------------------------------+")
	fmt.Printf("\nKestrel URL:  %s\n", opts.baseURL)
	fmt.Printf("Tenant ID:    %s\n", opts.tenantID)
	fmt.Printf("Mode:         %s\n", *mode)
	fmt.Printf("Count:        %d\n", opts.count)
	fmt.Printf("Workers:      %d\n", opts.workers)
	fmt.Printf("Anomaly Rate: %.2f\n", opts.anomaly)
	fmt.Println()

	if err := checkHealth(opts.baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", opts.baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("OK  Kestrel is healthy")

	gen := NewGenerator(opts.seed, opts.anomaly, opts.vendors, time.Now().UTC())
	client := &http.Client{Timeout: 10 * time.Minute}

	if *mode == "seed" || *mode == "all" {
		samples := make([]Sample, opts.count)
		for i := range samples {
			samples[i] = gen.Next("seed", true)
		}
		fmt.Printf("\nSubmitting %d labelled invoices...\n", len(samples))
		start := time.Now()
		m := run(samples, opts, submitInvoice)
		fmt.Printf("OK  Submitted %d invoices in %v (%d errors)\n",
			m.TotalProcessed-m.TotalErrors, time.Since(start).Round(time.Millisecond), m.TotalErrors)

		fmt.Println("\nTraining model from corpus...")
		result, err := train(client, opts)
		if err != nil {
			fmt.Printf("ERROR: training failed: %v\n", err)
			os.Exit(1)
		}
		printTraining(result)
		if !result.Success {
			os.Exit(1)
		}
	}

	if *mode == "score" || *mode == "all" {
		samples := make([]Sample, opts.count)
		for i := range samples {
			samples[i] = gen.Next("score", false)
		}
		fmt.Printf("\nScoring %d invoices with %d workers...\n", len(samples), opts.workers)
		start := time.Now()
		m := run(samples, opts, scoreInvoice)
		printResults(m, time.Since(start))
	}
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

type requestFunc func(client *http.Client, opts options, s Sample) (*ScoreResponse, error)

func run(samples []Sample, opts options, do requestFunc) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan Sample, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for s := range work {
				start := time.Now()
				result, err := do(client, opts, s)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if opts.verbose {
						fmt.Printf("ERROR: %s -> %v\n", s.Invoice.ID, err)
					}
					continue
				}
				if result == nil {
					continue
				}

				if s.Anomalous {
					atomic.AddInt64(&metrics.TotalAnomalous, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := flagged(result.Assessment.Level, opts.threshold)
				actual := s.Anomalous

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if opts.verbose {
					status := "ok "
					if predicted != actual {
						status = "ERR"
					}
					fmt.Printf("%s %-14s | Level: %-6s (%6.2f) | Injected: %v\n",
						status,
						s.Invoice.ID,
						result.Assessment.Level,
						result.Assessment.Score,
						s.Injected,
					)
				}
			}
		}()
	}

	// Send work
	for _, s := range samples {
		work <- s
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func flagged(level, threshold string) bool {
	if threshold == "medium" {
		return level == "medium" || level == "high"
	}
	return level == "high"
}

// submitInvoice stores a labelled invoice. Responses are not scored.
func submitInvoice(client *http.Client, opts options, s Sample) (*ScoreResponse, error) {
	resp, err := post(client, opts, "/invoices", s.Invoice)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return nil, statusError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil, nil
}

func scoreInvoice(client *http.Client, opts options, s Sample) (*ScoreResponse, error) {
	resp, err := post(client, opts, "/invoices/score?persist=false", s.Invoice)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func train(client *http.Client, opts options) (*TrainingResult, error) {
	resp, err := post(client, opts, "/model/train", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return nil, statusError(resp)
	}

	var result TrainingResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func post(client *http.Client, opts options, path string, v any) (*http.Response, error) {
	var body io.Reader = http.NoBody
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(http.MethodPost, opts.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", opts.tenantID)

	return client.Do(req)
}

func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
}

func printTraining(r *TrainingResult) {
	if !r.Success {
		fmt.Printf("FAIL Training did not produce a model: %s (samples %d)\n", r.Reason, r.SampleCount)
		return
	}
	fmt.Printf("OK  Model %s trained\n", r.Version)
	fmt.Printf("   Algorithm:      %s\n", r.Algorithm)
	fmt.Printf("   Samples:        %d\n", r.SampleCount)
	fmt.Printf("   Validation MAE: %.4f\n", r.Metric)
	fmt.Printf("   Duration:       %d ms\n", r.DurationMs)
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n+---------------------------------------------------------------+")
	fmt.Println("|                       LOAD TEST RESULTS                       |")
	fmt.Println("+---------------------------------------------------------------+")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Anomalous:        %d\n", m.TotalAnomalous)
	fmt.Printf("   Clean:            %d\n", m.TotalClean)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  FLAGGED    CLEAN")
	fmt.Printf("   Actual  A    %8d %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("           C    %8d %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives,
		m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f invoices/sec\n", tps)
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
