// Benchmark tool for exercising a running Kestrel instance with labeled
// traffic.
//
// Usage:
//   go run cmd/benchmark/main.go -url http://localhost:8080 -limit 2000
//   go run cmd/benchmark/main.go -csv /path/to/labeled.csv -feedback -retrain
//
// This tool:
//  1. Reads labeled transactions from a CSV (name,amount,device,is_fraud),
//     or synthesizes a labeled mix when no CSV is given
//  2. Sends each transaction to POST /transaction
//  3. Compares the flagged verdict with the actual fraud label
//  4. Calculates precision, recall, F1-score, and the confusion matrix
//  5. Optionally submits the true labels as feedback and triggers a
//     retrain cycle, exercising the adaptive loop end to end
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LabeledTransaction is one row of benchmark traffic.
type LabeledTransaction struct {
	Name    string
	Amount  float64
	Device  string
	IsFraud bool
}

// ScoreRequest is the Kestrel API request format.
type ScoreRequest struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Device string  `json:"device"`
}

// ScoreResponse is the subset of the Kestrel response the benchmark uses.
type ScoreResponse struct {
	TransactionID    string  `json:"transaction_id"`
	FraudProbability float64 `json:"fraud_probability"`
	RiskScore        int     `json:"risk_score"`
	RiskLevel        string  `json:"risk_level"`
	Flagged          bool    `json:"flagged"`
}

// FeedbackRequest submits the true label back to Kestrel.
type FeedbackRequest struct {
	TransactionID string `json:"transaction_id"`
	IsFraud       bool   `json:"is_fraud"`
	AnalystID     string `json:"admin_id,omitempty"`
}

// RetrainResponse reports the champion/challenger outcome.
type RetrainResponse struct {
	Swapped      bool    `json:"swapped"`
	ChampionF1   float64 `json:"champion_f1"`
	ChallengerF1 float64 `json:"challenger_f1"`
	Message      string  `json:"message"`
	Error        string  `json:"error"`
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Fraud flagged
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled CSV (name,amount,device,is_fraud); empty = synthesize")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 2000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	fraudRate := flag.Float64("fraud-rate", 0.1, "Fraud share for synthesized traffic (0.0-1.0)")
	seed := flag.Int64("seed", 42, "Seed for synthesized traffic")
	sendFeedback := flag.Bool("feedback", false, "Submit true labels as feedback after scoring")
	retrain := flag.Bool("retrain", false, "Trigger a retrain cycle after the run")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Fraud Scoring Evaluation         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Feedback:    %v\n", *sendFeedback)
	fmt.Printf("Retrain:     %v\n", *retrain)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	var transactions []LabeledTransaction
	var err error
	if *csvPath != "" {
		fmt.Printf("\nReading labeled data from %s...\n", *csvPath)
		transactions, err = readLabeledCSV(*csvPath, *limit)
		if err != nil {
			fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("\nSynthesizing %d labeled transactions (fraud rate %.2f)...\n", *limit, *fraudRate)
		transactions = synthesizeTraffic(*limit, *fraudRate, *seed)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(transactions))

	fraudCount := 0
	for _, tx := range transactions {
		if tx.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(transactions)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(transactions)-fraudCount, 100*float64(len(transactions)-fraudCount)/float64(len(transactions)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(transactions, *baseURL, *workers, *sendFeedback, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *retrain {
		fmt.Println("Triggering retrain cycle...")
		result, err := triggerRetrain(*baseURL)
		switch {
		case err != nil:
			fmt.Printf("   Retrain failed: %v\n", err)
		case result.Error != "":
			fmt.Printf("   Retrain rejected: %s\n", result.Error)
		case result.Swapped:
			fmt.Printf("   ✓ Challenger promoted: F1 %.4f (champion was %.4f)\n",
				result.ChallengerF1, result.ChampionF1)
		default:
			fmt.Printf("   Champion retained: challenger F1 %.4f vs champion %.4f\n",
				result.ChallengerF1, result.ChampionF1)
		}
		fmt.Println()
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

func readLabeledCSV(path string, limit int) ([]LabeledTransaction, error) {
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
	for _, required := range []string{"name", "amount", "is_fraud"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var transactions []LabeledTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseFloat(record[colIndex["amount"]], 64)
		if err != nil || amount <= 0 {
			continue
		}

		device := "Mobile"
		if i, ok := colIndex["device"]; ok && record[i] != "" {
			device = record[i]
		}

		transactions = append(transactions, LabeledTransaction{
			Name:    record[colIndex["name"]],
			Amount:  amount,
			Device:  device,
			IsFraud: record[colIndex["is_fraud"]] == "1" || strings.EqualFold(record[colIndex["is_fraud"]], "true"),
		})

		if limit > 0 && len(transactions) >= limit {
			break
		}
	}

	return transactions, nil
}

var devices = []string{"Mobile", "Desktop", "Tablet"}

// synthesizeTraffic generates a labeled mix. Legitimate accounts build a
// small spending history first so baselines exist; fraud rows then spike
// far above it.
func synthesizeTraffic(limit int, fraudRate float64, seed int64) []LabeledTransaction {
	rng := rand.New(rand.NewSource(seed))
	transactions := make([]LabeledTransaction, 0, limit)

	accountCount := limit/10 + 1
	for i := 0; i < limit; i++ {
		account := fmt.Sprintf("bench-user-%d", rng.Intn(accountCount))
		if rng.Float64() < fraudRate {
			transactions = append(transactions, LabeledTransaction{
				Name:    account,
				Amount:  10000 + rng.Float64()*60000,
				Device:  devices[rng.Intn(len(devices))],
				IsFraud: true,
			})
		} else {
			transactions = append(transactions, LabeledTransaction{
				Name:    account,
				Amount:  20 + rng.Float64()*480,
				Device:  devices[rng.Intn(len(devices))],
				IsFraud: false,
			})
		}
	}
	return transactions
}

func runBenchmark(transactions []LabeledTransaction, baseURL string, numWorkers int, sendFeedback, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledTransaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := scoreTransaction(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.Name, err)
					}
					continue
				}

				if tx.IsFraud {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.Flagged
				actual := tx.IsFraud

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if sendFeedback && result.TransactionID != "" {
					if err := submitFeedback(client, baseURL, result.TransactionID, tx.IsFraud); err != nil && verbose {
						fmt.Printf("FEEDBACK ERROR: %s -> %v\n", result.TransactionID, err)
					}
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					name := tx.Name
					if len(name) > 14 {
						name = name[:14]
					}
					fmt.Printf("%s %-14s | Amount: $%10.2f | Fraud: %-5v | Kestrel: %-6v (score %3d, %s)\n",
						status, name, tx.Amount, tx.IsFraud, result.Flagged, result.RiskScore, result.RiskLevel)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)

	wg.Wait()

	return metrics
}

func scoreTransaction(client *http.Client, baseURL string, tx LabeledTransaction) (*ScoreResponse, error) {
	body, err := json.Marshal(ScoreRequest{
		Name:   tx.Name,
		Amount: tx.Amount,
		Device: tx.Device,
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/transaction", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func submitFeedback(client *http.Client, baseURL, txID string, isFraud bool) error {
	body, err := json.Marshal(FeedbackRequest{
		TransactionID: txID,
		IsFraud:       isFraud,
		AnalystID:     "benchmark",
	})
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/feedback", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func triggerRetrain(baseURL string) (*RetrainResponse, error) {
	client := &http.Client{Timeout: 120 * time.Second}
	resp, err := client.Post(baseURL+"/retrain", "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result RetrainResponse
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
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged      Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
