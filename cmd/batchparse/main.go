// Batch client for a running coverage-parser server.
//
// Usage:
//
//	go run ./cmd/batchparse -file 原文条款-批次1.md -url http://localhost:8080
//
// This tool:
//  1. Reads a ||| clause file (serial|||policyDocumentId|||coverageType|||coverageName|||clauseText)
//  2. Posts the clauses to /parse/batch in chunks
//  3. Prints each clause's status, parse method and confidence
//  4. Summarizes methods, review flags and mean confidence
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/insurelab/coverage-parser/internal/api"
	"github.com/insurelab/coverage-parser/internal/clausefile"
	"github.com/insurelab/coverage-parser/internal/domain"
)

func main() {
	path := flag.String("file", "", "Path to the ||| clause file")
	baseURL := flag.String("url", "http://localhost:8080", "coverage-parser base URL")
	tenantID := flag.String("tenant", "batchparse", "Tenant ID for requests")
	chunk := flag.Int("chunk", 50, "Clauses per /parse/batch request")
	timeout := flag.Duration("timeout", 10*time.Minute, "Timeout per batch request")
	outPath := flag.String("out", "", "Write the raw batch responses as JSON to this file")
	flag.Parse()

	if *path == "" {
		fmt.Println("Usage: batchparse -file clauses.md [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *chunk <= 0 || *chunk > api.MaxBatchItems {
		fmt.Printf("ERROR: -chunk must be between 1 and %d\n", api.MaxBatchItems)
		os.Exit(1)
	}

	fmt.Printf("Clause file: %s\n", *path)
	fmt.Printf("Server URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:   %s\n", *tenantID)
	fmt.Printf("Chunk size:  %d\n", *chunk)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: coverage-parser not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure the server is running:")
		fmt.Println("  go run ./cmd/coverage-parser serve")
		os.Exit(1)
	}
	fmt.Println("✓ server is healthy")

	records, err := readRecords(*path)
	if err != nil {
		fmt.Printf("ERROR: failed to read clause file: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ loaded %d clauses\n\n", len(records))

	client := &http.Client{Timeout: *timeout}
	start := time.Now()
	outcomes := make([]*domain.Outcome, 0, len(records))
	var responses []*api.BatchResponse

	for lo := 0; lo < len(records); lo += *chunk {
		hi := min(lo+*chunk, len(records))
		resp, err := postBatch(client, *baseURL, *tenantID, records[lo:hi])
		if err != nil {
			fmt.Printf("ERROR: batch %d-%d failed: %v\n", records[lo].Serial, records[hi-1].Serial, err)
			for range hi - lo {
				outcomes = append(outcomes, domain.Failed(domain.NewFailure(domain.KindNetwork, err.Error(), err)))
			}
			continue
		}
		outcomes = append(outcomes, resp.Outcomes...)
		responses = append(responses, resp)
		fmt.Printf("  %d/%d parsed (%s)\n", hi, len(records), time.Since(start).Round(time.Millisecond))
	}
	fmt.Println()

	if *outPath != "" {
		if err := writeResponses(*outPath, responses); err != nil {
			fmt.Printf("ERROR: failed to write %s: %v\n", *outPath, err)
		}
	}

	if err := clausefile.WriteReport(os.Stdout, records, outcomes); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nelapsed %s\n", time.Since(start).Round(time.Millisecond))
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

func readRecords(path string) ([]clausefile.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, skipped, err := clausefile.Read(f)
	if err != nil {
		return nil, err
	}
	for _, s := range skipped {
		fmt.Printf("  skipped line %d: %s\n", s.Line, s.Reason)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no clause records found")
	}
	return records, nil
}

func postBatch(client *http.Client, baseURL, tenantID string, records []clausefile.Record) (*api.BatchResponse, error) {
	req := api.BatchRequest{Items: make([]api.ParseRequest, len(records))}
	for i, r := range records {
		req.Items[i] = api.ParseRequest{
			Text:             r.Text,
			CoverageType:     r.CoverageType,
			CoverageName:     r.CoverageName,
			PolicyDocumentID: r.PolicyDocID,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/parse/batch", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(api.TenantIDHeader, tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result api.BatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if len(result.Outcomes) != len(records) {
		return nil, fmt.Errorf("expected %d outcomes, got %d", len(records), len(result.Outcomes))
	}
	return &result, nil
}

func writeResponses(path string, responses []*api.BatchResponse) error {
	b, err := json.MarshalIndent(responses, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
