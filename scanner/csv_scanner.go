package scanner

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"sensor_telemetry/logger"
	"sensor_telemetry/telemetry"
)

// Ingester stores one sample. *telemetry.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, s telemetry.Sample) (telemetry.Ingestion, error)
}

// Expected column order of a telemetry CSV file
const (
	colTimestamp = iota
	colTransmitterMAC
	colSensorDeviceMAC
	colSensorAddress
	colTemperature
	columnCount
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// CSVScanner handles scanning and importing telemetry CSV files
type CSVScanner struct {
	ingester    Ingester
	workerCount int
}

// FileJob represents a CSV file to be processed
type FileJob struct {
	FilePath string
	FileName string
}

// ProcessResult contains the result of processing a CSV file
type ProcessResult struct {
	FilePath    string
	RecordCount int
	ErrorCount  int
	Duration    time.Duration
	Error       error
}

// NewCSVScanner creates a new CSV scanner feeding ingester
func NewCSVScanner(ingester Ingester) *CSVScanner {
	workerCount := runtime.NumCPU()
	if workerCount > 8 {
		workerCount = 8
	}

	return &CSVScanner{
		ingester:    ingester,
		workerCount: workerCount,
	}
}

// SetWorkerCount sets the number of parallel workers
func (cs *CSVScanner) SetWorkerCount(count int) {
	if count > 0 {
		cs.workerCount = count
	}
}

// ScanDirectory imports every CSV file directly inside directoryPath and
// returns one result per file
func (cs *CSVScanner) ScanDirectory(ctx context.Context, directoryPath string) ([]ProcessResult, error) {
	logger.Printf("Scanning directory: %s", directoryPath)

	if _, err := os.Stat(directoryPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("directory does not exist: %s", directoryPath)
	}

	csvFiles, err := cs.findCSVFiles(directoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find CSV files: %w", err)
	}

	if len(csvFiles) == 0 {
		logger.Println("No CSV files found in the directory")
		return nil, nil
	}

	logger.Printf("Found %d CSV file(s) to process", len(csvFiles))
	logger.Printf("Processing with %d parallel workers", cs.workerCount)

	results := cs.processFilesParallel(ctx, csvFiles)
	cs.displaySummary(results)

	return results, nil
}

// findCSVFiles lists the CSV files in directoryPath (non-recursive)
func (cs *CSVScanner) findCSVFiles(directoryPath string) ([]FileJob, error) {
	var csvFiles []FileJob

	entries, err := os.ReadDir(directoryPath)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.ToLower(filepath.Ext(entry.Name())) == ".csv" {
			csvFiles = append(csvFiles, FileJob{
				FilePath: filepath.Join(directoryPath, entry.Name()),
				FileName: entry.Name(),
			})
		}
	}

	return csvFiles, nil
}

func (cs *CSVScanner) processFilesParallel(ctx context.Context, files []FileJob) []ProcessResult {
	jobs := make(chan FileJob, len(files))
	results := make(chan ProcessResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < cs.workerCount; i++ {
		wg.Add(1)
		go cs.worker(ctx, jobs, results, &wg)
	}

	go func() {
		for _, file := range files {
			jobs <- file
		}
		close(jobs)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var allResults []ProcessResult
	for result := range results {
		allResults = append(allResults, result)
	}

	return allResults
}

func (cs *CSVScanner) worker(ctx context.Context, jobs <-chan FileJob, results chan<- ProcessResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for job := range jobs {
		results <- cs.processCSVFile(ctx, job)
	}
}

// processCSVFile ingests the rows of one file. Each row is its own unit of
// work, so a bad row does not undo the rows before it.
func (cs *CSVScanner) processCSVFile(ctx context.Context, job FileJob) ProcessResult {
	startTime := time.Now()
	result := ProcessResult{FilePath: job.FilePath}

	logger.Printf("Processing file: %s", job.FileName)

	file, err := os.Open(job.FilePath)
	if err != nil {
		result.Error = fmt.Errorf("failed to open file: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		result.Error = fmt.Errorf("failed to read CSV: %w", err)
		result.Duration = time.Since(startTime)
		return result
	}

	if len(records) == 0 {
		result.Error = errors.New("empty CSV file")
		result.Duration = time.Since(startTime)
		return result
	}

	samples, errorCount := ParseRecords(records, job.FileName)
	result.ErrorCount = errorCount

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			result.Error = fmt.Errorf("import interrupted: %w", err)
			break
		}
		if _, err := cs.ingester.Ingest(ctx, s); err != nil {
			result.ErrorCount++
			logger.Warnf("Failed to ingest %s/%s/%s at %s: %v",
				s.TransmitterMAC, s.SensorDeviceMAC, s.SensorAddress, s.RecordedAt.Format(time.RFC3339), err)
			continue
		}
		result.RecordCount++
	}

	result.Duration = time.Since(startTime)
	logger.Printf("✓ Completed %s: %d readings ingested, %d errors in %v",
		job.FileName, result.RecordCount, result.ErrorCount, result.Duration)

	return result
}

// ParseRecords turns CSV rows into samples, skipping a header row if present.
// Rows that cannot be parsed are logged and counted.
func ParseRecords(records [][]string, fileName string) ([]telemetry.Sample, int) {
	var samples []telemetry.Sample
	var errorCount int

	startRow := 0
	if len(records) > 0 && isHeaderRow(records[0]) {
		startRow = 1
	}

	for i := startRow; i < len(records); i++ {
		record := records[i]

		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		if len(record) < columnCount {
			errorCount++
			logger.Warnf("Row %d in %s has insufficient columns (expected %d, got %d)",
				i+1, fileName, columnCount, len(record))
			continue
		}

		timestampStr := strings.TrimSpace(record[colTimestamp])
		timestamp, err := parseTimestamp(timestampStr)
		if err != nil {
			errorCount++
			logger.Warnf("Row %d in %s has invalid timestamp format: %s", i+1, fileName, timestampStr)
			continue
		}

		valueStr := strings.TrimSpace(record[colTemperature])
		temperature, err := strconv.ParseFloat(valueStr, 64)
		if err != nil {
			errorCount++
			logger.Warnf("Row %d in %s has invalid temperature: %s", i+1, fileName, valueStr)
			continue
		}

		s := telemetry.Sample{
			TransmitterMAC:  strings.TrimSpace(record[colTransmitterMAC]),
			SensorDeviceMAC: strings.TrimSpace(record[colSensorDeviceMAC]),
			SensorAddress:   strings.TrimSpace(record[colSensorAddress]),
			Temperature:     temperature,
			RecordedAt:      timestamp.UTC(),
		}
		if err := s.Validate(); err != nil {
			errorCount++
			logger.Warnf("Row %d in %s: %v", i+1, fileName, err)
			continue
		}

		samples = append(samples, s)
	}

	return samples, errorCount
}

func parseTimestamp(value string) (time.Time, error) {
	var err error
	for _, layout := range timestampLayouts {
		var ts time.Time
		if ts, err = time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, err
}

// isHeaderRow checks if the first row is likely a header
func isHeaderRow(row []string) bool {
	if len(row) == 0 {
		return false
	}

	firstCol := strings.ToLower(strings.TrimSpace(row[0]))
	for _, word := range []string{"timestamp", "time", "date", "datetime"} {
		if strings.Contains(firstCol, word) {
			return true
		}
	}

	_, err := parseTimestamp(strings.TrimSpace(row[0]))
	return err != nil
}

func (cs *CSVScanner) displaySummary(results []ProcessResult) {
	logger.Println("\n" + strings.Repeat("=", 60))
	logger.Println("IMPORT SUMMARY")
	logger.Println(strings.Repeat("=", 60))

	totalRecords := 0
	totalErrors := 0
	successfulFiles := 0
	failedFiles := 0
	totalDuration := time.Duration(0)

	for _, result := range results {
		if result.Error != nil {
			failedFiles++
			logger.Printf("❌ %s: FAILED - %v", filepath.Base(result.FilePath), result.Error)
		} else {
			successfulFiles++
			logger.Printf("✅ %s: %d readings, %d errors (%v)",
				filepath.Base(result.FilePath), result.RecordCount, result.ErrorCount, result.Duration)
		}
		totalRecords += result.RecordCount
		totalErrors += result.ErrorCount
		totalDuration += result.Duration
	}

	logger.Println(strings.Repeat("-", 60))
	logger.Printf("Total files processed: %d", len(results))
	logger.Printf("Successful: %d", successfulFiles)
	logger.Printf("Failed: %d", failedFiles)
	logger.Printf("Total readings ingested: %d", totalRecords)
	logger.Printf("Total row errors: %d", totalErrors)
	logger.Printf("Total processing time: %v", totalDuration)
	logger.Println(strings.Repeat("=", 60))
}
