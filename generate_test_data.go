//go:build ignore

package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run generate_test_data.go <output_directory>")
		fmt.Println("Example: go run generate_test_data.go test_data")
		return
	}

	outputDir := os.Args[1]

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		fmt.Printf("Failed to create directory: %v\n", err)
		return
	}

	// one file per transmitter, as a gateway would upload them
	sites := []Site{
		{Transmitter: "A4CF12000001", Devices: 3, SensorsPerDevice: 4, Interval: 5 * time.Minute, BaseTemp: 14},
		{Transmitter: "A4CF12000002", Devices: 2, SensorsPerDevice: 6, Interval: 10 * time.Minute, BaseTemp: 11},
		{Transmitter: "A4CF12000003", Devices: 4, SensorsPerDevice: 2, Interval: 15 * time.Minute, BaseTemp: 9},
	}

	var wg sync.WaitGroup
	for i, site := range sites {
		wg.Add(1)
		go generateSite(i, outputDir, site, &wg)
	}
	wg.Wait()
	fmt.Println("All mocked data generated.")
}

// Site is a transmitter with its sensor devices and their probes
type Site struct {
	Transmitter      string
	Devices          int
	SensorsPerDevice int
	Interval         time.Duration
	BaseTemp         float64
}

type Row struct {
	Timestamp       time.Time
	TransmitterMAC  string
	SensorDeviceMAC string
	SensorAddress   string
	Temperature     float64
}

const numberOfDays = 30

func generateSite(id int, outputDir string, site Site, wg *sync.WaitGroup) {
	defer wg.Done()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	filename := fmt.Sprintf("transmitter_%s.csv", site.Transmitter)
	rows := generateRows(rng, site)

	if err := writeCSV(filepath.Join(outputDir, filename), rows); err != nil {
		fmt.Printf("Failed to write %s: %v\n", filename, err)
		return
	}

	fmt.Printf("Generated %s with %d records\n", filename, len(rows))
}

func generateRows(rng *rand.Rand, site Site) []Row {
	var rows []Row
	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -numberOfDays)
	steps := int(time.Duration(numberOfDays) * 24 * time.Hour / site.Interval)

	for d := 0; d < site.Devices; d++ {
		deviceMAC := fmt.Sprintf("%s%02X", site.Transmitter[:10], 0x10+d)

		for s := 0; s < site.SensorsPerDevice; s++ {
			// deeper probes are colder and follow the daily cycle less
			depth := float64(s) * 0.5
			damping := math.Exp(-depth)

			for i := 0; i < steps; i++ {
				ts := start.Add(time.Duration(i) * site.Interval)
				hourAngle := float64(ts.Hour()) * math.Pi / 12
				cycle := 6.0 * math.Sin(hourAngle-math.Pi/2) * damping
				noise := rng.Float64()*0.4 - 0.2

				rows = append(rows, Row{
					Timestamp:       ts,
					TransmitterMAC:  site.Transmitter,
					SensorDeviceMAC: deviceMAC,
					SensorAddress:   strconv.Itoa(s + 1),
					Temperature:     site.BaseTemp - depth + cycle + noise,
				})
			}
		}
	}

	return rows
}

func writeCSV(filename string, rows []Row) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"timestamp", "transmitter_mac", "sensor_device_mac", "sensor_address", "temperature"}); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Timestamp.Format(time.RFC3339),
			row.TransmitterMAC,
			row.SensorDeviceMAC,
			row.SensorAddress,
			strconv.FormatFloat(row.Temperature, 'f', 2, 64),
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
