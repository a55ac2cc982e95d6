package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/forecastops/forecastops/internal/series"
)

// loadSeries reads a date,value CSV (header optional) into a Series. Data
// acquisition proper lives outside the controller; this is just the file
// handoff format.
func loadSeries(path string) (*series.Series, error) {
	if path == "" {
		return nil, fmt.Errorf("--series is required for this command")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open series file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read series file: %w", err)
	}

	var points []series.Point
	for i, row := range rows {
		date, err := time.Parse("2006-01-02", row[0])
		if err != nil {
			if i == 0 {
				continue // header row
			}
			return nil, fmt.Errorf("line %d: bad date %q: %w", i+1, row[0], err)
		}
		value, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad value %q: %w", i+1, row[1], err)
		}
		points = append(points, series.Point{Date: date, Value: value})
	}
	return series.New(points)
}
