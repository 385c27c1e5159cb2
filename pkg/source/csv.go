package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/rus-connect/filterbench/pkg/common"
	"github.com/rus-connect/filterbench/pkg/validator"
)

var (
	timeColumns  = []string{"timestamp", "time", "date", "datetime", "open_time"}
	closeColumns = []string{"close", "close_price", "price"}
)

// CSVLoader reads a file with a timestamp column and a close column. Other
// columns are ignored; header names are matched case-insensitively.
type CSVLoader struct {
	Path string
}

func (l CSVLoader) Load(_ context.Context, q Query) (common.PriceSeries, error) {
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, q)
}

// ReadCSV parses r the way CSVLoader does
func ReadCSV(r io.Reader, q Query) (common.PriceSeries, error) {
	df := dataframe.ReadCSV(r,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("read csv: %w", df.Err)
	}

	tsCol, ok := findColumn(df.Names(), timeColumns)
	if !ok {
		return nil, &validator.ValidationError{Field: "csv", Reason: "no timestamp column"}
	}
	closeCol, ok := findColumn(df.Names(), closeColumns)
	if !ok {
		return nil, &validator.ValidationError{Field: "csv", Reason: "no close column"}
	}

	stamps := df.Col(tsCol).Records()
	closes := df.Col(closeCol).Records()
	points := make(common.PriceSeries, 0, len(stamps))
	for i := range stamps {
		ts, err := ParseTime(stamps[i])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(closes[i]), 64)
		if err != nil {
			return nil, &validator.ValidationError{Field: "close", Reason: fmt.Sprintf("row %d: %q is not a number", i+1, closes[i])}
		}
		points = append(points, common.PricePoint{Timestamp: ts, Close: c})
	}
	return Normalize(points, q)
}

func findColumn(names []string, candidates []string) (string, bool) {
	for _, want := range candidates {
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), want) {
				return n, true
			}
		}
	}
	return "", false
}
