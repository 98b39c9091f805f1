package pointclient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadPoints parses lat,lon rows. A first row whose cells are not numbers is
// treated as a header; extra columns are ignored.
func ReadPoints(r io.Reader) ([]Point, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		points []Point
		line   int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInput, err)
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("%w: line %d: want lat,lon", ErrInput, line)
		}
		lat, latErr := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		lon, lonErr := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if latErr != nil || lonErr != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: %q,%q are not coordinates", ErrInput, line, rec[0], rec[1])
		}
		points = append(points, Point{Lat: lat, Lon: lon})
	}
	return points, nil
}

// WriteFeatures writes a lat,lon,f0..fn row per point, in input order.
func WriteFeatures(w io.Writer, points []Point, features [][]float64) error {
	if len(points) != len(features) {
		return fmt.Errorf("%w: %d points but %d feature rows", ErrInput, len(points), len(features))
	}
	cw := csv.NewWriter(w)

	width := 0
	if len(features) > 0 {
		width = len(features[0])
	}
	header := make([]string, 0, width+2)
	header = append(header, "lat", "lon")
	for i := 0; i < width; i++ {
		header = append(header, "f"+strconv.Itoa(i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, p := range points {
		row := make([]string, 0, len(features[i])+2)
		row = append(row, fmtFloat(p.Lat), fmtFloat(p.Lon))
		for _, v := range features[i] {
			row = append(row, fmtFloat(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
