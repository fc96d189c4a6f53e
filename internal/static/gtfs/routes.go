// Package gtfs downloads a static GTFS archive and reads the route table
// out of it.
package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/models"
)

// Route is one row of routes.txt. Only the columns we use are mapped; the
// rest are ignored.
type Route struct {
	RouteID   string `csv:"route_id"`
	AgencyID  string `csv:"agency_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	RouteType string `csv:"route_type"`
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Download fetches a GTFS zip into destPath. The file is written to a temp
// name first so a failed download never clobbers the previous archive.
func Download(ctx context.Context, client *http.Client, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download GTFS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GTFS download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	tmp := destPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write GTFS archive: %w", err)
	}

	if err := os.Rename(tmp, destPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move GTFS archive into place: %w", err)
	}

	log.Debug().Str("url", url).Int64("bytes", n).Msg("GTFS archive downloaded")
	return nil
}

// ParseRoutes reads routes.txt from the archive at zipPath
func ParseRoutes(zipPath string) ([]Route, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if filepath.Base(f.Name) != "routes.txt" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open routes.txt: %w", err)
		}
		defer rc.Close()
		return DecodeRoutes(rc)
	}

	return nil, fmt.Errorf("routes.txt not found in %s", zipPath)
}

// DecodeRoutes reads a routes.txt stream. Rows with missing trailing columns
// are tolerated, as are stray quotes and a UTF-8 byte order mark.
func DecodeRoutes(in io.Reader) ([]Route, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read routes.txt: %w", err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var routes []Route
	if err := gocsv.UnmarshalCSV(reader, &routes); err != nil {
		return nil, fmt.Errorf("failed to parse routes.txt: %w", err)
	}
	return routes, nil
}

// RouteInfos keeps the usable routes, keyed by route id
func RouteInfos(routes []Route) map[string]models.RouteInfo {
	out := make(map[string]models.RouteInfo, len(routes))
	skipped := 0
	for _, r := range routes {
		info := models.RouteInfo{
			RouteID:   strings.TrimSpace(r.RouteID),
			ShortName: strings.TrimSpace(r.ShortName),
			LongName:  strings.TrimSpace(r.LongName),
		}
		if !info.Routable() {
			skipped++
			continue
		}
		out[info.RouteID] = info
	}

	log.Debug().Int("routes", len(out)).Int("skipped", skipped).Msg("GTFS routes filtered")
	return out
}
