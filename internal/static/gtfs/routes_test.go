package gtfs

import (
	"archive/zip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routesTxt = "\xEF\xBB\xBFroute_id,agency_id,route_short_name,route_long_name,route_desc,route_type\n" +
	"R1,CTTRANSIT,12,Downtown Loop,,3\n" +
	"R2,CTTRANSIT,204,Route 204,,3\n" +
	"R3,CTTRANSIT,,Shoreline,,3\n" +
	"R4,CTTRANSIT,7,,,3\n" +
	"R5,CTTRANSIT,9,9,,3\n" +
	"R6,CTTRANSIT,Unknown,Night Owl,,3\n" +
	"R7,CTTRANSIT,15,Unknown Destination,,3\n" +
	"R8,CTTRANSIT,243,\"Yale, Hospital\"\n"

func writeArchive(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gtfs.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func TestParseRoutes(t *testing.T) {
	path := writeArchive(t, map[string]string{"routes.txt": routesTxt, "agency.txt": "agency_id\nCTTRANSIT\n"})

	routes, err := ParseRoutes(path)
	require.NoError(t, err)
	require.Len(t, routes, 8)
	assert.Equal(t, "R1", routes[0].RouteID, "BOM stripped from first header")
	assert.Equal(t, "Yale, Hospital", routes[7].LongName)
}

func TestParseRoutes_MissingFile(t *testing.T) {
	path := writeArchive(t, map[string]string{"stops.txt": "stop_id\n1\n"})
	_, err := ParseRoutes(path)
	assert.Error(t, err)
}

func TestRouteInfos_FiltersUnusable(t *testing.T) {
	routes, err := DecodeRoutes(strings.NewReader(routesTxt))
	require.NoError(t, err)

	infos := RouteInfos(routes)

	tests := []struct {
		id   string
		keep bool
	}{
		{"R1", true},
		{"R2", false}, // long name just restates the short name
		{"R3", false}, // empty short name
		{"R4", false}, // empty long name
		{"R5", false}, // long == short
		{"R6", false}, // unknown short name
		{"R7", false}, // unknown long name
		{"R8", true},
	}
	for _, tc := range tests {
		t.Run(tc.id, func(t *testing.T) {
			_, ok := infos[tc.id]
			assert.Equal(t, tc.keep, ok)
		})
	}
	assert.Equal(t, "12 - Downtown Loop", infos["R1"].DisplayName())
}

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("zipbytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "nested", "gtfs.zip")
	require.NoError(t, Download(context.Background(), srv.Client(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "zipbytes", string(data))
}

func TestDownload_ErrorKeepsExistingFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(dest, []byte("old"), 0644))

	assert.Error(t, Download(context.Background(), srv.Client(), srv.URL, dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}
