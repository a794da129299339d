package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davon-library/webgate/config"
)

func loadOpenAPI(t *testing.T) *openapi3.T {
	t.Helper()
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiSpec)
	require.NoError(t, err, "failed to parse openapi.yaml")
	require.NoError(t, doc.Validate(t.Context()), "openapi.yaml is not a valid document")
	return doc
}

// documented reports whether a route belongs to the JSON contract. Pages,
// static assets and the docs themselves are left out.
func documented(route string) bool {
	return strings.HasPrefix(route, "/api/") ||
		strings.HasPrefix(route, "/mock/") ||
		route == "/health" || route == "/ready"
}

// TestOpenAPIDrift walks the chi router and compares the registered routes
// against the embedded OpenAPI document. It fails if any route is
// undocumented or if the document lists stale paths.
func TestOpenAPIDrift(t *testing.T) {
	doc := loadOpenAPI(t)

	specRoutes := make(map[string]bool)
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			specRoutes[strings.ToUpper(method)+" "+path] = true
		}
	}

	a, err := New(config.Default(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	chiRoutes := make(map[string]bool)
	err = chi.Walk(a.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if documented(route) {
			chiRoutes[method+" "+route] = true
		}
		return nil
	})
	require.NoError(t, err)

	var undocumented, stale []string
	for route := range chiRoutes {
		if !specRoutes[route] {
			undocumented = append(undocumented, route)
		}
	}
	for route := range specRoutes {
		if !chiRoutes[route] {
			stale = append(stale, route)
		}
	}
	slices.Sort(undocumented)
	slices.Sort(stale)

	assert.Empty(t, undocumented, "routes missing from openapi.yaml")
	assert.Empty(t, stale, "openapi.yaml lists routes the router does not serve")
}

func TestOpenAPIServedAndDocs(t *testing.T) {
	a, err := New(config.Default(), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	router := a.Router()

	rec := httptestGet(router, "/openapi.yaml")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, openapiSpec, rec.Body.Bytes())

	rec = httptestGet(router, "/docs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/openapi.yaml")
}

func httptestGet(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}
