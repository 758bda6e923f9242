// Package bridge talks to the HTTP API of the sensor bridge that feeds the
// ZeroMQ stream.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"depthview-go/internal/geometry"
)

// APIVersion is tried first; unversioned paths are the fallback.
const APIVersion = "1"

var (
	ErrMissingBaseURL = errors.New("missing base url")
	ErrNotFound       = errors.New("bridge resource not found")
)

// BuildPaths lists candidate URLs for resource, most specific first.
func BuildPaths(baseURL string, apiVersion string, resource string) []string {
	baseURL = strings.TrimRight(baseURL, "/")
	apiVersion = strings.Trim(apiVersion, "/")
	resource = strings.Trim(resource, "/")
	if baseURL == "" || resource == "" {
		return nil
	}

	paths := make([]string, 0, 2)
	if apiVersion != "" {
		paths = append(paths, baseURL+"/api/"+apiVersion+"/"+resource)
	}
	paths = append(paths, baseURL+"/api/"+resource)
	return paths
}

// FetchCalibration downloads and validates the camera system of the
// connected sensor.
func FetchCalibration(ctx context.Context, baseURL string) (*geometry.CameraSystem, error) {
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	client := &http.Client{Timeout: 2 * time.Second}
	code, body, err := doRequest(ctx, client, BuildPaths(baseURL, APIVersion, "calibration"))
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("calibration: http %d: %s", code, strings.TrimSpace(string(body)))
	}
	return geometry.ParseCameraSystem(body)
}

// doRequest GETs each path in turn until one answers with something other
// than 404.
func doRequest(ctx context.Context, client *http.Client, paths []string) (int, []byte, error) {
	if len(paths) == 0 {
		return 0, nil, ErrMissingBaseURL
	}
	var lastErr error
	for _, path := range paths {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusNotFound {
			return resp.StatusCode, body, nil
		}
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return http.StatusNotFound, nil, ErrNotFound
}
