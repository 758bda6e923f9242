package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Status struct {
	// State is the lower-cased state reported by the bridge, or "error" /
	// "http_<code>" when it could not be read.
	State     string
	Available bool
}

// Poll reports the bridge status to update immediately and then every
// interval until ctx is done.
func Poll(ctx context.Context, baseURL string, interval time.Duration, update func(Status)) {
	if baseURL == "" || update == nil || interval <= 0 {
		return
	}
	client := &http.Client{
		Timeout: 900 * time.Millisecond,
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		update(FetchStatus(ctx, client, baseURL))

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func FetchStatus(ctx context.Context, client *http.Client, baseURL string) Status {
	code, body, err := doRequest(ctx, client, BuildPaths(baseURL, APIVersion, "status"))
	if err != nil {
		return Status{State: "error"}
	}
	if code != http.StatusOK {
		return Status{State: fmt.Sprintf("http_%d", code)}
	}
	if len(body) == 0 {
		return Status{State: "ok", Available: true}
	}
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Status{State: "ok", Available: true}
	}
	if available, ok := findAvailable(decoded); ok {
		state := strings.ToLower(findState(decoded))
		if state == "" {
			state = "ok"
		}
		return Status{State: state, Available: available}
	}
	state := strings.ToLower(findState(decoded))
	if state == "" {
		return Status{State: "ok", Available: true}
	}
	return Status{State: state, Available: availableState(state)}
}

func availableState(state string) bool {
	switch state {
	case "ok", "ready", "available", "running", "streaming":
		return true
	}
	return false
}

func findAvailable(value any) (bool, bool) {
	m, ok := value.(map[string]any)
	if !ok {
		return false, false
	}
	for _, key := range []string{"available", "is_available"} {
		if b, ok := m[key].(bool); ok {
			return b, true
		}
	}
	return false, false
}

func findState(value any) string {
	switch v := value.(type) {
	case map[string]any:
		for _, key := range []string{"state", "status", "value"} {
			if entry, ok := v[key]; ok {
				switch inner := entry.(type) {
				case string:
					return inner
				default:
					if nested := findState(inner); nested != "" {
						return nested
					}
				}
			}
		}
	case []any:
		for _, entry := range v {
			if nested := findState(entry); nested != "" {
				return nested
			}
		}
	}
	return ""
}
