package preflight

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"omnireel/internal/config"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckProviderConfig verifies that a provider entry has what its kind needs
// to make calls.
func CheckProviderConfig(p config.Provider) Result {
	name := "Provider " + p.Name
	switch p.Kind {
	case "chat":
		if strings.TrimSpace(p.APIKey) == "" {
			return Result{Name: name, Detail: fmt.Sprintf("API key missing (set api_key or %s)", config.ProviderKeyEnv(p.Name))}
		}
		if strings.TrimSpace(p.Model) == "" {
			return Result{Name: name, Detail: "model missing"}
		}
	case "webhook":
		if strings.TrimSpace(p.BaseURL) == "" {
			return Result{Name: name, Detail: "base_url missing"}
		}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("unsupported kind %q", p.Kind)}
	}
	return Result{Name: name, Passed: true, Detail: p.Kind + " configured"}
}

// CheckCapabilityBindings verifies that every bound capability names at
// least one configured provider.
func CheckCapabilityBindings(cfg *config.Config) Result {
	const name = "Capability bindings"
	if len(cfg.Capabilities) == 0 {
		return Result{Name: name, Detail: "no capabilities bound"}
	}
	var unknown []string
	for capability, providers := range cfg.Capabilities {
		for _, p := range providers {
			if _, ok := cfg.Provider(p); !ok {
				unknown = append(unknown, capability+"->"+p)
			}
		}
	}
	if len(unknown) > 0 {
		return Result{Name: name, Detail: "unknown providers: " + strings.Join(unknown, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d capabilities bound", len(cfg.Capabilities))}
}

// CheckEndpoint verifies that a provider endpoint answers and accepts the
// credentials. Any status other than 401, 403 or 5xx counts as reachable.
func CheckEndpoint(ctx context.Context, name, url, token string) Result {
	url = strings.TrimSpace(url)
	if url == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("request failed (%v)", err)}
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("unreachable (%v)", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api key)"}
	case resp.StatusCode >= 500:
		return Result{Name: name, Detail: fmt.Sprintf("server error (%d)", resp.StatusCode)}
	default:
		return Result{Name: name, Passed: true, Detail: "Reachable"}
	}
}
