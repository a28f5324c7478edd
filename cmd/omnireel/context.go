package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"omnireel/internal/config"
	"omnireel/internal/jobs"
	"omnireel/internal/ledger"
	"omnireel/internal/storage"
	"omnireel/internal/workflow"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) logLevel(cfg *config.Config) string {
	if c.logLevelFlag != nil && strings.TrimSpace(*c.logLevelFlag) != "" {
		return strings.TrimSpace(*c.logLevelFlag)
	}
	return cfg.Logging.Level
}

// storeSet bundles the handles commands need on the shared database.
type storeSet struct {
	db       *storage.DB
	jobs     *jobs.Store
	ledger   *ledger.Ledger
	operator *workflow.Operator
}

func (c *commandContext) withStores(fn func(*storeSet) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	db, err := storage.Open(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	store := jobs.NewStore(db)
	l := ledger.New(db)
	return fn(&storeSet{db: db, jobs: store, ledger: l, operator: workflow.NewOperator(store, l)})
}

// errAPIDisabled reports that the daemon's reporting API is turned off.
var errAPIDisabled = errors.New("reporting API disabled (set api.enabled = true)")

// getAPI fetches path from the daemon's reporting API into out.
func (c *commandContext) getAPI(ctx context.Context, path string, out any) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	if !cfg.API.Enabled {
		return errAPIDisabled
	}
	reqCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, apiBaseURL(cfg.API.Bind)+path, nil)
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(cfg.API.Token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect to daemon API at %s: %w", cfg.API.Bind, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon API %s: %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiBaseURL turns a listen address into a dialable URL; wildcard hosts
// map to loopback.
func apiBaseURL(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return "http://" + bind
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
