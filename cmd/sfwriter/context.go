package main

import (
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"sfwriter/internal/config"
	"sfwriter/internal/control"
)

const defaultControlURL = "http://127.0.0.1:8080"

type commandContext struct {
	configFlag *string
	urlFlag    *string
	tokenFlag  *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, urlFlag, tokenFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
		tokenFlag:  tokenFlag,
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
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) controlURL() string {
	if c.urlFlag != nil {
		if url := strings.TrimSpace(*c.urlFlag); url != "" {
			return url
		}
	}
	return defaultControlURL
}

func (c *commandContext) token() string {
	if c.tokenFlag != nil {
		if token := strings.TrimSpace(*c.tokenFlag); token != "" {
			return token
		}
	}
	if cfg, err := c.ensureConfig(); err == nil && cfg != nil {
		return cfg.Control.APIToken
	}
	return ""
}

func (c *commandContext) client() *control.Client {
	return control.NewClient(c.controlURL(), control.WithToken(c.token()))
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
