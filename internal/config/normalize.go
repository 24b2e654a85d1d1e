package config

import (
	"os"
	"strings"
)

func (c *Config) normalize() {
	c.normalizeStorage()
	c.normalizeHeader()
	c.normalizeNotify()
	c.normalizeControl()
	c.normalizeLogging()
	c.normalizeFormat()
}

func (c *Config) normalizeStorage() {
	c.Storage.RawDataset = strings.Trim(strings.TrimSpace(c.Storage.RawDataset), "/")
	if c.Storage.RawDataset == "" {
		c.Storage.RawDataset = defaultRawDataset
	}
}

func (c *Config) normalizeHeader() {
	if len(c.Header.Fields) == 0 {
		c.Header.Fields = defaultHeaderFields()
	}
	fields := make(map[string]string, len(c.Header.Fields))
	for name, dtype := range c.Header.Fields {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		fields[name] = strings.ToLower(strings.TrimSpace(dtype))
	}
	c.Header.Fields = fields
	c.Header.PulseIDField = strings.TrimSpace(c.Header.PulseIDField)
}

func (c *Config) normalizeNotify() {
	c.Notify.UserAgent = strings.TrimSpace(c.Notify.UserAgent)
	if c.Notify.UserAgent == "" {
		c.Notify.UserAgent = defaultNotifyUserAgent
	}
}

func (c *Config) normalizeControl() {
	c.Control.BindHost = strings.TrimSpace(c.Control.BindHost)
	if c.Control.BindHost == "" {
		c.Control.BindHost = defaultBindHost
	}
	c.Control.APIToken = strings.TrimSpace(c.Control.APIToken)
	if c.Control.APIToken == "" {
		if value, ok := os.LookupEnv("SFWRITER_API_TOKEN"); ok {
			c.Control.APIToken = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "json", "console":
	default:
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}
}

func (c *Config) normalizeFormat() {
	if c.Format.Name == "" && len(c.Format.Parameters) == 0 && len(c.Format.Attributes) == 0 {
		c.Format = defaultFormat()
		return
	}
	c.Format.Name = strings.TrimSpace(c.Format.Name)
	params := make(map[string]string, len(c.Format.Parameters))
	for name, kind := range c.Format.Parameters {
		params[strings.TrimSpace(name)] = strings.ToLower(strings.TrimSpace(kind))
	}
	c.Format.Parameters = params
	if c.Format.Defaults == nil {
		c.Format.Defaults = map[string]any{}
	}
	for i := range c.Format.Attributes {
		attr := &c.Format.Attributes[i]
		attr.Path = strings.TrimSpace(attr.Path)
		if attr.Path == "" {
			attr.Path = "/"
		}
		attr.Name = strings.TrimSpace(attr.Name)
		attr.Parameter = strings.TrimSpace(attr.Parameter)
	}
}
