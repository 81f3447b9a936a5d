// Package config handles configuration loading for the hexbin server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dsc-hexbins/server/internal/hexbin"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Data   DataConfig   `yaml:"data"`
	Cache  CacheConfig  `yaml:"cache"`
	Widget WidgetConfig `yaml:"widget"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// DataConfig contains data source settings.
type DataConfig struct {
	Driver string `yaml:"driver"` // sqlite or pgx
	DSN    string `yaml:"dsn"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	QueryCacheSize     int `yaml:"query_cache_size"`
	GraphicsSizeMB     int `yaml:"graphics_size_mb"`
	GraphicsTTLMinutes int `yaml:"graphics_ttl_minutes"`
}

// GraphicsTTL returns the graphics cache lifetime.
func (c CacheConfig) GraphicsTTL() time.Duration {
	return time.Duration(c.GraphicsTTLMinutes) * time.Minute
}

// WidgetConfig mirrors the hexbin layer widget settings: which widget owns the
// filter, which side panel views a click navigates to and how the layer and
// its popup are labelled.
type WidgetConfig struct {
	WidgetID         string `yaml:"widget_id" json:"widgetId"`
	SidePanelID      string `yaml:"side_panel_id" json:"sidePanelId"`
	SectionID        string `yaml:"section_id" json:"sectionId"`
	DetailsViewID    string `yaml:"details_view_id" json:"detailsViewId"`
	SummaryViewID    string `yaml:"summary_view_id" json:"summaryViewId"`
	LayerName        string `yaml:"layer_name" json:"layerName"`
	PopupTitle       string `yaml:"popup_title" json:"popupTitle"`
	PopupContent     string `yaml:"popup_content" json:"popupContent"`
	DefaultPredicate string `yaml:"default_predicate" json:"defaultPredicate"`
	Colormap         string `yaml:"colormap" json:"colormap"`
}

// Bridge returns the navigation targets of a click.
func (w WidgetConfig) Bridge() hexbin.BridgeConfig {
	return hexbin.BridgeConfig{
		SidePanelID:   w.SidePanelID,
		SectionID:     w.SectionID,
		DetailsViewID: w.DetailsViewID,
		SummaryViewID: w.SummaryViewID,
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	switch c.Data.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("config: unsupported data.driver %q (want sqlite or pgx)", c.Data.Driver)
	}
	if c.Data.Driver == "pgx" && c.Data.DSN == "" {
		return fmt.Errorf("config: data.dsn is required for pgx")
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "Deep Sea Corals and Sponges",
		},
		Data: DataConfig{
			Driver: "sqlite",
			DSN:    "./data/observations.db",
		},
		Cache: CacheConfig{
			QueryCacheSize:     1000,
			GraphicsSizeMB:     64,
			GraphicsTTLMinutes: 10,
		},
		Widget: WidgetConfig{
			WidgetID:         "h3-layer",
			SidePanelID:      "sidePanel",
			SectionID:        "sidePanelSection",
			DetailsViewID:    "featureDetails",
			SummaryViewID:    "hexbinSummary",
			LayerName:        "H3 Hexbins",
			PopupTitle:       "{CatalogNumber}",
			PopupContent:     "{ScientificName}",
			DefaultPredicate: hexbin.DefaultPredicate,
			Colormap:         "ylorrd",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Data.Driver == "" {
		cfg.Data.Driver = defaults.Data.Driver
	}
	if cfg.Data.DSN == "" && cfg.Data.Driver == defaults.Data.Driver {
		cfg.Data.DSN = defaults.Data.DSN
	}
	if cfg.Cache.QueryCacheSize == 0 {
		cfg.Cache.QueryCacheSize = defaults.Cache.QueryCacheSize
	}
	if cfg.Cache.GraphicsSizeMB == 0 {
		cfg.Cache.GraphicsSizeMB = defaults.Cache.GraphicsSizeMB
	}
	if cfg.Cache.GraphicsTTLMinutes == 0 {
		cfg.Cache.GraphicsTTLMinutes = defaults.Cache.GraphicsTTLMinutes
	}

	w, dw := &cfg.Widget, defaults.Widget
	for _, f := range []struct {
		dst *string
		def string
	}{
		{&w.WidgetID, dw.WidgetID},
		{&w.SidePanelID, dw.SidePanelID},
		{&w.SectionID, dw.SectionID},
		{&w.DetailsViewID, dw.DetailsViewID},
		{&w.SummaryViewID, dw.SummaryViewID},
		{&w.LayerName, dw.LayerName},
		{&w.PopupTitle, dw.PopupTitle},
		{&w.PopupContent, dw.PopupContent},
		{&w.DefaultPredicate, dw.DefaultPredicate},
		{&w.Colormap, dw.Colormap},
	} {
		if *f.dst == "" {
			*f.dst = f.def
		}
	}
}
