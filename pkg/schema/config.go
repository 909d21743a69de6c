package schema

import (
	"fmt"

	"gopkg.in/ini.v1"
)

// Defaults applied when the optional [common] settings are absent.
const (
	DefaultEndpoint  = "https://analyticsreporting.googleapis.com"
	DefaultScope     = "https://www.googleapis.com/auth/analytics.readonly"
	DefaultPageSize  = 10000
	DefaultFillValue = "(not set)"
)

// maxDimensionBatches bounds the numbered batch-dimensions-N sections.
const maxDimensionBatches = 20

// dimensionPrefix is prepended to every configured dimension name.
const dimensionPrefix = "ga:"

// Common holds the service settings from the [common] section. The values are
// opaque to the planner and stitcher; only the API client consumes them.
type Common struct {
	Scopes   []string
	Endpoint string
	KeyFile  string
	ViewID   string
	PageSize int
}

// ClickHouseSettings configures the optional ClickHouse sink.
type ClickHouseSettings struct {
	Addr     string
	Database string
	Table    string
	Username string
	Password string
	Secure   bool
}

// PostgresSettings configures the optional Postgres sink.
type PostgresSettings struct {
	DSN   string
	Table string
}

// Config is one parsed configuration file.
type Config struct {
	Common     Common
	Schema     Schema
	ClickHouse *ClickHouseSettings
	Postgres   *PostgresSettings
}

// Load reads and validates a configuration file. All failures are ConfigErrors
// naming the offending section or option.
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, ConfigErrorf("failed to load configuration file %s: %v", path, err)
	}
	return parse(f)
}

// LoadBytes parses configuration from memory; used by tests.
func LoadBytes(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, ConfigErrorf("failed to parse configuration: %v", err)
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	common, fill, err := loadCommon(f)
	if err != nil {
		return nil, err
	}

	translations := loadTranslations(f)

	sch := Schema{FillValue: fill}
	if sch.Stitch, err = loadGroup(f, "stitch-dimensions", GroupStitch, 0, translations); err != nil {
		return nil, err
	}
	if sch.Users, err = loadGroup(f, "user-dimensions", GroupUser, 0, translations); err != nil {
		return nil, err
	}
	if sch.Results, err = loadGroup(f, "results-dimensions", GroupResults, 0, translations); err != nil {
		return nil, err
	}
	for n := 1; n < maxDimensionBatches; n++ {
		section := fmt.Sprintf("batch-dimensions-%d", n)
		if _, err := f.GetSection(section); err != nil {
			continue
		}
		g, err := loadGroup(f, section, GroupAdditional, n, translations)
		if err != nil {
			return nil, err
		}
		sch.Additional = append(sch.Additional, g)
	}
	if err := sch.Validate(); err != nil {
		return nil, err
	}

	cfg := &Config{Common: common, Schema: sch}
	if cfg.ClickHouse, err = loadClickHouse(f); err != nil {
		return nil, err
	}
	if cfg.Postgres, err = loadPostgres(f); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadCommon(f *ini.File) (Common, string, error) {
	sec, err := f.GetSection("common")
	if err != nil {
		return Common{}, "", ConfigErrorf("missing configuration section: common")
	}
	keyFile, err := requiredKey(sec, "common", "KEY_FILE_LOCATION")
	if err != nil {
		return Common{}, "", err
	}
	viewID, err := requiredKey(sec, "common", "VIEW_ID")
	if err != nil {
		return Common{}, "", err
	}

	c := Common{
		KeyFile:  keyFile,
		ViewID:   viewID,
		Endpoint: DefaultEndpoint,
		Scopes:   []string{DefaultScope},
		PageSize: DefaultPageSize,
	}
	if sec.HasKey("ENDPOINT") {
		c.Endpoint = sec.Key("ENDPOINT").String()
	}
	if sec.HasKey("SCOPES") {
		c.Scopes = sec.Key("SCOPES").Strings(",")
	}
	if sec.HasKey("MAX_RESULTS") {
		n, err := sec.Key("MAX_RESULTS").Int()
		if err != nil || n <= 0 {
			return Common{}, "", ConfigErrorf("invalid configuration option common:MAX_RESULTS: %q", sec.Key("MAX_RESULTS").String())
		}
		c.PageSize = n
	}

	fill := DefaultFillValue
	if sec.HasKey("INVALID_VALUE") {
		fill = sec.Key("INVALID_VALUE").String()
	}
	return c, fill, nil
}

// loadTranslations reads the optional [custom-dimensions] section mapping
// dimension names to display labels.
func loadTranslations(f *ini.File) map[string]string {
	sec, err := f.GetSection("custom-dimensions")
	if err != nil {
		return nil
	}
	t := make(map[string]string, len(sec.Keys()))
	for _, k := range sec.Keys() {
		t[dimensionPrefix+k.Name()] = k.String()
	}
	return t
}

// loadGroup reads one ordered dimension section. Option keys are ignored; the
// values are the dimension names, which receive the ga: prefix.
func loadGroup(f *ini.File, section string, role GroupRole, ordinal int, translations map[string]string) (DimensionGroup, error) {
	sec, err := f.GetSection(section)
	if err != nil {
		return DimensionGroup{}, ConfigErrorf("missing configuration section: %s", section)
	}
	g := DimensionGroup{Role: role, Ordinal: ordinal}
	for _, k := range sec.Keys() {
		name := dimensionPrefix + k.String()
		label := name
		if t, ok := translations[name]; ok {
			label = t
		}
		g.Dims = append(g.Dims, Dimension{Name: name, Label: label})
	}
	return g, nil
}

func loadClickHouse(f *ini.File) (*ClickHouseSettings, error) {
	sec, err := f.GetSection("clickhouse")
	if err != nil {
		return nil, nil
	}
	addr, err := requiredKey(sec, "clickhouse", "ADDR")
	if err != nil {
		return nil, err
	}
	table, err := requiredKey(sec, "clickhouse", "TABLE")
	if err != nil {
		return nil, err
	}
	s := &ClickHouseSettings{Addr: addr, Table: table, Database: "default", Username: "default"}
	if sec.HasKey("DATABASE") {
		s.Database = sec.Key("DATABASE").String()
	}
	if sec.HasKey("USERNAME") {
		s.Username = sec.Key("USERNAME").String()
	}
	if sec.HasKey("PASSWORD") {
		s.Password = sec.Key("PASSWORD").String()
	}
	if sec.HasKey("SECURE") {
		s.Secure = sec.Key("SECURE").MustBool(false)
	}
	return s, nil
}

func loadPostgres(f *ini.File) (*PostgresSettings, error) {
	sec, err := f.GetSection("postgres")
	if err != nil {
		return nil, nil
	}
	dsn, err := requiredKey(sec, "postgres", "DSN")
	if err != nil {
		return nil, err
	}
	table, err := requiredKey(sec, "postgres", "TABLE")
	if err != nil {
		return nil, err
	}
	return &PostgresSettings{DSN: dsn, Table: table}, nil
}

func requiredKey(sec *ini.Section, section, key string) (string, error) {
	if !sec.HasKey(key) || sec.Key(key).String() == "" {
		return "", ConfigErrorf("missing configuration option: %s:%s", section, key)
	}
	return sec.Key(key).String(), nil
}
