package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseConfig = `
[common]
KEY_FILE_LOCATION = service-key.json
VIEW_ID = 12345678

[custom-dimensions]
dimension1 = User ID

[stitch-dimensions]
dim1 = dimension1

[user-dimensions]
dim1 = dimension1
dim2 = country

[results-dimensions]
dim1 = dimension1
dim2 = eventCategory

[batch-dimensions-1]
dim1 = browser

[batch-dimensions-2]
dim1 = deviceCategory
`

func TestGastitch_Schema_Config_Load(t *testing.T) {
	t.Parallel()

	t.Run("parses a complete configuration", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadBytes([]byte(baseConfig))
		require.NoError(t, err)

		require.Equal(t, "service-key.json", cfg.Common.KeyFile)
		require.Equal(t, "12345678", cfg.Common.ViewID)
		require.Equal(t, DefaultEndpoint, cfg.Common.Endpoint)
		require.Equal(t, []string{DefaultScope}, cfg.Common.Scopes)
		require.Equal(t, DefaultPageSize, cfg.Common.PageSize)
		require.Equal(t, DefaultFillValue, cfg.Schema.FillValue)

		require.Equal(t, []string{"ga:dimension1"}, cfg.Schema.Stitch.Names())
		require.Equal(t, []string{"ga:dimension1", "ga:country"}, cfg.Schema.Users.Names())
		require.Equal(t, []string{"ga:dimension1", "ga:eventCategory"}, cfg.Schema.Results.Names())

		require.Len(t, cfg.Schema.Additional, 2)
		require.Equal(t, 1, cfg.Schema.Additional[0].Ordinal)
		require.Equal(t, []string{"ga:browser"}, cfg.Schema.Additional[0].Names())
		require.Equal(t, 2, cfg.Schema.Additional[1].Ordinal)

		require.Nil(t, cfg.ClickHouse)
		require.Nil(t, cfg.Postgres)
	})

	t.Run("translates configured labels", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadBytes([]byte(baseConfig))
		require.NoError(t, err)

		require.Equal(t, "User ID", cfg.Schema.Users.Dims[0].Label)
		// Untranslated dimensions fall back to their API name.
		require.Equal(t, "ga:country", cfg.Schema.Users.Dims[1].Label)
	})

	t.Run("applies common overrides", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadBytes([]byte(`
[common]
KEY_FILE_LOCATION = key.json
VIEW_ID = 99
ENDPOINT = https://example.test
SCOPES = scope-a,scope-b
MAX_RESULTS = 500
INVALID_VALUE = -

[stitch-dimensions]
dim1 = dimension1
[user-dimensions]
dim1 = dimension1
[results-dimensions]
dim1 = dimension1
`))
		require.NoError(t, err)
		require.Equal(t, "https://example.test", cfg.Common.Endpoint)
		require.Equal(t, []string{"scope-a", "scope-b"}, cfg.Common.Scopes)
		require.Equal(t, 500, cfg.Common.PageSize)
		require.Equal(t, "-", cfg.Schema.FillValue)
	})

	t.Run("keeps numbered batch sections in order with gaps", func(t *testing.T) {
		t.Parallel()

		cfg, err := LoadBytes([]byte(`
[common]
KEY_FILE_LOCATION = key.json
VIEW_ID = 99
[stitch-dimensions]
dim1 = dimension1
[user-dimensions]
dim1 = dimension1
[results-dimensions]
dim1 = dimension1
[batch-dimensions-3]
dim1 = browser
[batch-dimensions-1]
dim1 = country
`))
		require.NoError(t, err)
		require.Len(t, cfg.Schema.Additional, 2)
		require.Equal(t, 1, cfg.Schema.Additional[0].Ordinal)
		require.Equal(t, []string{"ga:country"}, cfg.Schema.Additional[0].Names())
		require.Equal(t, 3, cfg.Schema.Additional[1].Ordinal)
	})

	t.Run("reads from a file on disk", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "download.cfg")
		require.NoError(t, os.WriteFile(path, []byte(baseConfig), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		require.Equal(t, "12345678", cfg.Common.ViewID)
	})

	t.Run("missing file is a config error", func(t *testing.T) {
		t.Parallel()

		_, err := Load(filepath.Join(t.TempDir(), "absent.cfg"))
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestGastitch_Schema_Config_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  string
		want string
	}{
		{
			name: "missing common section",
			cfg:  "[stitch-dimensions]\ndim1 = dimension1\n",
			want: "missing configuration section: common",
		},
		{
			name: "missing view id",
			cfg:  "[common]\nKEY_FILE_LOCATION = key.json\n",
			want: "missing configuration option: common:VIEW_ID",
		},
		{
			name: "missing key file",
			cfg:  "[common]\nVIEW_ID = 99\n",
			want: "missing configuration option: common:KEY_FILE_LOCATION",
		},
		{
			name: "missing stitch section",
			cfg:  "[common]\nKEY_FILE_LOCATION = key.json\nVIEW_ID = 99\n",
			want: "missing configuration section: stitch-dimensions",
		},
		{
			name: "empty user section",
			cfg: `
[common]
KEY_FILE_LOCATION = key.json
VIEW_ID = 99
[stitch-dimensions]
dim1 = dimension1
[user-dimensions]
[results-dimensions]
dim1 = dimension1
`,
			want: "user-dimensions must declare at least one dimension",
		},
		{
			name: "non-numeric max results",
			cfg: `
[common]
KEY_FILE_LOCATION = key.json
VIEW_ID = 99
MAX_RESULTS = lots
`,
			want: "invalid configuration option common:MAX_RESULTS",
		},
		{
			name: "non-positive max results",
			cfg: `
[common]
KEY_FILE_LOCATION = key.json
VIEW_ID = 99
MAX_RESULTS = 0
`,
			want: "invalid configuration option common:MAX_RESULTS",
		},
		{
			name: "clickhouse section without addr",
			cfg: baseConfig + `
[clickhouse]
TABLE = downloads
`,
			want: "missing configuration option: clickhouse:ADDR",
		},
		{
			name: "postgres section without dsn",
			cfg: baseConfig + `
[postgres]
TABLE = downloads
`,
			want: "missing configuration option: postgres:DSN",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadBytes([]byte(tc.cfg))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestGastitch_Schema_Config_Sinks(t *testing.T) {
	t.Parallel()

	cfg, err := LoadBytes([]byte(baseConfig + `
[clickhouse]
ADDR = localhost:9000
TABLE = ga_downloads
SECURE = true

[postgres]
DSN = postgres://localhost:5432/analytics
TABLE = ga_downloads
`))
	require.NoError(t, err)

	require.NotNil(t, cfg.ClickHouse)
	require.Equal(t, "localhost:9000", cfg.ClickHouse.Addr)
	require.Equal(t, "ga_downloads", cfg.ClickHouse.Table)
	require.Equal(t, "default", cfg.ClickHouse.Database)
	require.Equal(t, "default", cfg.ClickHouse.Username)
	require.True(t, cfg.ClickHouse.Secure)

	require.NotNil(t, cfg.Postgres)
	require.Equal(t, "postgres://localhost:5432/analytics", cfg.Postgres.DSN)
	require.Equal(t, "ga_downloads", cfg.Postgres.Table)
}
