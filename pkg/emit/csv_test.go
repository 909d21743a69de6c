package emit

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tidemarkhq/gastitch/pkg/schema"
	"github.com/tidemarkhq/gastitch/pkg/stitch"
)

func combinedTable() *stitch.CombinedTable {
	return &stitch.CombinedTable{
		Columns: []schema.Dimension{
			{Name: "ga:dimension1", Label: "User ID"},
			{Name: "ga:country", Label: "ga:country"},
			{Name: "ga:eventCategory", Label: "Event"},
		},
		Rows: []stitch.Row{
			{"ga:dimension1": "u1", "ga:country": "USA", "ga:eventCategory": "click"},
			{"ga:dimension1": "u2", "ga:country": "Chile", "ga:eventCategory": "view"},
		},
	}
}

func TestGastitch_Emit_CSV(t *testing.T) {
	t.Parallel()

	t.Run("writes translated headers and rows in column order", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), combinedTable()))
		require.Equal(t, "User ID,ga:country,Event\nu1,USA,click\nu2,Chile,view\n", buf.String())
	})

	t.Run("custom delimiter", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf, Delimiter: '\t'})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), combinedTable()))
		require.Equal(t, "User ID\tga:country\tEvent\nu1\tUSA\tclick\nu2\tChile\tview\n", buf.String())
	})

	t.Run("skip header", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf, SkipHeader: true})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), combinedTable()))
		require.Equal(t, "u1,USA,click\nu2,Chile,view\n", buf.String())
	})

	t.Run("skip translation uses API names", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf, SkipTranslation: true})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), combinedTable()))
		require.Equal(t, "ga:dimension1,ga:country,ga:eventCategory\nu1,USA,click\nu2,Chile,view\n", buf.String())
	})

	t.Run("dimension names annotate translated labels only", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf, DimensionNames: true})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), combinedTable()))
		require.Equal(t, "User ID (ga:dimension1),ga:country,Event (ga:eventCategory)\nu1,USA,click\nu2,Chile,view\n", buf.String())
	})

	t.Run("missing fields are written empty", func(t *testing.T) {
		t.Parallel()

		table := combinedTable()
		delete(table.Rows[0], "ga:eventCategory")

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf, SkipHeader: true})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), table))
		require.Equal(t, "u1,USA,\nu2,Chile,view\n", buf.String())
	})

	t.Run("empty table writes only the header", func(t *testing.T) {
		t.Parallel()

		table := combinedTable()
		table.Rows = nil

		var buf bytes.Buffer
		e, err := NewCSV(&CSVConfig{Writer: &buf})
		require.NoError(t, err)

		require.NoError(t, e.Emit(context.Background(), table))
		require.Equal(t, "User ID,ga:country,Event\n", buf.String())
	})

	t.Run("requires a writer", func(t *testing.T) {
		t.Parallel()

		_, err := NewCSV(&CSVConfig{})
		require.Error(t, err)
	})
}
