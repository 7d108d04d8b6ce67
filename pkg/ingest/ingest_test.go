package ingest

import (
	"net/http"
	"strings"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Ramsey-B/partnermap/pkg/models"
)

const sampleCSV = "\ufeffNode Name,Website,Entity_Name,NODE_CATEGORY,direction,notes,connect_targets,protocols_supported,data_types_supported\n" +
	"Example Hotel PMS,example-hotel.com,Example Hotel Group,PMS,Supply,,SynXis CRS;Example Channel,rest|ota_xml,\"Rates,Availability\"\n" +
	"Example Hotels PMS,https://www.example-hotel.com,Example Hotel Group,pms,supply,dup of row 1,,,\n" +
	",,,,,,,,\n" +
	"Broken Row,example.com,,Hotel,Sideways,,,FTP,\n" +
	"SynXis CRS,sabre.com,Sabre,CRS,Demand,,,SOAP,Reservations\n"

func TestParseCSV(t *testing.T) {
	result, err := ParseCSV(strings.NewReader(sampleCSV))
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalRows, "blank lines are not counted")
	assert.Equal(t, 1, result.InvalidRows())
	require.Len(t, result.Rows, 3)

	t.Run("valid row", func(t *testing.T) {
		row := result.Rows[0]
		assert.Equal(t, 1, row.RowNumber)
		assert.Equal(t, "Example Hotel PMS", row.NodeName)
		assert.Equal(t, models.NodeCategoryPMS, row.NodeCategory)
		assert.Equal(t, models.DirectionSupply, row.Direction)
		assert.Equal(t, []string{"SynXis CRS", "Example Channel"}, []string(row.ConnectTargets))
		assert.Equal(t, []string{"REST", "OTA_XML"}, []string(row.ProtocolsSupported))
		assert.Equal(t, []string{"Rates", "Availability"}, []string(row.DataTypesSupported))
		assert.Equal(t, models.StagingDecisionPending, row.Decision)
	})

	t.Run("enum values are matched case insensitively", func(t *testing.T) {
		assert.Equal(t, models.NodeCategoryPMS, result.Rows[1].NodeCategory)
		assert.Equal(t, models.DirectionSupply, result.Rows[1].Direction)
		assert.Empty(t, result.Rows[1].ConnectTargets)
	})

	t.Run("invalid row reported per field", func(t *testing.T) {
		fields := map[string]string{}
		for _, e := range result.Errors {
			assert.Equal(t, 3, e.Row)
			fields[e.Field] = e.Message
		}
		assert.Equal(t, "is required", fields["entity_name"])
		assert.Contains(t, fields["node_category"], "must be one of PMS")
		assert.Contains(t, fields["direction"], "must be one of Supply")
		assert.Contains(t, fields["protocols_supported[0]"], "must be one of OTA_XML")
	})

	t.Run("duplicate warnings", func(t *testing.T) {
		assert.Equal(t, 0, result.DuplicateWarnings, "names differ by one letter")
	})
}

func TestParseCSV_DuplicateWarnings(t *testing.T) {
	csv := "node_name,website,entity_name,node_category,direction\n" +
		"Opera,oracle.com,Oracle,PMS,Supply\n" +
		"opera,oracle.com,Oracle,PMS,Supply\n" +
		"Opera,oracle.com,Oracle,CRS,Supply\n"

	result, err := ParseCSV(strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, result.DuplicateWarnings)
	assert.Len(t, result.Rows, 3)
}

func TestParseCSV_MissingColumns(t *testing.T) {
	_, err := ParseCSV(strings.NewReader("node_name,website\nOpera,oracle.com\n"))
	require.Error(t, err)
	require.True(t, httperror.IsHTTPError(err))
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Contains(t, err.Error(), "entity_name, node_category, direction")
}

func TestParseCSV_Empty(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestParseCSV_InvalidWebsite(t *testing.T) {
	result, err := ParseCSV(strings.NewReader("node_name,website,entity_name,node_category,direction\nOpera,not a site,Oracle,PMS,Supply\n"))
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "website", result.Errors[0].Field)
	assert.Empty(t, result.Rows)
}

func TestParseXLSX_MatchesCSV(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	records := [][]any{
		{"node_name", "website", "entity_name", "node_category", "direction", "protocols_supported"},
		{"Example Hotel PMS", "example-hotel.com", "Example Hotel Group", "PMS", "Supply", "REST;SOAP"},
		{"SynXis CRS", "sabre.com", "Sabre", "CRS", "Demand", ""},
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &record))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	fromXLSX, err := Parse("partners.XLSX", buf)
	require.NoError(t, err)

	var csv strings.Builder
	for _, record := range records {
		cells := make([]string, len(record))
		for i, v := range record {
			cells[i] = v.(string)
		}
		csv.WriteString(strings.Join(cells, ",") + "\n")
	}
	fromCSV, err := Parse("partners.csv", strings.NewReader(csv.String()))
	require.NoError(t, err)

	assert.Equal(t, fromCSV, fromXLSX)
}

func TestParse_XLSXWithoutExtension(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	records := [][]any{
		{"node_name", "website", "entity_name", "node_category", "direction"},
		{"SynXis CRS", "sabre.com", "Sabre", "CRS", "Demand"},
	}
	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &record))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	result, err := Parse("upload", buf)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TotalRows)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, "SynXis CRS", result.Rows[0].NodeName)
	assert.Equal(t, "Sabre", result.Rows[0].EntityName)
}

func TestParse_ShortCSV(t *testing.T) {
	_, err := Parse("", strings.NewReader("a"))
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c", "d"}, SplitList(" a; b|c ,, d "))
	assert.Empty(t, SplitList(""))
}
