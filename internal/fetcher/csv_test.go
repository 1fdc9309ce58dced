package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "a,b,c\n1,2,3\n4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"a", "b", "c"}, rows[0])
	assert.Equal(t, []string{"4", "5", "6"}, rows[2])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "\ufeffGEOID,pop_total\n36005000100,1200\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"GEOID", "pop_total"}, <-headerCh)
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(" a , b \n"), CSVOptions{TrimSpace: true})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, rows[0])
}

func TestStreamCSV_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rowCh, errCh := StreamCSV(ctx, strings.NewReader("a,b\n1,2\n"), CSVOptions{})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
}

func TestReadCSVTable(t *testing.T) {
	header, rows, err := ReadCSVTable(context.Background(), strings.NewReader("GEOID,NTA2020\n36005000100,BX0101\n36005000200,\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"GEOID", "NTA2020"}, header)
	assert.Equal(t, [][]string{{"36005000100", "BX0101"}, {"36005000200", ""}}, rows)
}

func TestReadCSVTable_Errors(t *testing.T) {
	_, _, err := ReadCSVTable(context.Background(), strings.NewReader(""))
	assert.Error(t, err)

	_, _, err = ReadCSVTable(context.Background(), strings.NewReader("a,b\n1\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")

	_, _, err = ReadCSVTable(context.Background(), strings.NewReader("a,b\n\"1,2\n"))
	assert.Error(t, err)
}
