package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCSV_TabDelimitedWithHeader(t *testing.T) {
	input := "project_id\tfile_id\nproject-1\tfile-1\nproject-2\tfile-2\n"
	headerCh := make(chan []string, 1)

	rows, err := ReadAllCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '\t',
		HasHeader: true,
		HeaderCh:  headerCh,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"project_id", "file_id"}, <-headerCh)
	assert.Equal(t, [][]string{{"project-1", "file-1"}, {"project-2", "file-2"}}, rows)
}

func TestStreamCSV_HeaderWithoutChannelIsSkipped(t *testing.T) {
	rows, err := ReadAllCSV(context.Background(), strings.NewReader("a,b\n1,2\n"), CSVOptions{HasHeader: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1", "2"}}, rows)
}

func TestStreamCSV_CommentsAndTrim(t *testing.T) {
	input := "# generated\n a , b \n"
	rows, err := ReadAllCSV(context.Background(), strings.NewReader(input), CSVOptions{Comment: '#', TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}}, rows)
}

func TestStreamCSV_ReadError(t *testing.T) {
	_, err := ReadAllCSV(context.Background(), strings.NewReader("a,\"unterminated\n"), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
}

func TestStreamCSV_ContextCancelled(t *testing.T) {
	var sb strings.Builder
	for range 500 {
		sb.WriteString("a,b,c\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	<-rowCh
	cancel()
	for range rowCh { //nolint:revive // drain
	}

	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}
