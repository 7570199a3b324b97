package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/badc/pkg/core"
)

const sampleManifest = `recording_id,chunk_id,source_path,start_ms,end_ms,overlap_ms,sha256,notes
rec1,rec1_0_60000,/data/chunks/rec1_0.wav,0,60000,0,abc123,
rec1,rec1_60000_120000,/data/chunks/rec1_1.wav,60000,120000,500,def456,tail chunk
`

func TestParse_KeepsFileOrder(t *testing.T) {
	jobs, err := Parse(strings.NewReader(sampleManifest))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "rec1_0_60000", jobs[0].ChunkID)
	assert.Equal(t, "rec1_60000_120000", jobs[1].ChunkID)

	second := jobs[1]
	assert.Equal(t, "rec1", second.RecordingID)
	assert.Equal(t, "/data/chunks/rec1_1.wav", second.ChunkPath)
	require.NotNil(t, second.StartMS)
	assert.Equal(t, int64(60000), *second.StartMS)
	require.NotNil(t, second.OverlapMS)
	assert.Equal(t, int64(500), *second.OverlapMS)
	assert.Equal(t, "def456", second.SHA256)
	assert.Equal(t, "tail chunk", second.Notes)
}

func TestParse_OptionalColumnsMissing(t *testing.T) {
	jobs, err := Parse(strings.NewReader("chunk_id,recording_id,source_path\nc1,r1,/tmp/c1.wav\n"))
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	assert.Nil(t, jobs[0].StartMS)
	assert.Nil(t, jobs[0].EndMS)
	assert.Empty(t, jobs[0].SHA256)
}

func TestParse_EmptyIntegerIsNil(t *testing.T) {
	jobs, err := Parse(strings.NewReader("recording_id,chunk_id,source_path,start_ms\nr1,c1,/a.wav,\n"))
	require.NoError(t, err)
	assert.Nil(t, jobs[0].StartMS)
}

func TestParse_SkipsBlankRows(t *testing.T) {
	jobs, err := Parse(strings.NewReader("recording_id,chunk_id,source_path\nr1,c1,/a.wav\n,,\nr1,c2,/b.wav\n"))
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestParse_MissingColumn(t *testing.T) {
	_, err := Parse(strings.NewReader("recording_id,source_path\nr1,/a.wav\n"))
	assert.ErrorIs(t, err, core.ErrMissingColumn)
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	assert.ErrorIs(t, err, core.ErrInvalidManifest)
}

func TestParse_RowErrors(t *testing.T) {
	tests := []struct {
		name    string
		row     string
		wantErr error
	}{
		{name: "empty chunk id", row: "r1,,/a.wav,0", wantErr: core.ErrInvalidChunkID},
		{name: "path in chunk id", row: "r1,../x,/a.wav,0", wantErr: core.ErrInvalidChunkID},
		{name: "bad recording id", row: "a/b,c1,/a.wav,0", wantErr: core.ErrInvalidRecordingID},
		{name: "empty source path", row: "r1,c1,,0", wantErr: core.ErrInvalidManifest},
		{name: "non integer start", row: "r1,c1,/a.wav,soon", wantErr: core.ErrInvalidManifest},
		{name: "repeated chunk id", row: "r1,c0,/b.wav,0", wantErr: core.ErrDuplicateChunkID},
		{name: "chunk id repeated across recordings", row: "r2,c0,/r2/c0.wav,0", wantErr: core.ErrDuplicateChunkID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "recording_id,chunk_id,source_path,start_ms\nr0,c0,/ok.wav,0\n" + tt.row + "\n"
			_, err := Parse(strings.NewReader(input))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var manifestErr *core.ManifestError
			require.ErrorAs(t, err, &manifestErr)
			assert.Equal(t, 3, manifestErr.Line)
		})
	}
}

func TestParse_DuplicateChunkNamesFirstLine(t *testing.T) {
	input := "recording_id,chunk_id,source_path\nr1,c1,/r1/c1.wav\nr1,c2,/r1/c2.wav\nr2,c1,/r2/c1.wav\n"
	_, err := Parse(strings.NewReader(input))
	require.ErrorIs(t, err, core.ErrDuplicateChunkID)
	assert.ErrorContains(t, err, `"c1" already on line 2`)

	var manifestErr *core.ManifestError
	require.ErrorAs(t, err, &manifestErr)
	assert.Equal(t, 4, manifestErr.Line)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec1.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	jobs, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.csv"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRecordingSlug(t *testing.T) {
	assert.Equal(t, "GLL_site_4", RecordingSlug("/data/manifests/GLL site 4.csv"))
	assert.Equal(t, "rec1", RecordingSlug("rec1.wav"))
	assert.Equal(t, "archive.tar", RecordingSlug("archive.tar.gz"))
}
