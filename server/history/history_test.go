package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *HistoryDB {
	t.Helper()
	db, err := Open(logs.NewTestingLog(t), filepath.Join(t.TempDir(), "history.sqlite"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestRuns(t *testing.T) {
	db := openTestDB(t)

	runs, err := db.Runs(0)
	require.NoError(t, err)
	require.Empty(t, runs)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.AddRun(&InferenceRun{
			CreatedAt:  dbh.MakeIntTime(base.Add(time.Duration(i) * time.Minute)),
			Label:      "best.pt",
			SHA1:       "abc",
			Device:     "CPU",
			Images:     i + 1,
			Detections: 2 * i,
			TotalMS:    12.5,
		}))
	}

	runs, err = db.Runs(0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, 3, runs[0].Images)
	require.Equal(t, 1, runs[2].Images)
	require.Equal(t, "CPU", runs[0].Device)
	require.Equal(t, 12.5, runs[0].TotalMS)

	runs, err = db.Runs(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestExports(t *testing.T) {
	db := openTestDB(t)

	exp := &DatasetExport{
		Folder:       "yolo_dataset_train",
		Images:       4,
		Labels:       7,
		ArchiveBytes: 1234,
	}
	require.NoError(t, db.AddExport(exp))
	require.NotZero(t, exp.ID)
	require.NotZero(t, exp.CreatedAt)

	exports, err := db.Exports(10)
	require.NoError(t, err)
	require.Len(t, exports, 1)
	require.Equal(t, "yolo_dataset_train", exports[0].Folder)
	require.EqualValues(t, 1234, exports[0].ArchiveBytes)
	require.Equal(t, "", exports[0].ArchivePath)
}

func TestExportArchives(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Export(99)
	require.ErrorIs(t, err, ErrNotFound)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	paths := []string{"exports/a/1.zip", "", "exports/a/3.zip"}
	ids := []int64{}
	for i, p := range paths {
		exp := &DatasetExport{
			CreatedAt:   dbh.MakeIntTime(base.Add(time.Duration(i) * time.Minute)),
			Folder:      "a",
			ArchivePath: p,
		}
		require.NoError(t, db.AddExport(exp))
		ids = append(ids, exp.ID)
	}

	exp, err := db.Export(ids[2])
	require.NoError(t, err)
	require.Equal(t, "exports/a/3.zip", exp.ArchivePath)

	archived, err := db.ArchivedExports()
	require.NoError(t, err)
	require.Len(t, archived, 2)
	require.Equal(t, ids[2], archived[0].ID)
	require.Equal(t, ids[0], archived[1].ID)

	require.NoError(t, db.ClearArchivePaths(nil))
	require.NoError(t, db.ClearArchivePaths([]string{"exports/a/1.zip"}))
	archived, err = db.ArchivedExports()
	require.NoError(t, err)
	require.Len(t, archived, 1)
	exp, err = db.Export(ids[0])
	require.NoError(t, err)
	require.Equal(t, "", exp.ArchivePath)
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, DefaultListLimit, clampLimit(0))
	require.Equal(t, DefaultListLimit, clampLimit(-3))
	require.Equal(t, 7, clampLimit(7))
	require.Equal(t, MaxListLimit, clampLimit(1_000_000))
}
