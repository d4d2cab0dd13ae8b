package history

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE inference_run(
			id INTEGER PRIMARY KEY,
			created_at INT NOT NULL,
			label TEXT NOT NULL,
			sha1 TEXT NOT NULL,
			device TEXT NOT NULL,
			images INT NOT NULL,
			detections INT NOT NULL,
			total_ms REAL NOT NULL
		);

		CREATE TABLE dataset_export(
			id INTEGER PRIMARY KEY,
			created_at INT NOT NULL,
			folder TEXT NOT NULL,
			images INT NOT NULL,
			labels INT NOT NULL,
			archive_bytes INT NOT NULL,
			archive_path TEXT
		);

		CREATE INDEX idx_inference_run_created_at ON inference_run(created_at);
		CREATE INDEX idx_dataset_export_created_at ON dataset_export(created_at);
	`))

	return migs
}
