package history

import "github.com/cyclopcam/dbh"

// BaseModel is our base class for a GORM model.
// The default GORM Model uses int, but we prefer int64
type BaseModel struct {
	ID int64 `gorm:"primaryKey" json:"id"`
}

// InferenceRun is one successful call of the inference engine
type InferenceRun struct {
	BaseModel
	CreatedAt  dbh.IntTime `json:"createdAt" gorm:"autoCreateTime:false"`
	Label      string      `json:"label"`      // Filename of the uploaded checkpoint
	SHA1       string      `json:"sha1" gorm:"column:sha1"`
	Device     string      `json:"device"`
	Images     int         `json:"images"`
	Detections int         `json:"detections"`
	TotalMS    float64     `json:"totalMS" gorm:"column:total_ms"`
}

func (InferenceRun) TableName() string { return "inference_run" }

// DatasetExport is one dataset archive that was produced
type DatasetExport struct {
	BaseModel
	CreatedAt    dbh.IntTime `json:"createdAt" gorm:"autoCreateTime:false"`
	Folder       string      `json:"folder"`       // eg yolo_dataset_train
	Images       int         `json:"images"`       // Number of image files in the archive
	Labels       int         `json:"labels"`       // Number of label lines in the archive
	ArchiveBytes int64       `json:"archiveBytes"` // Size of the zip file
	ArchivePath  string      `json:"archivePath"`  // Blob name in archive storage. Empty if archiving is disabled or failed.
}

func (DatasetExport) TableName() string { return "dataset_export" }
