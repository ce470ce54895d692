package inspect

import (
	"fmt"
	"os"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
)

// EXIFData holds the EXIF fields shown by the info command.
type EXIFData struct {
	Make        string     `json:"make,omitempty"`
	Model       string     `json:"model,omitempty"`
	Software    string     `json:"software,omitempty"`
	Orientation int        `json:"orientation,omitempty"`
	DateTime    *time.Time `json:"date_time,omitempty"`
}

// ReadEXIF decodes EXIF metadata with goexif.
func ReadEXIF(path string) (*EXIFData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	x, err := exif.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF: %w", err)
	}

	data := &EXIFData{
		Make:     stringTag(x, exif.Make),
		Model:    stringTag(x, exif.Model),
		Software: stringTag(x, exif.Software),
	}
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			data.Orientation = v
		}
	}
	if tm, err := x.DateTime(); err == nil {
		data.DateTime = &tm
	}
	return data, nil
}

func stringTag(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return s
}

// ExifTool wraps a long running exiftool process.
type ExifTool struct {
	et *exiftool.Exiftool
}

// NewExifTool starts exiftool. It fails when the binary is not installed.
func NewExifTool() (*ExifTool, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("failed to start exiftool: %w", err)
	}
	return &ExifTool{et: et}, nil
}

// Metadata returns every tag exiftool reports for path.
func (t *ExifTool) Metadata(path string) (map[string]any, error) {
	results := t.et.ExtractMetadata(path)
	if len(results) == 0 {
		return nil, fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	return results[0].Fields, nil
}

// Close stops the exiftool process.
func (t *ExifTool) Close() error {
	return t.et.Close()
}
