package scan

import (
	"os"

	"github.com/dhowden/tag"
)

// SniffFormat identifies the container from the file's leading bytes.
// The result is informational only and never used for classification;
// unrecognised content yields "".
func SniffFormat(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	format, fileType, err := tag.Identify(f)
	if err != nil {
		return ""
	}
	if fileType != tag.UnknownFileType {
		return string(fileType)
	}
	if format != tag.UnknownFormat {
		return string(format)
	}
	return ""
}
