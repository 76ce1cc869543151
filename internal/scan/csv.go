package scan

import (
	"encoding/csv"
	"io"
)

// CSVHeader is the column set of the downloadable result table.
var CSVHeader = []string{"BBox ID", "Source", "Decoded Content", "Type"}

// WriteCSV writes one row per region.
func WriteCSV(w io.Writer, regions []Region) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range regions {
		if err := cw.Write([]string{r.BBoxID, r.Source, r.Content, r.Type}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
