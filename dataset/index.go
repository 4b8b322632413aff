package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadIndex reads the scene/image index file of a dataset.
func ReadIndex(fn string) ([]Entry, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	entries, err := ParseIndex(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read index %s", fn)
	}
	return entries, nil
}

// ParseIndex parses a CSV with a header that has at least a "scene" and an "image" column.
// Other columns, like a pandas row index, are ignored.
func ParseIndex(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("missing header: %w", err)
	}

	sceneCol, imageCol := -1, -1
	for idx, h := range header {
		switch strings.TrimSpace(h) {
		case "scene":
			sceneCol = idx
		case "image":
			imageCol = idx
		}
	}
	if sceneCol < 0 || imageCol < 0 {
		return nil, fmt.Errorf("header needs scene and image columns, got %v", header)
	}

	entries := []Entry{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) <= sceneCol || len(rec) <= imageCol {
			return nil, fmt.Errorf("line %d: too few fields", line)
		}
		img, err := strconv.Atoi(strings.TrimSpace(rec[imageCol]))
		if err != nil {
			return nil, fmt.Errorf("line %d: bad image number %q", line, rec[imageCol])
		}
		entries = append(entries, Entry{Scene: strings.TrimSpace(rec[sceneCol]), Image: img})
	}
	return entries, nil
}
