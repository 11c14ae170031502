package directory

import (
	"os"
	"time"
)

func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}

func unixToUTC(seconds uint32) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}
