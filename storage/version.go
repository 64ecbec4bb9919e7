////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package storage

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// SchemaVersion is the schema version the reference worker starts with when no
// version file exists.
const SchemaVersion = "1"

// ReadVersionFile returns the trimmed contents of the version file. An empty
// file is an error.
func ReadVersionFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(b))
	if v == "" {
		return "", errors.Errorf("version file %s is empty", path)
	}
	return v, nil
}

// InitOrLoadVersion returns the schema version stored in the file. If no file
// exists, the current version is written to it and returned.
func InitOrLoadVersion(path, current string) (string, error) {
	stored, err := ReadVersionFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Save the current version if this is the first run
			jww.INFO.Printf("[STORE] Initialising %s to v%s", path, current)
			if err = os.WriteFile(path, []byte(current+"\n"), 0o644); err != nil {
				return "", errors.Wrapf(err, "failed to write %s", path)
			}
			return current, nil
		}
		return "", errors.Wrapf(err, "could not load schema version from %s", path)
	}

	if stored != current {
		jww.INFO.Printf("[STORE] Schema version in %s is v%s, built with v%s",
			path, stored, current)
	}
	return stored, nil
}
