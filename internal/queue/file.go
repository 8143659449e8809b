package queue

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Filename builds the queue/sent/fail basename for a mail whose sender's
// local part is localPart: "<local-part>-<uuid-v4>.mail".
func Filename(localPart string) string {
	return localPart + "-" + uuid.New().String() + ".mail"
}

// Promote atomically moves a finished temp file into dir under name,
// the single handoff point between the inbound session and the relay
// loop (spec §4.3, §5).
func Promote(tmpPath, dir, name string) (string, error) {
	dest := filepath.Join(dir, name)
	if err := os.Rename(tmpPath, dest); err != nil {
		return "", errors.WithMessagef(err, "rename %q -> %q", tmpPath, dest)
	}
	return dest, nil
}
