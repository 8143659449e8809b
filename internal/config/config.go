// Package config loads the process-wide, immutable configuration for
// mtad: the listen port and the four directories derived from mail-dir.
package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Config is shared read-only once Load returns. Nothing mutates it after
// startup; pass it by reference into constructors instead of resolving a
// global.
type Config struct {
	Port uint16

	MailDir  string
	QueueDir string
	SentDir  string
	FailDir  string
	TmpDir   string
}

// Load reads a line-oriented "key value" config file. Blank lines and
// lines whose first non-space byte is '#' are ignored. Unknown keys are
// ignored so the grammar stays forward compatible.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessage(err, "Open")
	}
	defer f.Close()

	cfg := &Config{}
	var mailDir string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key, value := fields[0], strings.Join(fields[1:], " ")

		switch key {
		case "listen-port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return nil, errors.WithMessagef(err, "listen-port %q", value)
			}
			cfg.Port = uint16(port)

		case "mail-dir":
			mailDir = strings.TrimSuffix(value, "/")
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithMessage(err, "Scan")
	}

	if mailDir == "" {
		return nil, errors.New("missing mail-dir")
	}
	if cfg.Port == 0 {
		return nil, errors.New("missing listen-port")
	}

	cfg.MailDir = mailDir
	cfg.QueueDir = filepath.Join(mailDir, "queue")
	cfg.SentDir = filepath.Join(mailDir, "sent")
	cfg.FailDir = filepath.Join(mailDir, "fail")
	cfg.TmpDir = filepath.Join(mailDir, "tmp")

	return cfg, nil
}

// Bootstrap creates the four subdirectories idempotently and checks that
// they are writable by the process.
func Bootstrap(cfg *Config) error {
	for _, dir := range []string{cfg.QueueDir, cfg.SentDir, cfg.FailDir, cfg.TmpDir} {
		if err := os.MkdirAll(dir, 0744); err != nil {
			return errors.WithMessagef(err, "MkdirAll %q", dir)
		}

		probe := filepath.Join(dir, ".mtad-write-check")
		f, err := os.Create(probe)
		if err != nil {
			return errors.WithMessagef(err, "%q not writable", dir)
		}
		f.Close()
		os.Remove(probe)
	}

	return nil
}
