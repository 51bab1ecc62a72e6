// Package inventory reads the host list of a collection run.
package inventory

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/nmslite/ifstats/internal/model"
)

const (
	ColumnHostname = "hostname"
	ColumnAddress  = "ip_address"
)

// ErrNotFound is returned when the host list does not exist.
var ErrNotFound = errors.New("host list not found")

// Load reads a CSV host list from path.
func Load(path string, logger *slog.Logger) ([]model.HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to open host list: %w", err)
	}
	defer f.Close()

	hosts, err := Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hosts, nil
}

// Parse reads CSV with a header row naming hostname and/or ip_address columns.
// Rows with neither value are skipped. Address-only rows may hold a CIDR block
// or a range, which expand to one entry per address.
func Parse(r io.Reader, logger *slog.Logger) ([]model.HostEntry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("host list is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	hostCol, addrCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case ColumnHostname:
			hostCol = i
		case ColumnAddress:
			addrCol = i
		}
	}
	if hostCol < 0 && addrCol < 0 {
		return nil, fmt.Errorf("header must contain %q or %q", ColumnHostname, ColumnAddress)
	}

	var hosts []model.HostEntry
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		entry := model.HostEntry{
			Hostname: cell(record, hostCol),
			Address:  cell(record, addrCol),
		}

		switch {
		case !entry.Valid():
			logger.Warn("Skipping host row without hostname or ip_address", "line", line)

		case entry.HasHostname():
			if entry.HasAddress() && Classify(entry.Address) != KindSingle {
				logger.Warn("Ignoring ip_address that is not a single address",
					"line", line,
					"host", entry.Hostname,
					"ip_address", entry.Address,
				)
				entry.Address = ""
			}
			hosts = append(hosts, entry)

		default:
			addrs, err := ExpandAddress(entry.Address)
			if err != nil {
				logger.Warn("Skipping host row with invalid ip_address",
					"line", line,
					"ip_address", entry.Address,
					"error", err,
				)
				continue
			}
			for _, a := range addrs {
				hosts = append(hosts, model.HostEntry{Address: a})
			}
		}
	}

	return hosts, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
