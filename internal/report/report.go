// Package report validates uploaded attendance reports and prepares fetched
// ones for delivery. Reports travel as CP1251 bytes outside the process and
// as UTF-8 text inside it.
package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/parusinf/timesheets-parus-bot/internal/codec"
	"github.com/parusinf/timesheets-parus-bot/internal/models"
)

// Extension is the only accepted report file extension.
const Extension = ".csv"

const (
	headerRow = 1
	delimiter = ";"
)

var (
	ErrUnsupportedFormat = errors.New("file is not an attendance report")
	ErrMalformedHeader   = errors.New("report header is missing org code or tax id")
)

// Header is the org identity embedded in a report.
type Header struct {
	OrgCode string
	TaxID   string
}

// Accept validates an uploaded file, decodes it and extracts its header.
func Accept(filename string, raw []byte) (*models.Report, Header, error) {
	if !strings.EqualFold(filepath.Ext(filename), Extension) {
		return nil, Header{}, ErrUnsupportedFormat
	}

	text, err := codec.DecodeCP1251(raw)
	if err != nil {
		return nil, Header{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	rep := &models.Report{Filename: filename, Text: text}

	header, err := ParseHeader(rep)
	if err != nil {
		return nil, Header{}, err
	}

	return rep, header, nil
}

// ParseHeader reads the org code and tax id from the header row.
func ParseHeader(rep *models.Report) (Header, error) {
	lines := strings.Split(strings.ReplaceAll(rep.Text, "\r\n", "\n"), "\n")
	if len(lines) <= headerRow {
		return Header{}, ErrMalformedHeader
	}

	fields := strings.Split(lines[headerRow], delimiter)
	if len(fields) < 2 {
		return Header{}, ErrMalformedHeader
	}

	header := Header{
		OrgCode: strings.TrimSpace(fields[0]),
		TaxID:   strings.TrimSpace(fields[1]),
	}
	if header.OrgCode == "" || header.TaxID == "" {
		return Header{}, ErrMalformedHeader
	}

	return header, nil
}

// Package re-encodes a report for delivery to a contact.
func Package(rep *models.Report) ([]byte, error) {
	raw, err := codec.EncodeCP1251(rep.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to package report %s: %w", rep.Filename, err)
	}
	return raw, nil
}

// Caption describes a delivered report.
func Caption(org *models.Organization, groupCode string) string {
	return fmt.Sprintf("Учреждение: %s\nГруппа: %s", org.Name, groupCode)
}
