// Package artifact checks rendered and downloaded files before they are
// pushed downstream, so a truncated or malformed result is reported as a
// node failure instead of being indexed.
package artifact

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Sentinel errors.
var (
	ErrEmpty    = errors.New("artifact: empty")
	ErrTooLarge = errors.New("artifact: too large")
	ErrInvalid  = errors.New("artifact: malformed")
)

// Info describes a verified artifact. Pages is set for PDFs and Sheets for
// workbooks.
type Info struct {
	Format string
	Bytes  int
	Pages  int
	Sheets []string
}

// Verify checks data against its declared format. maxBytes <= 0 disables
// the size limit. Formats without a structural check only get the size
// checks.
func Verify(format string, data []byte, maxBytes int64) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrTooLarge, len(data), maxBytes)
	}

	info := &Info{Format: format, Bytes: len(data)}

	switch format {
	case "pdf":
		pages, err := pdfPages(data)
		if err != nil {
			return nil, err
		}

		info.Pages = pages
	case "xlsx":
		sheets, err := workbookSheets(data)
		if err != nil {
			return nil, err
		}

		info.Sheets = sheets
	case "docx":
		if err := checkOOXML(data, "word/document.xml"); err != nil {
			return nil, err
		}
	}

	return info, nil
}

func pdfPages(data []byte) (n int, err error) {
	// The parser panics on some corrupt inputs.
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: pdf: %v", ErrInvalid, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: pdf: %w", ErrInvalid, err)
	}

	n = r.NumPage()
	if n < 1 {
		return 0, fmt.Errorf("%w: pdf has no pages", ErrInvalid)
	}

	return n, nil
}

func workbookSheets(data []byte) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: xlsx: %w", ErrInvalid, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: xlsx has no sheets", ErrInvalid)
	}

	return sheets, nil
}

// checkOOXML verifies data is a zip package containing part.
func checkOOXML(data []byte, part string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	for _, f := range zr.File {
		if f.Name == part {
			return nil
		}
	}

	return fmt.Errorf("%w: package has no %s", ErrInvalid, part)
}
