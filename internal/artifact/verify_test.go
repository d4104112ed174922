package artifact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

// minimalPDF builds a well-formed PDF with the given number of blank pages,
// computing the cross-reference offsets.
func minimalPDF(t *testing.T, pages int) []byte {
	t.Helper()

	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
	}

	for range pages {
		objects = append(objects, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>")
	}

	var buf bytes.Buffer

	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")

	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}

	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)

	return buf.Bytes()
}

func workbook(t *testing.T, sheets ...string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, name := range sheets {
		if i == 0 {
			require.NoError(t, f.SetSheetName("Sheet1", name))
			continue
		}

		_, err := f.NewSheet(name)
		require.NoError(t, err)
	}

	require.NoError(t, f.SetCellValue(sheets[0], "A1", "total"))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	return buf.Bytes()
}

func zipWith(t *testing.T, names ...string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	for _, n := range names {
		w, err := zw.Create(n)
		require.NoError(t, err)

		_, err = w.Write([]byte("<x/>"))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestVerify_PDF(t *testing.T) {
	t.Parallel()

	info, err := Verify("pdf", minimalPDF(t, 3), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, info.Pages)
	assert.Equal(t, "pdf", info.Format)
	assert.Positive(t, info.Bytes)
}

func TestVerify_PDFMalformed(t *testing.T) {
	t.Parallel()

	_, err := Verify("pdf", []byte("%PDF-1.4 truncated"), 0)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Verify("pdf", []byte("<html>error page</html>"), 0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_XLSX(t *testing.T) {
	t.Parallel()

	info, err := Verify("xlsx", workbook(t, "Budget", "Notes"), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Budget", "Notes"}, info.Sheets)

	_, err = Verify("xlsx", []byte("not a workbook"), 0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_DOCX(t *testing.T) {
	t.Parallel()

	_, err := Verify("docx", zipWith(t, "[Content_Types].xml", "word/document.xml"), 0)
	require.NoError(t, err)

	_, err = Verify("docx", zipWith(t, "[Content_Types].xml"), 0)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestVerify_SizeChecks(t *testing.T) {
	t.Parallel()

	_, err := Verify("pdf", nil, 0)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Verify("txt", []byte("hello world"), 5)
	assert.ErrorIs(t, err, ErrTooLarge)

	info, err := Verify("txt", []byte("hello"), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, info.Bytes)
}
