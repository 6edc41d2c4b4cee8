// Package docx extracts plain text from Word .docx documents. A .docx
// file is a zip archive; the document body lives in word/document.xml
// where visible text sits in w:t runs grouped into w:p paragraphs.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const documentPath = "word/document.xml"

// Extract returns the plain text of a .docx document, one line per
// paragraph. Formatting, tables structure, and embedded objects are not
// preserved; only run text is kept.
func Extract(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening docx archive: %w", err)
	}

	var doc *zip.File
	for _, f := range reader.File {
		if f.Name == documentPath {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("docx archive has no %s", documentPath)
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", documentPath, err)
	}
	defer rc.Close()

	return extractText(rc)
}

// extractText streams the document XML, collecting w:t character data
// and emitting a newline at each paragraph end.
func extractText(r io.Reader) (string, error) {
	decoder := xml.NewDecoder(r)

	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}

	return strings.TrimRight(sb.String(), "\n"), nil
}
