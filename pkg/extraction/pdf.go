package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is reported when a method ran but produced only whitespace.
var ErrNoText = errors.New("no text could be extracted")

// parsePDFText reads the embedded text layer of every page.
func parsePDFText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	var pageErr error
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			pageErr = fmt.Errorf("page %d: %w", i, err)
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}

	text = strings.TrimSpace(b.String())
	if text == "" {
		if pageErr != nil {
			return "", pageErr
		}
		return "", ErrNoText
	}
	return text, nil
}
