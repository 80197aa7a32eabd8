// Package render turns documents into page images for the vision model.
//
// PDFs are rasterised with pdftoppm after pdfcpu validates them, office and
// text formats go through LibreOffice first, and images are passed through
// or re-encoded as PNG.
package render

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/Aman-CERP/docindex/internal/errors"
)

// Category groups extensions by conversion route.
type Category string

const (
	CategoryPDF     Category = "pdf"
	CategoryCalc    Category = "calc"
	CategoryWriter  Category = "writer"
	CategoryImpress Category = "impress"
	CategoryImage   Category = "image"
)

var extensionCategories = map[string]Category{
	".pdf": CategoryPDF,

	".xls":  CategoryCalc,
	".xlsx": CategoryCalc,

	".doc":  CategoryWriter,
	".docx": CategoryWriter,
	".odt":  CategoryWriter,
	".ods":  CategoryWriter,
	".odp":  CategoryWriter,
	".txt":  CategoryWriter,
	".md":   CategoryWriter,
	".py":   CategoryWriter,
	".js":   CategoryWriter,
	".html": CategoryWriter,
	".css":  CategoryWriter,
	".json": CategoryWriter,
	".xml":  CategoryWriter,
	".yaml": CategoryWriter,
	".yml":  CategoryWriter,

	".ppt":  CategoryImpress,
	".pptx": CategoryImpress,

	".jpg":  CategoryImage,
	".jpeg": CategoryImage,
	".png":  CategoryImage,
	".gif":  CategoryImage,
	".bmp":  CategoryImage,
	".tiff": CategoryImage,
	".ico":  CategoryImage,
	".webp": CategoryImage,
}

// exportFilters are the LibreOffice PDF export filters per office category.
var exportFilters = map[Category]string{
	CategoryCalc:    "calc_pdf_Export",
	CategoryWriter:  "writer_pdf_Export",
	CategoryImpress: "impress_pdf_Export",
}

// Classify maps a file name to its conversion route. The extension is
// matched case-insensitively.
func Classify(path string) (Category, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if cat, ok := extensionCategories[ext]; ok {
		return cat, nil
	}
	return "", errors.UnsupportedFormat(ext).
		WithDetail("path", path).
		WithSuggestion("Supported extensions: " + strings.Join(SupportedExtensions(), " "))
}

// Supported reports whether path has a renderable extension.
func Supported(path string) bool {
	_, err := Classify(path)
	return err == nil
}

// SupportedExtensions lists every renderable extension, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensionCategories))
	for ext := range extensionCategories {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
