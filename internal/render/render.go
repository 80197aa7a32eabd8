package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	"image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	_ "github.com/biessek/golang-ico" // register decoder

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// Page is one rendered page image.
type Page struct {
	Index  int    // 0-based
	Data   []byte // encoded image
	Format string // png or jpeg
}

// Renderer converts a file into page images.
type Renderer interface {
	Render(ctx context.Context, path string) ([]Page, error)
}

// runFunc executes an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// DefaultDPI is used when the configured DPI is zero.
const DefaultDPI = 150

// DocumentRenderer renders PDFs, office documents and images.
type DocumentRenderer struct {
	sofficePath  string
	pdftoppmPath string
	dpi          int
	run          runFunc
}

var _ Renderer = (*DocumentRenderer)(nil)

// New creates a renderer from config. Empty tool paths fall back to the
// binaries on PATH.
func New(cfg config.RenderConfig) *DocumentRenderer {
	r := &DocumentRenderer{
		sofficePath:  cfg.SofficePath,
		pdftoppmPath: cfg.PdftoppmPath,
		dpi:          cfg.DPI,
		run:          execRun,
	}
	if r.sofficePath == "" {
		r.sofficePath = "soffice"
	}
	if r.pdftoppmPath == "" {
		r.pdftoppmPath = "pdftoppm"
	}
	if r.dpi <= 0 {
		r.dpi = DefaultDPI
	}
	return r
}

// Render classifies path and converts it. An unsupported extension returns
// ErrCodeUnsupportedFormat; every other failure is ErrCodeRenderFailed.
func (r *DocumentRenderer) Render(ctx context.Context, path string) ([]Page, error) {
	cat, err := Classify(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, "cannot read document", err).WithDetail("path", path)
	}

	var pages []Page
	switch cat {
	case CategoryPDF:
		pages, err = r.renderPDF(ctx, path)
	case CategoryImage:
		pages, err = renderImageFile(path)
	default:
		pages, err = r.renderOffice(ctx, path, cat)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("document_rendered",
		slog.String("path", path),
		slog.String("category", string(cat)),
		slog.Int("pages", len(pages)))
	return pages, nil
}

// renderPDF rasterises every page. A file pdfcpu cannot read is retried as
// an image, since callers sometimes hand over images with a .pdf name.
func (r *DocumentRenderer) renderPDF(ctx context.Context, path string) ([]Page, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.ValidateFile(path, conf); err != nil {
		slog.Debug("pdf_invalid_trying_image", slog.String("path", path), slog.String("error", err.Error()))
		pages, imgErr := renderImageFile(path)
		if imgErr != nil {
			return nil, errors.New(errors.ErrCodeRenderFailed, "file is neither a readable PDF nor an image", err).
				WithDetail("path", path)
		}
		return pages, nil
	}

	expected, err := api.PageCountFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "cannot count PDF pages", err).WithDetail("path", path)
	}

	tmpDir, err := os.MkdirTemp("", "docindex-render-*")
	if err != nil {
		return nil, errors.InternalError("failed to create temp dir", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	prefix := filepath.Join(tmpDir, "page")
	out, err := r.run(ctx, r.pdftoppmPath, "-png", "-r", strconv.Itoa(r.dpi), path, prefix)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "pdftoppm failed", err).
			WithDetail("path", path).
			WithDetail("output", strings.TrimSpace(string(out))).
			WithSuggestion("Install poppler-utils or set render.pdftoppm_path.")
	}

	pages, err := collectPages(tmpDir, "page")
	if err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "cannot read rasterised pages", err).WithDetail("path", path)
	}
	if len(pages) != expected {
		slog.Warn("page_count_mismatch",
			slog.String("path", path),
			slog.Int("expected", expected),
			slog.Int("rendered", len(pages)))
	}
	return pages, nil
}

// renderOffice converts the document to PDF with LibreOffice and renders that.
func (r *DocumentRenderer) renderOffice(ctx context.Context, path string, cat Category) ([]Page, error) {
	tmpDir, err := os.MkdirTemp("", "docindex-office-*")
	if err != nil {
		return nil, errors.InternalError("failed to create temp dir", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	out, err := r.run(ctx, r.sofficePath,
		"--headless", "--norestore",
		"--convert-to", "pdf:"+exportFilters[cat],
		"--outdir", tmpDir,
		path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "LibreOffice conversion failed", err).
			WithDetail("path", path).
			WithDetail("output", strings.TrimSpace(string(out))).
			WithSuggestion("Install LibreOffice or set SOFFICE_PATH.")
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	pdfPath := filepath.Join(tmpDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "LibreOffice produced no PDF", err).
			WithDetail("path", path).
			WithDetail("output", strings.TrimSpace(string(out)))
	}
	return r.renderPDF(ctx, pdfPath)
}

// collectPages reads <prefix>-N.png files in page order. pdftoppm pads N
// with zeros depending on the page count, so N is parsed numerically.
func collectPages(dir, prefix string) ([]Page, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.png"))
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int
		path string
	}
	files := make([]numbered, 0, len(matches))
	for _, m := range matches {
		stem := strings.TrimSuffix(filepath.Base(m), ".png")
		n, err := strconv.Atoi(stem[strings.LastIndex(stem, "-")+1:])
		if err != nil {
			continue
		}
		files = append(files, numbered{n: n, path: m})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].n < files[j].n })

	pages := make([]Page, 0, len(files))
	for i, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return nil, err
		}
		pages = append(pages, Page{Index: i, Data: data, Format: "png"})
	}
	return pages, nil
}

func renderImageFile(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeFileNotFound, "cannot read image", err).WithDetail("path", path)
	}
	page, err := RenderImage(data)
	if err != nil {
		return nil, errors.New(errors.ErrCodeRenderFailed, "cannot decode image", err).WithDetail("path", path)
	}
	return []Page{page}, nil
}

// RenderImage passes PNG and JPEG through unchanged and re-encodes every
// other decodable format (gif, bmp, tiff, webp, ico) as PNG.
func RenderImage(data []byte) (Page, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Page{}, fmt.Errorf("unrecognised image data: %w", err)
	}
	if format == "png" || format == "jpeg" {
		return Page{Index: 0, Data: data, Format: format}, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Page{}, fmt.Errorf("decode %s: %w", format, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Page{}, fmt.Errorf("encode png: %w", err)
	}
	return Page{Index: 0, Data: buf.Bytes(), Format: "png"}, nil
}

// MIMEType returns the media type for a page format.
func MIMEType(format string) string {
	switch format {
	case "jpeg", "jpg":
		return "image/jpeg"
	default:
		return "image/png"
	}
}
