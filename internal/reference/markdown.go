package reference

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	reconerrors "github.com/PentesterFlow/ReconMapper/internal/errors"
)

// markdownHeaders caps the headers listed per endpoint section.
const markdownHeaders = 3

// Markdown renders ref as a Markdown document.
func (ref *Reference) Markdown() string {
	var md []string
	add := func(format string, args ...interface{}) {
		md = append(md, fmt.Sprintf(format, args...))
	}

	add("# %s\n", ref.Title)
	add("**Generated:** %s\n", ref.GeneratedAt)

	add("## Summary\n")
	add("- Total Endpoints: %d", ref.Summary.TotalEndpoints)
	add("- Forms Discovered: %d", ref.Summary.TotalForms)
	add("- Buttons/Links: %d\n", ref.Summary.TotalButtons)

	if len(ref.CommonHeaders) > 0 {
		add("## Common Headers\n")
		for _, h := range ref.CommonHeaders {
			add("- `%s`", h)
		}
		add("")
	}

	if len(ref.Endpoints) > 0 {
		add("## API Endpoints\n")
		for _, ep := range ref.Endpoints {
			add("### %s\n", ep.Key)
			add("**Description:** %s\n", ep.Description)
			add("**Methods:** %s\n", strings.Join(ep.Methods, ", "))
			add("**Status Codes:** %s\n", joinInts(ep.StatusCodes))

			if len(ep.RequestHeaders) > 0 {
				add("\n**Common Request Headers:**")
				for _, h := range firstN(ep.RequestHeaders.Names(), markdownHeaders) {
					add("- `%s`", h)
				}
			}
			if len(ep.ResponseHeaders) > 0 {
				add("\n**Common Response Headers:**")
				for _, h := range firstN(ep.ResponseHeaders.Names(), markdownHeaders) {
					add("- `%s`", h)
				}
			}
			add("")
		}
	}

	if len(ref.Forms) > 0 {
		add("## Forms Discovered\n")
		for _, form := range ref.Forms {
			add("**Form ID:** %s", orDefault(form.ID, "N/A"))
			add("- **Action:** %s", orDefault(form.Action, "N/A"))
			add("- **Method:** %s", orDefault(form.Method, "GET"))
			add("- **Fields:**")
			for _, field := range form.Fields {
				add("  - `%s` (%s)", orDefault(field.Name, "N/A"), orDefault(field.Type, "text"))
			}
			add("")
		}
	}

	return strings.Join(md, "\n")
}

// WriteMarkdown generates the reference and writes it to w.
func (r *Registry) WriteMarkdown(w io.Writer) error {
	if _, err := io.WriteString(w, r.Generate().Markdown()); err != nil {
		return reconerrors.NewRenderError("", err)
	}
	return nil
}

// WriteMarkdownFile writes the Markdown reference to path, creating parent
// directories. Any I/O failure is returned as a render error.
func (r *Registry) WriteMarkdownFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return reconerrors.NewRenderError(path, err)
		}
	}
	if err := os.WriteFile(path, []byte(r.Generate().Markdown()), 0o644); err != nil {
		return reconerrors.NewRenderError(path, err)
	}
	r.log.WithField("path", path).
		WithField("endpoints", r.Len()).
		Info("wrote API reference")
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}

func firstN(values []string, n int) []string {
	if len(values) > n {
		return values[:n]
	}
	return values
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
