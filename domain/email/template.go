package email

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/deepsoumya617/shoply/pkg/logger"
)

//go:embed templates
var templateFS embed.FS

// defaultLayout wraps every rendered template.
const defaultLayout = "base"

// TemplateService renders Handlebars email templates compiled into the binary.
//
// Layout:
//   - templates/layouts/*.hbs - base layouts that wrap content via {{{content}}}
//   - templates/partials/*.hbs - reusable parts (buttons, footers)
//   - templates/*.hbs - main email templates
type TemplateService struct {
	log       *slog.Logger
	partials  map[string]string
	templates map[string]*raymond.Template
	layouts   map[string]*raymond.Template
}

// TemplateRenderResult contains the rendered email content
type TemplateRenderResult struct {
	HTML string
	Text string
}

// TemplateContext is the data passed to templates
type TemplateContext map[string]interface{}

// NewTemplateService parses every embedded template. A template that fails to
// parse is an error: templates ship with the binary.
func NewTemplateService(log *slog.Logger) (*TemplateService, error) {
	return newTemplateService(templateFS, "templates", log)
}

func newTemplateService(fsys fs.FS, root string, log *slog.Logger) (*TemplateService, error) {
	ts := &TemplateService{
		log:       log.With(logger.Scope("email.template")),
		partials:  make(map[string]string),
		templates: make(map[string]*raymond.Template),
		layouts:   make(map[string]*raymond.Template),
	}

	if err := eachTemplate(fsys, path.Join(root, "partials"), func(name, content string) error {
		ts.partials[name] = content
		return nil
	}); err != nil {
		return nil, err
	}
	if err := eachTemplate(fsys, path.Join(root, "layouts"), func(name, content string) error {
		tmpl, err := ts.parse(name, content)
		ts.layouts[name] = tmpl
		return err
	}); err != nil {
		return nil, err
	}
	if err := eachTemplate(fsys, root, func(name, content string) error {
		tmpl, err := ts.parse(name, content)
		ts.templates[name] = tmpl
		return err
	}); err != nil {
		return nil, err
	}

	ts.log.Info("loaded embedded email templates",
		slog.Int("templates", len(ts.templates)),
		slog.Int("layouts", len(ts.layouts)),
		slog.Int("partials", len(ts.partials)))

	return ts, nil
}

func eachTemplate(fsys fs.FS, dir string, fn func(name, content string) error) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("read template dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".hbs") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read template %s: %w", entry.Name(), err)
		}
		if err := fn(strings.TrimSuffix(entry.Name(), ".hbs"), string(content)); err != nil {
			return err
		}
	}
	return nil
}

// parse compiles content and attaches the partials to the template itself,
// so services never touch raymond's global partial registry.
func (ts *TemplateService) parse(name, content string) (*raymond.Template, error) {
	tmpl, err := raymond.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	for pname, psrc := range ts.partials {
		tmpl.RegisterPartial(pname, psrc)
	}
	return tmpl, nil
}

// Render renders templateName inside the base layout.
func (ts *TemplateService) Render(templateName string, context TemplateContext) (*TemplateRenderResult, error) {
	tmpl, ok := ts.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("template not found: %s", templateName)
	}

	content, err := tmpl.Exec(context)
	if err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", templateName, err)
	}

	if layout, ok := ts.layouts[defaultLayout]; ok {
		layoutCtx := make(TemplateContext, len(context)+1)
		for k, v := range context {
			layoutCtx[k] = v
		}
		layoutCtx["content"] = raymond.SafeString(content)

		content, err = layout.Exec(layoutCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render layout %s: %w", defaultLayout, err)
		}
	}

	return &TemplateRenderResult{
		HTML: content,
		Text: generatePlainText(context),
	}, nil
}

// generatePlainText creates a plain text version from context
func generatePlainText(context TemplateContext) string {
	var parts []string

	if title, ok := context["title"].(string); ok && title != "" {
		parts = append(parts, title, "")
	}
	if message, ok := context["message"].(string); ok && message != "" {
		parts = append(parts, message, "")
	}
	if ctaURL, ok := context["ctaUrl"].(string); ok && ctaURL != "" {
		parts = append(parts, fmt.Sprintf("Link: %s", ctaURL), "")
	}

	return strings.Join(parts, "\n")
}

// HasTemplate checks if a template exists
func (ts *TemplateService) HasTemplate(name string) bool {
	_, ok := ts.templates[name]
	return ok
}
