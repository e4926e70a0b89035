package retrieve

import (
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// maxNoteBytes caps the Markdown kept for one page.
const maxNoteBytes = 64 * 1024

// Note is a Markdown rendering of a product page that had no usable PDF,
// kept for manual follow-up.
type Note struct {
	ID         string    `json:"id,omitempty"`
	PartNumber string    `json:"part_number"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Markdown   string    `json:"markdown"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// noteMaker sanitises product-page HTML and converts it to Markdown.
type noteMaker struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
}

func newNoteMaker() *noteMaker {
	return &noteMaker{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// markdown converts raw page HTML. Scripts, styles and event handlers are
// stripped before conversion. Returns "" when nothing readable remains.
func (m *noteMaker) markdown(pageURL string, body []byte) string {
	clean := m.policy.SanitizeBytes(body)
	md, err := m.conv.ConvertString(string(clean), converter.WithDomain(pageURL))
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if len(md) > maxNoteBytes {
		md = md[:maxNoteBytes]
	}
	return md
}

func (m *noteMaker) note(partNumber, pageURL string, body []byte, now time.Time) *Note {
	md := m.markdown(pageURL, body)
	if md == "" {
		return nil
	}
	return &Note{
		PartNumber: partNumber,
		URL:        pageURL,
		Title:      pageTitle(body),
		Markdown:   md,
		FetchedAt:  now.UTC(),
	}
}
