package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	shiori "github.com/go-shiori/go-readability"
)

var excessiveLinesRe = regexp.MustCompile(`\n{4,}`)

// Article is an imported web page reduced to its readable content.
type Article struct {
	Title     string `json:"title"`
	Markdown  string `json:"markdown"`
	Excerpt   string `json:"excerpt,omitempty"`
	SourceURL string `json:"source_url"`
	WordCount int    `json:"word_count"`
}

// Importer fetches a page, strips the chrome down to the article, and
// converts it to markdown.
type Importer struct {
	fetcher   *Fetcher
	converter *md.Converter
	logger    *slog.Logger
}

// NewImporter creates an importer.
func NewImporter(timeout time.Duration, userAgent string, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Importer{
		fetcher:   NewFetcher(timeout, userAgent, DefaultMaxContentSize),
		converter: converter,
		logger:    logger,
	}
}

// Import fetches and converts the article at the URL.
func (im *Importer) Import(ctx context.Context, rawURL string) (*Article, error) {
	body, err := im.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	article, err := shiori.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}

	markdown, err := im.converter.ConvertString(article.Content)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	markdown = cleanMarkdown(markdown)

	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = extractMarkdownTitle(markdown)
	}

	im.logger.Info("article imported",
		"url", rawURL,
		"title", title,
		"words", len(strings.Fields(markdown)))

	return &Article{
		Title:     title,
		Markdown:  markdown,
		Excerpt:   strings.TrimSpace(article.Excerpt),
		SourceURL: rawURL,
		WordCount: len(strings.Fields(markdown)),
	}, nil
}

// cleanMarkdown collapses excessive blank lines and trims line endings.
func cleanMarkdown(content string) string {
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n\n")

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")

	return strings.TrimSpace(content)
}

// extractMarkdownTitle extracts the first H1 heading from markdown.
func extractMarkdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
