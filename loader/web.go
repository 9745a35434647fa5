package loader

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"

	"github.com/langdocs/ragchat"
	"github.com/langdocs/ragchat/log"
)

// userAgent mirrors a desktop browser; some documentation hosts refuse the
// default Go client string.
const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.114 Safari/537.36"

var blankLinesRe = regexp.MustCompile(`\n{3,}`)

// SampleURLs returns a small page set for smoke-testing an ingestion run.
func SampleURLs(baseURL string) []string {
	return []string{
		baseURL + "docs/introduction",
		baseURL + "docs/get_started/quickstart",
		baseURL + "docs/concepts",
		baseURL + "docs/modules/model_io/llms",
		baseURL + "docs/modules/retrieval/vectorstores",
		baseURL + "docs/modules/chains",
		baseURL + "docs/modules/agents",
		baseURL + "docs/modules/memory",
		baseURL + "docs/expression_language",
		baseURL + "docs/modules/callbacks",
	}
}

// AllURLs returns the full curated page set used for a production ingestion
// run. The documentation site has no machine-readable index, so the major
// sections are listed by hand.
func AllURLs(baseURL string) []string {
	return []string{
		baseURL + "docs/introduction",
		baseURL + "docs/get_started/quickstart",
		baseURL + "docs/concepts",

		baseURL + "docs/modules/model_io/llms",
		baseURL + "docs/modules/model_io/prompts",
		baseURL + "docs/modules/model_io/chat",
		baseURL + "docs/modules/retrieval/vectorstores",
		baseURL + "docs/modules/retrieval/retriever",
		baseURL + "docs/modules/chains",
		baseURL + "docs/modules/agents",
		baseURL + "docs/modules/agents/tools",
		baseURL + "docs/modules/memory",

		baseURL + "docs/expression_language",
		baseURL + "docs/integrations/llms/openai",
		baseURL + "docs/integrations/llms/anthropic",
		baseURL + "docs/integrations/vectorstores/chroma",
		baseURL + "docs/integrations/vectorstores/faiss",
		baseURL + "docs/modules/callbacks",

		baseURL + "docs/use_cases/question_answering",
		baseURL + "docs/use_cases/summarization",
		baseURL + "docs/use_cases/chatbots",

		baseURL + "docs/guides/deployment",
		baseURL + "docs/guides/testing",
		baseURL + "docs/guides/contributing",
	}
}

// DocsLoader crawls documentation pages and yields one Document per page.
// Pages that fail to fetch or parse are logged and skipped so a single bad
// page cannot abort a collection run.
type DocsLoader struct {
	baseURL   string
	urls      []string
	maxPages  int
	delay     time.Duration
	client    *http.Client
	sanitizer *bluemonday.Policy
	logger    log.Logger
}

var _ ragchat.Loader = (*DocsLoader)(nil)

// DocsLoaderOption configures the DocsLoader.
type DocsLoaderOption func(*DocsLoader)

// WithURLs replaces the default page set.
func WithURLs(urls []string) DocsLoaderOption {
	return func(l *DocsLoader) {
		l.urls = urls
	}
}

// WithMaxPages caps how many pages one Load call visits. Zero means no cap.
func WithMaxPages(n int) DocsLoaderOption {
	return func(l *DocsLoader) {
		if n >= 0 {
			l.maxPages = n
		}
	}
}

// WithDelay sets the pause between page fetches.
func WithDelay(d time.Duration) DocsLoaderOption {
	return func(l *DocsLoader) {
		if d >= 0 {
			l.delay = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for fetches.
func WithHTTPClient(client *http.Client) DocsLoaderOption {
	return func(l *DocsLoader) {
		if client != nil {
			l.client = client
		}
	}
}

// WithLogger sets the logger for crawl progress and skipped pages.
func WithLogger(logger log.Logger) DocsLoaderOption {
	return func(l *DocsLoader) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewDocsLoader creates a loader for the documentation site at baseURL. The
// base URL should end with a slash.
func NewDocsLoader(baseURL string, opts ...DocsLoaderOption) *DocsLoader {
	l := &DocsLoader{
		baseURL:   baseURL,
		maxPages:  100,
		delay:     time.Second,
		client:    &http.Client{Timeout: 30 * time.Second},
		sanitizer: newSanitizer(),
		logger:    log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load crawls the configured pages in order, waiting delay between fetches,
// and returns the documents that loaded successfully. A cancelled context
// stops the crawl and returns what was collected so far along with the
// context error.
func (l *DocsLoader) Load(ctx context.Context) ([]ragchat.Document, error) {
	urls := l.urls
	if len(urls) == 0 {
		urls = AllURLs(l.baseURL)
	}
	if l.maxPages > 0 && len(urls) > l.maxPages {
		urls = urls[:l.maxPages]
	}

	l.logger.Info("collecting %d documentation pages", len(urls))

	var docs []ragchat.Document
	for i, pageURL := range urls {
		if i > 0 && l.delay > 0 {
			select {
			case <-ctx.Done():
				return docs, ctx.Err()
			case <-time.After(l.delay):
			}
		}

		doc, err := l.crawlPage(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return docs, ctx.Err()
			}
			l.logger.Warn("failed to crawl %s: %v", pageURL, err)
			continue
		}
		docs = append(docs, doc)
		l.logger.Debug("crawled %s (%d chars)", pageURL, len(doc.Content))
	}

	l.logger.Info("collected %d of %d pages", len(docs), len(urls))
	return docs, nil
}

// crawlPage fetches one page and converts it to a Document. The HTML is
// sanitized before parsing, page chrome is dropped, and the remaining text
// keeps its line structure for the chunker.
func (l *DocsLoader) crawlPage(ctx context.Context, pageURL string) (ragchat.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ragchat.Document{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := l.client.Do(req)
	if err != nil {
		return ragchat.Document{}, fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ragchat.Document{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	page, err := goquery.NewDocumentFromReader(l.sanitizer.SanitizeReader(resp.Body))
	if err != nil {
		return ragchat.Document{}, fmt.Errorf("failed to parse page: %w", err)
	}
	page.Find("script, style, noscript, nav, header, footer").Remove()

	title := ragchat.CleanText(page.Find("title").First().Text())
	if title == "" {
		parts := strings.Split(strings.TrimRight(pageURL, "/"), "/")
		title = parts[len(parts)-1]
	}

	body := page.Find("main")
	if body.Length() == 0 {
		body = page.Find("body")
	}
	content := normalizePageText(body.Text())
	if content == "" {
		return ragchat.Document{}, fmt.Errorf("page has no extractable content")
	}

	docID := pageDocID(pageURL, l.baseURL)
	return ragchat.Document{
		ID:      docID,
		Content: content,
		Metadata: map[string]any{
			"doc_id":    docID,
			"url":       pageURL,
			"category":  Categorize(pageURL),
			"title":     title,
			"timestamp": time.Now().Format(time.RFC3339),
		},
		CreatedAt: time.Now(),
	}, nil
}

// Categorize maps a documentation URL onto a coarse topic bucket used for
// filtered retrieval.
func Categorize(pageURL string) string {
	switch {
	case strings.Contains(pageURL, "introduction"):
		return "introduction"
	case strings.Contains(pageURL, "get_started") || strings.Contains(pageURL, "quickstart"):
		return "getting_started"
	case strings.Contains(pageURL, "concepts"):
		return "concepts"
	case strings.Contains(pageURL, "modules/model_io"):
		return "model_io"
	case strings.Contains(pageURL, "modules/retrieval"):
		return "retrieval"
	case strings.Contains(pageURL, "modules/chains"):
		return "chains"
	case strings.Contains(pageURL, "modules/agents"):
		return "agents"
	case strings.Contains(pageURL, "modules/memory"):
		return "memory"
	case strings.Contains(pageURL, "expression_language") || strings.Contains(pageURL, "lcel"):
		return "lcel"
	default:
		return "general"
	}
}

// newSanitizer extends the UGC policy with the page skeleton elements the
// extractor navigates by. Script and style contents are still dropped.
func newSanitizer() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("html", "head", "title", "body", "main", "nav", "header", "footer", "noscript")
	return policy
}

// pageDocID derives a filesystem-safe identifier from the URL path under the
// base URL.
func pageDocID(pageURL, baseURL string) string {
	id := strings.TrimPrefix(pageURL, baseURL)
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, ".html", "")
	return id
}

// normalizePageText trims each line and collapses runs of blank lines, while
// keeping the line breaks the chunker's section parser relies on.
func normalizePageText(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	joined := strings.Join(lines, "\n")
	joined = blankLinesRe.ReplaceAllString(joined, "\n\n")
	return strings.TrimSpace(joined)
}
