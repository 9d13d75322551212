package builtin

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	gopdf "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"github.com/jg-phare/mcphub/pkg/types"
)

const (
	fetchTimeout          = 30 * time.Second
	fetchMaxBody          = 10 * 1024 * 1024 // 10MB
	fetchDefaultMaxLength = 5000
	fetchUserAgent        = "mcphub/0.1 (+https://github.com/jg-phare/mcphub)"
)

var fetchSchema = &types.Schema{
	Kind: types.KindObject,
	Properties: map[string]*types.Schema{
		"url":         {Kind: types.KindString, Description: "URL to fetch"},
		"max_length":  {Kind: types.KindInteger, Description: "Maximum number of characters to return"},
		"start_index": {Kind: types.KindInteger, Description: "Character offset to start from, for reading long pages in parts"},
		"raw":         {Kind: types.KindBoolean, Description: "Return the body without HTML simplification"},
	},
	Required: []string{"url"},
}

// FetchTool fetches a URL and returns its content as text. HTML is reduced
// to visible text and PDF bodies to their plain text.
type FetchTool struct {
	// HTTPClient overrides the default client (useful for testing).
	HTTPClient *http.Client
}

func (f *FetchTool) Name() string { return "fetch" }

func (f *FetchTool) InputSchema() *types.Schema { return fetchSchema }

func (f *FetchTool) Execute(ctx context.Context, args map[string]any) (types.ToolResult, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return types.FailedResult("url is required"), nil
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return types.FailedResult("url must start with http:// or https://"), nil
	}
	maxLength := intArg(args, "max_length", fetchDefaultMaxLength)
	start := intArg(args, "start_index", 0)
	raw, _ := args["raw"].(bool)

	client := f.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: fetchTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return types.FailedResult(fmt.Sprintf("invalid request: %s", err)), nil
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return types.FailedResult(fmt.Sprintf("fetch %s: %s", rawURL, err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return types.FailedResult(fmt.Sprintf("fetch %s: HTTP %d", rawURL, resp.StatusCode)), nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return types.FailedResult(fmt.Sprintf("read response: %s", err)), nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "" {
		mediaType = http.DetectContentType(body)
		mediaType, _, _ = mime.ParseMediaType(mediaType)
	}

	var content string
	switch {
	case mediaType == "application/pdf":
		content, err = extractTextFromPDF(body)
		if err != nil {
			return types.FailedResult(fmt.Sprintf("parse PDF from %s: %s", rawURL, err)), nil
		}
	case !raw && (mediaType == "text/html" || mediaType == "application/xhtml+xml"):
		content = extractTextFromHTML(string(body))
	default:
		content = string(body)
	}

	content, next := window(content, start, maxLength)
	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n%s", rawURL, content)
	if next > 0 {
		fmt.Fprintf(&b, "\n\n(content truncated; call fetch with start_index=%d for more)", next)
	}
	return types.ToolResult{Success: true, Content: []types.ContentItem{types.TextContent(b.String())}}, nil
}

// window returns up to limit runes of s starting at rune offset start, and
// the offset of the next window (0 when nothing is left).
func window(s string, start, limit int) (string, int) {
	if start < 0 {
		start = 0
	}
	total := utf8.RuneCountInString(s)
	if start >= total {
		return "", 0
	}
	runes := []rune(s)
	end := total
	if limit > 0 && start+limit < total {
		end = start + limit
	}
	next := 0
	if end < total {
		next = end
	}
	return string(runes[start:end]), next
}

func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// extractTextFromHTML uses the x/net/html tokenizer to strip tags and extract visible text.
func extractTextFromHTML(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	var b strings.Builder
	skip := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			tag := string(tn)
			if isHiddenTag(tag) && tt == html.StartTagToken {
				skip++
			}
			if isBlockTag(tag) {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if isHiddenTag(string(tn)) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			text := strings.TrimSpace(string(tokenizer.Text()))
			if text == "" {
				continue
			}
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
				b.WriteByte(' ')
			}
			b.WriteString(text)
		}
	}
}

func isHiddenTag(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "head", "template", "svg":
		return true
	}
	return false
}

func isBlockTag(tag string) bool {
	switch tag {
	case "div", "p", "br", "h1", "h2", "h3", "h4", "h5", "h6",
		"ul", "ol", "li", "table", "tr", "td", "th",
		"section", "article", "header", "footer", "nav", "main",
		"blockquote", "pre", "hr":
		return true
	}
	return false
}

// extractTextFromPDF returns the plain text of every page.
func extractTextFromPDF(body []byte) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	reader, err := gopdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return "", err
	}
	if reader.NumPage() == 0 {
		return "(empty PDF)", nil
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", err
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
