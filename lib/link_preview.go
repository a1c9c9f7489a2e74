package lib

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/carlmjohnson/requests"
	"golang.org/x/net/html"
)

const previewTimeout = 5 * time.Second

// FetchPreviewImage loads pageURL and returns the absolute URL of its preview image, or "".
func FetchPreviewImage(ctx context.Context, transport http.RoundTripper, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, previewTimeout)
	defer cancel()

	var body string
	err := requests.URL(pageURL).
		Transport(transport).
		ToString(&body).
		Fetch(ctx)
	if err != nil {
		return "", err
	}

	doc, err := htmlquery.Parse(strings.NewReader(body))
	if err != nil {
		return "", err
	}

	image := ExtractImageURL(doc)
	if image == "" {
		return "", nil
	}
	return resolveReference(pageURL, image), nil
}

func resolveReference(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// ExtractImageURL reads og:image, falling back to twitter:image.
func ExtractImageURL(n *html.Node) string {
	if image := extractOpengraphImage(n); image != "" {
		return image
	}
	if image := extractTwitterImage(n); image != "" {
		return image
	}
	return ""
}

func extractOpengraphImage(n *html.Node) string {
	return metaContent(n, "//meta[@property = 'og:image' or @property = 'og:image:url']")
}

func extractTwitterImage(n *html.Node) string {
	return metaContent(n, "//meta[@name = 'twitter:image' or @property = 'twitter:image']")
}

func metaContent(n *html.Node, xpath string) string {
	elem := htmlquery.FindOne(n, xpath)
	if elem == nil {
		return ""
	}
	return strings.TrimSpace(htmlquery.SelectAttr(elem, "content"))
}
