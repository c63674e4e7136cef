package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/internal/platform"
	"github.com/sells-group/leadscout/internal/textutil"
)

// ExtractionError reports an absent or unparseable evaluation payload. It
// is never fatal: the unit yields nothing and a counter is bumped.
type ExtractionError struct {
	Stage    string
	Platform string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract: %s payload from %s: %v", e.Stage, e.Platform, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// RawLink is one entry returned by the search script.
type RawLink struct {
	Href         string  `json:"href"`
	Text         string  `json:"text"`
	Author       string  `json:"author"`
	AuthorURL    string  `json:"author_url"`
	CommentCount flexInt `json:"comment_count"`
}

// flexInt accepts a JSON number or numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(v)
	return nil
}

// DecodeLinks parses a search payload. Besides the script's JSON list it
// accepts a JSON string of result-page HTML, from which links matching the
// platform's LinkSelector are read.
func DecodeLinks(p *platform.Platform, raw json.RawMessage) ([]RawLink, error) {
	fail := func(err error) error {
		return &ExtractionError{Stage: "search", Platform: p.Name, Err: err}
	}
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, fail(eris.New("empty payload"))
	}

	switch body[0] {
	case '[':
		var links []RawLink
		if err := json.Unmarshal(body, &links); err != nil {
			return nil, fail(err)
		}
		return links, nil
	case '{':
		var wrapped struct {
			Links []RawLink `json:"links"`
		}
		if err := json.Unmarshal(body, &wrapped); err != nil {
			return nil, fail(err)
		}
		if wrapped.Links == nil {
			return nil, fail(eris.New("object payload without links"))
		}
		return wrapped.Links, nil
	case '"':
		var html string
		if err := json.Unmarshal(body, &html); err != nil {
			return nil, fail(err)
		}
		if !strings.Contains(html, "<") {
			return nil, fail(eris.New("string payload is not HTML"))
		}
		links, err := linksFromHTML(html, p.LinkSelector)
		if err != nil {
			return nil, fail(err)
		}
		return links, nil
	}
	return nil, fail(eris.Errorf("unexpected payload %.40q", string(body)))
}

func linksFromHTML(html, selector string) ([]RawLink, error) {
	if selector == "" {
		selector = "a[href]"
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "parse html")
	}
	var out []RawLink
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		text := textutil.NormalizeSpace(s.Text())
		if text == "" {
			text, _ = s.Attr("title")
		}
		out = append(out, RawLink{Href: href, Text: textutil.Clip(text, 260)})
	})
	return out, nil
}

// ReadPayload is the comment script's reply.
type ReadPayload struct {
	URL      string          `json:"url"`
	Title    string          `json:"title"`
	Comments []model.Comment `json:"comments"`
	Preview  string          `json:"preview"`
}

// DecodeRead parses a visit payload.
func DecodeRead(platformName string, raw json.RawMessage) (ReadPayload, error) {
	var rp ReadPayload
	body := bytes.TrimSpace(raw)
	if len(body) == 0 || body[0] != '{' {
		return rp, &ExtractionError{Stage: "read", Platform: platformName, Err: eris.New("payload is not an object")}
	}
	if err := json.Unmarshal(body, &rp); err != nil {
		return rp, &ExtractionError{Stage: "read", Platform: platformName, Err: err}
	}
	rp.Title = textutil.NormalizeSpace(rp.Title)
	rp.URL = textutil.NormalizeSpace(rp.URL)
	rp.Preview = textutil.NormalizeSpace(rp.Preview)
	return rp, nil
}
