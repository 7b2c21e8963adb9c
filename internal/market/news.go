package market

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NewsFeed reads headline titles from an RSS feed.
type NewsFeed struct {
	url    string
	limit  int
	client *http.Client
}

func NewNewsFeed(url string, limit int, timeout time.Duration) *NewsFeed {
	if limit <= 0 {
		limit = 10
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NewsFeed{url: url, limit: limit, client: &http.Client{Timeout: timeout}}
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

// Headlines returns up to limit item titles, in feed order.
func (n *NewsFeed) Headlines(ctx context.Context) ([]string, error) {
	if n == nil || strings.TrimSpace(n.url) == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/rss+xml, application/xml, text/xml")
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news feed status %s", resp.Status)
	}
	return parseHeadlines(xml.NewDecoder(resp.Body), n.limit)
}

func parseHeadlines(dec *xml.Decoder, limit int) ([]string, error) {
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	var doc rssDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}
	titles := make([]string, 0, limit)
	for _, item := range doc.Channel.Items {
		title := strings.TrimSpace(item.Title)
		if title == "" {
			continue
		}
		titles = append(titles, title)
		if len(titles) >= limit {
			break
		}
	}
	return titles, nil
}
