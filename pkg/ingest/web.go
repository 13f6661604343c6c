// Copyright 2025 The RagForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ragforge/ragforge/pkg/graph"
	"github.com/ragforge/ragforge/pkg/metrics"
)

const (
	crawlTimeout  = 30 * time.Second
	crawlBodyCap  = 2 << 20 // 2 MiB per page
	crawlPageCap  = 100     // pages per run
	crawlUserAgnt = "ragforge-crawler/1.0"
)

var (
	titleRe  = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	hrefRe   = regexp.MustCompile(`(?i)href=["']([^"'#]+)["']`)
	dropRe   = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</\w+>`)
	tagRe    = regexp.MustCompile(`(?s)<[^>]*>`)
	spacesRe = regexp.MustCompile(`[ \t]+`)
	blankRe  = regexp.MustCompile(`\n{3,}`)
)

// crawl fetches seed URLs breadth-first up to maxDepth, staying on the seed
// hosts, and upserts WebPage nodes with LINKS_TO edges. Unchanged pages are
// skipped by content hash.
func (e *Engine) crawl(ctx context.Context, seeds []string, maxDepth int) (Stats, error) {
	client := &http.Client{Timeout: crawlTimeout}

	hosts := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		if u, err := url.Parse(seed); err == nil {
			hosts[u.Host] = true
		}
	}

	type job struct {
		url   string
		depth int
	}
	queue := make([]job, 0, len(seeds))
	for _, seed := range seeds {
		queue = append(queue, job{url: seed, depth: 0})
	}

	visited := make(map[string]bool)
	var stats Stats

	for len(queue) > 0 && len(visited) < crawlPageCap {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		next := queue[0]
		queue = queue[1:]
		if visited[next.url] {
			continue
		}
		visited[next.url] = true

		page, links, err := fetchPage(ctx, client, next.url)
		if err != nil {
			stats.Failed++
			metrics.DocumentsIngested.WithLabelValues("failed").Inc()
			continue
		}
		page.depth = next.depth

		pageStats, err := e.writePage(ctx, page)
		stats.add(pageStats)
		if err != nil {
			return stats, err
		}

		if next.depth >= maxDepth {
			continue
		}
		for _, link := range links {
			if u, err := url.Parse(link); err == nil && hosts[u.Host] && !visited[link] {
				queue = append(queue, job{url: link, depth: next.depth + 1})
				_, _ = e.graph.RunWrite(ctx,
					"MATCH (a:WebPage {url: $from}) MERGE (b:WebPage {url: $to}) "+
						"MERGE (a)-[:LINKS_TO]->(b)",
					map[string]any{"from": next.url, "to": link})
			}
		}
	}
	return stats, nil
}

type webPage struct {
	url   string
	title string
	text  string
	depth int
}

func fetchPage(ctx context.Context, client *http.Client, pageURL string) (webPage, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return webPage{}, nil, err
	}
	req.Header.Set("User-Agent", crawlUserAgnt)

	resp, err := client.Do(req)
	if err != nil {
		return webPage{}, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return webPage{}, nil, fmt.Errorf("status %d for %s", resp.StatusCode, pageURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, crawlBodyCap))
	if err != nil {
		return webPage{}, nil, err
	}
	html := string(body)

	title := pageURL
	if m := titleRe.FindStringSubmatch(html); m != nil {
		title = strings.TrimSpace(m[1])
	}

	base, _ := url.Parse(pageURL)
	var links []string
	for _, m := range hrefRe.FindAllStringSubmatch(html, -1) {
		ref, err := url.Parse(strings.TrimSpace(m[1]))
		if err != nil || base == nil {
			continue
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme == "http" || abs.Scheme == "https" {
			abs.Fragment = ""
			links = append(links, abs.String())
		}
	}

	return webPage{url: pageURL, title: title, text: htmlToText(html)}, links, nil
}

func htmlToText(html string) string {
	text := dropRe.ReplaceAllString(html, " ")
	text = tagRe.ReplaceAllString(text, "\n")
	text = strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">",
		"&quot;", `"`, "&#39;", "'", "&nbsp;", " ").Replace(text)
	text = spacesRe.ReplaceAllString(text, " ")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}
	return blankRe.ReplaceAllString(strings.Join(kept, "\n"), "\n\n")
}

func (e *Engine) writePage(ctx context.Context, page webPage) (Stats, error) {
	hash := ContentHash(page.text)

	rows, err := e.graph.Run(ctx,
		"MATCH (p:WebPage {url: $url}) RETURN p.contentHash AS hash",
		map[string]any{"url": page.url})
	if err != nil {
		return Stats{}, err
	}
	existed := len(rows) > 0
	if existed && fmt.Sprintf("%v", rows[0]["hash"]) == hash {
		metrics.DocumentsIngested.WithLabelValues("skipped").Inc()
		return Stats{Skipped: 1}, nil
	}

	embeddingFields := e.embeddingFields("WebPage")
	set := "MERGE (p:WebPage {url: $url}) SET p.title = $title, p.textContent = $text, " +
		"p.depth = $depth, p.contentHash = $hash"
	for _, field := range embeddingFields {
		set += ", p." + graph.SafeIdent(field) + " = null"
	}

	changeType := "modified"
	if !existed {
		changeType = "created"
	}
	statements := []graph.Statement{
		{
			Cypher: set,
			Params: map[string]any{
				"url": page.url, "title": page.title, "text": page.text,
				"depth": page.depth, "hash": hash,
			},
		},
		changeStatement("WebPage", "url", page.url, ChangeRecord{Type: changeType}),
	}
	if err := e.graph.WriteBatch(ctx, statements); err != nil {
		return Stats{}, err
	}

	if existed {
		metrics.DocumentsIngested.WithLabelValues("modified").Inc()
		return Stats{Modified: 1}, nil
	}
	metrics.DocumentsIngested.WithLabelValues("created").Inc()
	return Stats{Created: 1}, nil
}
