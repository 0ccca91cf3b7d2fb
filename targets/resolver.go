// Package targets expands a target source into the concrete URL list a
// test fans out over. A source is either a single URL or a sitemap
// reference, which is fetched and parsed into its page URLs.
package targets

import (
	"encoding/xml"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
)

// maxSitemapBytes caps how much sitemap body is read. Real sitemaps top
// out at 50MB uncompressed per the protocol.
const maxSitemapBytes = 50 << 20

const fetchTimeout = 30 * time.Second

type urlset struct {
	URLs []struct {
		Loc string `xml:"loc"`
	} `xml:"url"`
}

// Resolve turns a source into the target list for a run. Sitemap
// sources (a .xml path or a URL mentioning "sitemap") are fetched and
// expanded; anything else is validated as a single absolute URL.
func Resolve(source string) ([]string, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, errors.New("target source is empty")
	}
	if isSitemap(source) {
		return fetchSitemap(source)
	}
	if err := validate(source); err != nil {
		return nil, err
	}
	return []string{source}, nil
}

func isSitemap(source string) bool {
	lower := strings.ToLower(source)
	if u, err := url.Parse(source); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".xml") {
		return true
	}
	return strings.Contains(lower, "sitemap")
}

func fetchSitemap(source string) ([]string, error) {
	if err := validate(source); err != nil {
		return nil, err
	}
	c := pester.New()
	c.Concurrency = 1
	c.MaxRetries = 3
	c.Backoff = pester.ExponentialBackoff
	c.Timeout = fetchTimeout

	resp, err := c.Get(source)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't fetch sitemap %s", source)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, errors.Errorf("sitemap %s returned %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSitemapBytes))
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't read sitemap %s", source)
	}
	urls, err := ParseSitemap(body)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't parse sitemap %s", source)
	}
	log.Infof("resolved %d targets from sitemap %s", len(urls), source)
	return urls, nil
}

// ParseSitemap extracts the page URLs from sitemap XML. Entries that
// are not valid absolute URLs are skipped rather than failing the whole
// sitemap.
func ParseSitemap(data []byte) ([]string, error) {
	var set urlset
	if err := xml.Unmarshal(data, &set); err != nil {
		return nil, errors.Wrap(err, "invalid sitemap xml")
	}
	urls := make([]string, 0, len(set.URLs))
	for _, entry := range set.URLs {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		if err := validate(loc); err != nil {
			log.Debugf("skipping sitemap entry %q: %v", loc, err)
			continue
		}
		urls = append(urls, loc)
	}
	if len(urls) == 0 {
		return nil, errors.New("sitemap contains no usable urls")
	}
	return urls, nil
}

func validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	if u.Host == "" {
		return errors.Errorf("url %q has no host", raw)
	}
	return nil
}
