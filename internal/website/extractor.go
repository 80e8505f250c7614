package website

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

const (
	DefaultMaxTextLength = 10000
	defaultUserAgent     = "Mozilla/5.0 (compatible; GrantMatcher/1.0; +https://github.com/david/grant-matcher)"
)

// Options configures an Extractor. Zero values take defaults.
type Options struct {
	MaxTextLength int
	Timeout       time.Duration
	MaxRetries    int
	MaxBodySize   int
	UserAgent     string
	// AllowPrivate disables the public-address guard. Tests only.
	AllowPrivate bool
}

// Page is the text extracted from one NGO website.
type Page struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	ContentType string    `json:"content_type"`
	Truncated   bool      `json:"truncated"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Extractor fetches a single page and reduces it to plain text.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

func NewExtractor(opts Options, logger *zap.Logger) *Extractor {
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 20 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 10 * 1024 * 1024
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger}
}

type fetched struct {
	url         string
	contentType string
	body        []byte
}

func (e *Extractor) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(e.opts.UserAgent),
		colly.MaxBodySize(e.opts.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.DetectCharset(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(e.opts.Timeout)
	if !e.opts.AllowPrivate {
		c.WithTransport(newSafeTransport())
		c.SetRedirectHandler(safeCheckRedirect)
	}
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.8")
	})
	return c
}

func (e *Extractor) fetch(ctx context.Context, target string) (*fetched, error) {
	c := e.collector(ctx)

	var (
		result   *fetched
		fetchErr error
	)
	c.OnResponse(func(r *colly.Response) {
		result = &fetched{
			url:         r.Request.URL.String(),
			contentType: r.Headers.Get("Content-Type"),
			body:        r.Body,
		}
		fetchErr = nil
	})
	c.OnError(func(r *colly.Response, err error) {
		attempt, _ := r.Request.Ctx.GetAny("attempt").(int)
		if attempt < e.opts.MaxRetries && shouldRetry(err, r.StatusCode) && ctx.Err() == nil {
			r.Request.Ctx.Put("attempt", attempt+1)
			backoff := time.Duration(500*(1<<uint(attempt))) * time.Millisecond
			e.logger.Debug("retrying website fetch",
				zap.String("url", target), zap.Int("attempt", attempt+1), zap.Error(err))
			select {
			case <-ctx.Done():
				fetchErr = ctx.Err()
				return
			case <-time.After(backoff):
			}
			if rerr := e.retry(r.Request, target, attempt+1); rerr != nil && result == nil && fetchErr == nil {
				fetchErr = rerr
			}
			return
		}
		if r.StatusCode != 0 {
			fetchErr = fmt.Errorf("fetch %s: status %d: %w", target, r.StatusCode, err)
			return
		}
		fetchErr = fmt.Errorf("fetch %s: %w", target, err)
	})

	// Visit reports the first attempt's error even when a retry succeeded.
	visitErr := c.Visit(target)
	if result != nil {
		return result, nil
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if visitErr != nil {
		return nil, fmt.Errorf("visit %s: %w", target, visitErr)
	}
	return nil, fmt.Errorf("no response received for %s", target)
}

type retrier interface {
	Retry() error
}

// retry re-issues a failed request. Errors from the retried attempt itself are
// already reported through OnError; the returned error is for the caller to
// keep when nothing else was recorded.
func (e *Extractor) retry(req retrier, target string, attempt int) error {
	if err := req.Retry(); err != nil {
		e.logger.Debug("website retry failed",
			zap.String("url", target), zap.Int("attempt", attempt), zap.Error(err))
		return fmt.Errorf("retry %s (attempt %d): %w", target, attempt, err)
	}
	return nil
}

// Extract downloads rawURL and returns its visible text, capped at the
// configured length. HTML and PDF responses are supported.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (*Page, error) {
	u, err := ValidateURL(rawURL)
	if err != nil {
		if !e.opts.AllowPrivate || !errors.Is(err, ErrBlockedHost) {
			return nil, err
		}
	}
	target := rawURL
	if u != nil {
		target = u.String()
	}

	start := time.Now()
	res, err := e.fetch(ctx, target)
	if err != nil {
		return nil, err
	}

	page := &Page{URL: res.url, ContentType: res.contentType, FetchedAt: time.Now().UTC()}
	if isPDF(res.contentType, res.body) {
		page.Text, err = extractPDFText(res.body)
	} else {
		page.Title, page.Text, err = ExtractHTMLText(res.body)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", res.url, err)
	}
	page.Text, page.Truncated = CapText(page.Text, e.opts.MaxTextLength)

	e.logger.Info("website extracted",
		zap.String("url", page.URL),
		zap.Int("chars", len(page.Text)),
		zap.Bool("truncated", page.Truncated),
		zap.Duration("elapsed", time.Since(start)),
	)
	return page, nil
}
