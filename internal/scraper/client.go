package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/govdecisions/backend/internal/storage/models"
	"github.com/govdecisions/backend/pkg/logger"
	"github.com/govdecisions/backend/pkg/retry"
)

const catalogPath = "/he/departments/policies"

// pageSize matches the catalog's skip-based pagination.
const pageSize = 10

type Config struct {
	BaseURL      string
	UserAgent    string
	Timeout      time.Duration
	RequestDelay time.Duration
	MaxPages     int
	Government   int
}

// Client fetches the decisions catalog and individual decision pages.
// Best-effort adapter: it returns candidate records and leaves all
// validation to the pipeline.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.gov.il"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Government <= 0 {
		cfg.Government = 37
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.GetLogger(),
	}
}

// FetchLatest walks catalog pages newest-first and returns candidate
// records with content filled in. It stops at the first empty page or after
// MaxPages. A page failure past the first yields the partial result.
func (c *Client) FetchLatest(ctx context.Context) ([]*models.Decision, error) {
	var all []*models.Decision

	for page := 0; page < c.cfg.MaxPages; page++ {
		candidates, err := c.fetchCatalogPage(ctx, page)
		if err != nil {
			if page == 0 {
				return nil, fmt.Errorf("failed to fetch decisions catalog: %w", err)
			}
			c.logger.Warn("Catalog page fetch failed, stopping with partial result",
				zap.Int("page", page),
				zap.Error(err),
			)
			break
		}
		if len(candidates) == 0 {
			break
		}

		for _, candidate := range candidates {
			c.delay(ctx)
			content, err := c.FetchDecisionContent(ctx, candidate.URL)
			if err != nil {
				c.logger.Warn("Failed to fetch decision content",
					zap.String("key", candidate.Key),
					zap.String("url", candidate.URL),
					zap.Error(err),
				)
				content = models.ContentUnavailable
			}
			candidate.Content = content
			all = append(all, candidate)
		}

		c.delay(ctx)
	}

	c.logger.Info("Catalog scrape completed", zap.Int("candidates", len(all)))
	return all, nil
}

func (c *Client) fetchCatalogPage(ctx context.Context, page int) ([]*models.Decision, error) {
	pageURL := fmt.Sprintf("%s%s?skip=%d", c.cfg.BaseURL, catalogPath, page*pageSize)

	body, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	return c.parseCatalog(body)
}

// FetchDecisionContent loads one decision page and extracts its body text.
func (c *Client) FetchDecisionContent(ctx context.Context, pageURL string) (string, error) {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse decision page: %w", err)
	}

	doc.Find("script, style, nav, footer, header").Remove()

	content := strings.TrimSpace(doc.Find("div.decision-content").Text())
	if content == "" {
		content = strings.TrimSpace(doc.Find("article").Text())
	}
	if content == "" {
		content = strings.TrimSpace(doc.Find("main").Text())
	}
	if content == "" {
		return "", fmt.Errorf("decision page has no recognizable content: %s", pageURL)
	}
	return content, nil
}

func (c *Client) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := retry.Do(ctx, retry.Config{
		MaxAttempts:    2,
		InitialDelay:   time.Second,
		JitterFraction: 0.1,
		Logger:         c.logger,
	}, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("Accept-Language", "he")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch %s: %w", rawURL, err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("fetch %s returned status %d", rawURL, resp.StatusCode)
		}

		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// parseCatalog extracts candidate records from a catalog listing. Content is
// not filled here.
func (c *Client) parseCatalog(r io.Reader) ([]*models.Decision, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog page: %w", err)
	}

	var candidates []*models.Decision
	doc.Find("div.policy-item").Each(func(_ int, item *goquery.Selection) {
		title := strings.TrimSpace(item.Find(".policy-title").Text())
		date := normalizeDate(item.Find(".policy-date").Text())

		href, _ := item.Find("a.policy-link").Attr("href")
		href = strings.TrimSpace(href)
		if href != "" && !strings.HasPrefix(href, "http") {
			href = c.cfg.BaseURL + href
		}

		number, ok := URLNumber(href)
		if !ok {
			number, _ = strconv.Atoi(strings.TrimSpace(item.Find(".policy-number").Text()))
		}
		if number == 0 {
			c.logger.Warn("Skipping catalog item without a decision number", zap.String("title", title))
			return
		}

		government := c.cfg.Government
		if g, err := strconv.Atoi(item.AttrOr("data-government", "")); err == nil && g > 0 {
			government = g
		}

		category := DetectCategory(title)

		candidates = append(candidates, &models.Decision{
			Key:              models.BuildKey(government, category, number),
			GovernmentNumber: government,
			DecisionNumber:   number,
			Category:         category,
			Date:             date,
			Title:            title,
			URL:              href,
		})
	})

	return candidates, nil
}

// DecisionURL builds the canonical page address for a decision.
func DecisionURL(base string, number, year int) string {
	if base == "" {
		base = "https://www.gov.il"
	}
	return fmt.Sprintf("%s%s/dec%d-%d", base, catalogPath, number, year)
}

// URLNumber extracts the decision number from a canonical decision URL's
// trailing "dec{N}-{year}" token. Used both here and by QA mismatch checks.
func URLNumber(rawURL string) (int, bool) {
	idx := strings.LastIndex(rawURL, "/dec")
	if idx < 0 {
		return 0, false
	}

	token := rawURL[idx+len("/dec"):]
	if dash := strings.IndexByte(token, '-'); dash >= 0 {
		token = token[:dash]
	}

	number, err := strconv.Atoi(token)
	if err != nil || number <= 0 {
		return 0, false
	}
	return number, true
}

// DetectCategory recognizes the special decision series from title markers;
// plain cabinet decisions return an empty category.
func DetectCategory(title string) string {
	switch {
	case strings.Contains(title, "ועדת שרים"), strings.Contains(title, "ועדת השרים"):
		return models.CategoryCommittee
	case strings.Contains(title, "הקבינט המדיני-ביטחוני"), strings.Contains(title, "ועדת השרים לענייני ביטחון"):
		return models.CategorySecurity
	case strings.Contains(title, "הקבינט החברתי-כלכלי"), strings.Contains(title, "ועדת שרים לענייני חברה וכלכלה"):
		return models.CategoryEcon
	default:
		return ""
	}
}

// normalizeDate converts the site's date formats to the storage layout. An
// unrecognized value passes through untouched; the baseline tracker treats
// it as newer and logs it.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{models.DateLayout, "02.01.2006", "02/01/2006"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format(models.DateLayout)
		}
	}
	return raw
}

func (c *Client) delay(ctx context.Context) {
	if c.cfg.RequestDelay <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(c.cfg.RequestDelay):
	}
}
