// Package mangadex implements module.Module on top of the MangaDex REST API.
package mangadex

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/italolelis/manga_downloader/internal/logctx"
	"github.com/italolelis/manga_downloader/internal/module"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	Name            = "MangaDex"
	DefaultSiteURL  = "https://mangadex.org"
	DefaultAPIURL   = "https://api.mangadex.org"
	DefaultCoverURL = "https://uploads.mangadex.org/covers"

	// DefaultRate is the number of requests per second MangaDex allows.
	DefaultRate = 5

	feedPageSize = 500
)

// ID never changes so stored downloads find the module again.
var ID = uuid.MustParse("07bd7f6b-12a1-48f1-9873-f175d4f76c9a")

var mangaIDPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// Client talks to MangaDex. Every request, image bodies included, waits on a
// shared rate limiter.
type Client struct {
	site      *url.URL
	apiURL    string
	coverURL  string
	languages []string
	limiter   *rate.Limiter
	http      *resty.Client
}

type Option func(*Client)

func WithAPIURL(apiURL string) Option {
	return func(c *Client) { c.apiURL = strings.TrimSuffix(apiURL, "/") }
}

func WithCoverURL(coverURL string) Option {
	return func(c *Client) { c.coverURL = strings.TrimSuffix(coverURL, "/") }
}

// WithSiteURL changes the domain the module registers for.
func WithSiteURL(site *url.URL) Option {
	return func(c *Client) { c.site = site }
}

// WithRate limits requests to rps per second. Zero or less disables the limit.
func WithRate(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)

			return
		}

		burst := int(rps)
		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLanguages selects the translations listed in the chapter feed.
func WithLanguages(languages ...string) Option {
	return func(c *Client) { c.languages = languages }
}

// WithTransport replaces the HTTP transport, wrapped for tracing.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.http.SetTransport(otelhttp.NewTransport(rt)) }
}

func New(opts ...Option) *Client {
	site, _ := url.Parse(DefaultSiteURL)

	c := &Client{
		site:      site,
		apiURL:    DefaultAPIURL,
		coverURL:  DefaultCoverURL,
		languages: []string{"en"},
		limiter:   rate.NewLimiter(rate.Limit(DefaultRate), DefaultRate),
		http:      newHTTPClient(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func newHTTPClient() *resty.Client {
	client := resty.New()
	client.SetTransport(otelhttp.NewTransport(http.DefaultTransport))
	client.SetHeader("User-Agent", "manga_downloader")
	client.SetLogger(discardLogger{})
	client.SetRetryCount(3).
		SetRetryWaitTime(time.Second).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if retryAfter := resp.Header().Get("Retry-After"); retryAfter != "" {
				if seconds, err := strconv.Atoi(retryAfter); err == nil {
					return time.Duration(seconds) * time.Second, nil
				}
			}

			return time.Second, nil
		}).
		AddRetryCondition(func(r *resty.Response, _ error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})

	return client
}

func (c *Client) ID() module.ID { return ID }

func (c *Client) Name() string { return Name }

func (c *Client) Domain() *url.URL { return c.site }

// GetInfo fetches the manga and its whole chapter feed concurrently.
func (c *Client) GetInfo(ctx context.Context, u *url.URL) (*module.MangaInfo, error) {
	id := mangaIDPattern.FindString(u.Path)
	if id == "" {
		return nil, &module.URLParseError{Input: u.String(), Err: errors.New("no manga id in url")}
	}

	var (
		manga    *module.MangaInfo
		chapters []module.ChapterInfo
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		manga, err = c.getManga(gctx, id)

		return err
	})

	g.Go(func() error {
		var err error
		chapters, err = c.getChapters(gctx, id)

		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	manga.Chapters = chapters

	logctx.LoggerFromContext(ctx).Debug("manga info fetched",
		"module_name", Name,
		"manga_id", id,
		"chapters", len(chapters),
	)

	return manga, nil
}

func (c *Client) getManga(ctx context.Context, id string) (*module.MangaInfo, error) {
	var resp mangaResponse

	params := url.Values{"includes[]": {"author", "artist", "cover_art"}}
	if err := c.getJSON(ctx, "/manga/"+id, params, &resp); err != nil {
		return nil, err
	}

	attrs := resp.Data.Attributes

	info := &module.MangaInfo{
		ID:      id,
		Title:   localized(attrs.Title),
		Summary: localized(attrs.Description),
		Type:    module.MangaTypeSeries,
	}

	for _, tag := range attrs.Tags {
		if name := tag.Attributes.Name["en"]; name != "" {
			info.Genres = append(info.Genres, name)
		}
	}

	for _, extra := range []string{attrs.ContentRating, attrs.PublicationDemographic} {
		if extra != "" {
			info.Genres = append(info.Genres, extra)
		}
	}

	for _, rel := range resp.Data.Relationships {
		switch rel.Type {
		case "author":
			info.Authors = append(info.Authors, rel.Attributes.Name)
		case "artist":
			info.Artists = append(info.Artists, rel.Attributes.Name)
		case "cover_art":
			if rel.Attributes.FileName != "" {
				info.CoverLink = c.coverURL + "/" + id + "/" + rel.Attributes.FileName
			}
		}
	}

	return info, nil
}

func (c *Client) getChapters(ctx context.Context, id string) ([]module.ChapterInfo, error) {
	var chapters []module.ChapterInfo

	for offset, total := 0, 1; offset < total; {
		params := url.Values{
			"offset":          {strconv.Itoa(offset)},
			"limit":           {strconv.Itoa(feedPageSize)},
			"includes[]":      {"scanlation_group"},
			"contentRating[]": {"safe", "suggestive", "erotica", "pornographic"},
			"order[volume]":   {"asc"},
			"order[chapter]":  {"asc"},
		}
		params["translatedLanguage[]"] = c.languages

		var resp feedResponse
		if err := c.getJSON(ctx, "/manga/"+id+"/feed", params, &resp); err != nil {
			return nil, err
		}

		for _, ch := range resp.Data {
			chapters = append(chapters, ch.toChapterInfo())
		}

		if resp.Limit <= 0 || len(resp.Data) == 0 {
			break
		}

		total = resp.Total
		offset += resp.Limit
	}

	return chapters, nil
}

// GetChapterImages asks the at-home server for the chapter pages. Image ids
// are the full page urls.
func (c *Client) GetChapterImages(ctx context.Context, chapterID string, sink module.ImageSink) error {
	var resp atHomeResponse
	if err := c.getJSON(ctx, "/at-home/server/"+chapterID, nil, &resp); err != nil {
		return err
	}

	base := strings.TrimSuffix(resp.BaseURL, "/")

	for _, file := range resp.Chapter.Data {
		sink.Add(module.ImageDescriptor{
			ID:        base + "/data/" + resp.Chapter.Hash + "/" + file,
			Extension: strings.TrimPrefix(path.Ext(file), "."),
		})
	}

	return nil
}

// DownloadImage opens the page body. The caller closes it.
func (c *Client) DownloadImage(ctx context.Context, image module.ImageDescriptor) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(image.ID)
	if err != nil {
		return nil, &module.RequestError{URL: image.ID, Message: "request failed", Err: err}
	}

	body := resp.RawBody()

	if resp.IsError() {
		body.Close()

		return nil, &module.RequestError{URL: image.ID, Message: resp.Status()}
	}

	return body, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out apiResult) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	target := c.apiURL + endpoint

	var apiErr envelope

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParamsFromValues(params).
		SetResult(out).
		SetError(&apiErr).
		Get(target)
	if err != nil {
		return &module.RequestError{URL: target, Message: "request failed", Err: err}
	}

	if resp.IsError() {
		message := apiErr.message()
		if message == "" {
			message = resp.Status()
		}

		return &module.RequestError{URL: target, Message: message}
	}

	if env := out.result(); env.Result == "error" {
		return &module.RequestError{URL: target, Message: env.message()}
	}

	return nil
}

// localized prefers English, then Japanese, then the first language in
// alphabetical order.
func localized(values map[string]string) string {
	for _, lang := range []string{"en", "ja"} {
		if v := values[lang]; v != "" {
			return v
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		if values[k] != "" {
			return values[k]
		}
	}

	return ""
}

type discardLogger struct{}

func (discardLogger) Errorf(string, ...interface{}) {}
func (discardLogger) Warnf(string, ...interface{})  {}
func (discardLogger) Debugf(string, ...interface{}) {}

var _ module.Module = (*Client)(nil)
