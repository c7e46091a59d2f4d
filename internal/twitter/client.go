// Package twitter fetches public account metrics from the Twitter v1.1 REST API.
package twitter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bot-scorer/internal/features"
	"bot-scorer/internal/snapshot"

	"github.com/go-resty/resty/v2"
)

// TimeLayout is the timestamp format used by the v1.1 API.
const TimeLayout = "Mon Jan 02 15:04:05 -0700 2006"

const (
	DefaultBaseURL = "https://api.twitter.com"

	usersShowPath    = "/1.1/users/show.json"
	userTimelinePath = "/1.1/statuses/user_timeline.json"
)

var ErrMissingLookup = errors.New("twitter: lookup needs a twitter id or a screen name")

type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
	RetryCount  int
	RetryWait   time.Duration
}

type Client struct {
	base string
	rest *resty.Client
}

func New(cfg Config) *Client {
	r := resty.New()
	if cfg.Timeout > 0 {
		r.SetTimeout(cfg.Timeout)
	} else {
		r.SetTimeout(10 * time.Second) // default fallback
	}
	if cfg.BearerToken != "" {
		r.SetAuthToken(cfg.BearerToken)
	}
	if cfg.RetryCount > 0 {
		r.SetRetryCount(cfg.RetryCount)
		if cfg.RetryWait > 0 {
			r.SetRetryWaitTime(cfg.RetryWait)
			r.SetRetryMaxWaitTime(4 * cfg.RetryWait)
		}
		r.AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= http.StatusInternalServerError
		})
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{base: base, rest: r}
}

// Lookup selects an account by id, or by screen name when the id is zero.
type Lookup struct {
	TwitterID  int64
	ScreenName string
}

func (l Lookup) params() (map[string]string, error) {
	switch {
	case l.TwitterID != 0:
		return map[string]string{"user_id": strconv.FormatInt(l.TwitterID, 10)}, nil
	case l.ScreenName != "":
		return map[string]string{"screen_name": l.ScreenName}, nil
	default:
		return nil, ErrMissingLookup
	}
}

// User is the subset of the v1.1 user object the scorer reads.
type User struct {
	ID              int64   `json:"id"`
	ScreenName      string  `json:"screen_name"`
	Name            string  `json:"name"`
	Location        string  `json:"location"`
	URL             *string `json:"url"`
	Description     string  `json:"description"`
	CreatedAt       string  `json:"created_at"`
	StatusesCount   int64   `json:"statuses_count"`
	FollowersCount  int64   `json:"followers_count"`
	FriendsCount    int64   `json:"friends_count"`
	FavouritesCount int64   `json:"favourites_count"`
	ListedCount     int64   `json:"listed_count"`
	DefaultProfile  bool    `json:"default_profile"`
	Verified        bool    `json:"verified"`
	Protected       bool    `json:"protected"`
}

type Tweet struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
}

type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Errors []APIError `json:"errors"`
}

// AccountError is returned when the API refuses an account: suspended,
// not found, protected, or rate limited.
type AccountError struct {
	Status  int
	Code    int
	Message string
}

func (e *AccountError) Error() string {
	return e.Message
}

type userResponse struct {
	User
	errorResponse
}

// GetUser calls users/show. Refusals come back as *AccountError.
func (c *Client) GetUser(ctx context.Context, l Lookup) (User, error) {
	params, err := l.params()
	if err != nil {
		return User{}, err
	}

	result := &userResponse{}
	apiErr := &errorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(result).
		SetError(apiErr).
		Get(c.base + usersShowPath)
	if err != nil {
		return User{}, fmt.Errorf("users/show request failed: %w", err)
	}

	if err := checkResponse(resp, apiErr.Errors); err != nil {
		return User{}, err
	}
	if len(result.Errors) > 0 {
		return User{}, accountError(resp.StatusCode(), result.Errors)
	}
	return result.User, nil
}

// LatestTweet calls user_timeline with count=1. It returns nil when the
// timeline is empty.
func (c *Client) LatestTweet(ctx context.Context, l Lookup) (*Tweet, error) {
	params, err := l.params()
	if err != nil {
		return nil, err
	}
	params["count"] = "1"

	var tweets []Tweet
	apiErr := &errorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&tweets).
		SetError(apiErr).
		Get(c.base + userTimelinePath)
	if err != nil {
		return nil, fmt.Errorf("user_timeline request failed: %w", err)
	}

	if err := checkResponse(resp, apiErr.Errors); err != nil {
		return nil, err
	}
	if len(tweets) == 0 {
		return nil, nil
	}
	return &tweets[0], nil
}

func checkResponse(resp *resty.Response, errs []APIError) error {
	status := resp.StatusCode()
	switch {
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("API error: status %d, body: %s", status, resp.String())
	case status >= http.StatusBadRequest:
		return accountError(status, errs)
	}
	return nil
}

func accountError(status int, errs []APIError) *AccountError {
	e := &AccountError{Status: status}
	if len(errs) > 0 {
		e.Code = errs[0].Code
		e.Message = errs[0].Message
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// FetchByID implements tracker.Fetcher.
func (c *Client) FetchByID(ctx context.Context, twitterID int64) (snapshot.RawMetrics, error) {
	return c.Fetch(ctx, Lookup{TwitterID: twitterID})
}

// FetchByScreenName implements tracker.Fetcher.
func (c *Client) FetchByScreenName(ctx context.Context, screenName string) (snapshot.RawMetrics, error) {
	return c.Fetch(ctx, Lookup{ScreenName: screenName})
}

// Fetch collects the account's profile and latest post. An account the API
// refuses yields RawMetrics with UpstreamError set and a nil error.
func (c *Client) Fetch(ctx context.Context, l Lookup) (snapshot.RawMetrics, error) {
	user, err := c.GetUser(ctx, l)
	if err != nil {
		var accErr *AccountError
		if errors.As(err, &accErr) {
			return snapshot.RawMetrics{
				TwitterID:     l.TwitterID,
				ScreenName:    l.ScreenName,
				UpstreamError: accErr.Message,
			}, nil
		}
		return snapshot.RawMetrics{}, err
	}

	raw, err := user.metrics()
	if err != nil {
		return snapshot.RawMetrics{}, err
	}

	tweet, err := c.LatestTweet(ctx, Lookup{TwitterID: user.ID, ScreenName: user.ScreenName})
	if err != nil {
		var accErr *AccountError
		if !errors.As(err, &accErr) {
			return snapshot.RawMetrics{}, err
		}
		// Timeline refused, e.g. protected account: last post stays unknown.
		return raw, nil
	}
	if tweet != nil {
		postedAt, err := ParseTime(tweet.CreatedAt)
		if err != nil {
			return snapshot.RawMetrics{}, fmt.Errorf("tweet %d: %w", tweet.ID, err)
		}
		raw.LastPostAt = &postedAt
	}
	return raw, nil
}

func (u User) metrics() (snapshot.RawMetrics, error) {
	createdAt, err := ParseTime(u.CreatedAt)
	if err != nil {
		return snapshot.RawMetrics{}, fmt.Errorf("user %d: %w", u.ID, err)
	}

	raw := snapshot.RawMetrics{
		TwitterID:   u.ID,
		ScreenName:  u.ScreenName,
		Name:        u.Name,
		Location:    u.Location,
		Description: u.Description,
		CreatedAt:   createdAt,
		Features: features.Features{
			StatusesCount:   u.StatusesCount,
			FollowersCount:  u.FollowersCount,
			FriendsCount:    u.FriendsCount,
			FavouritesCount: u.FavouritesCount,
			ListedCount:     u.ListedCount,
			DefaultProfile:  u.DefaultProfile,
			Verified:        u.Verified,
			Protected:       u.Protected,
		},
	}
	if u.URL != nil {
		raw.URL = *u.URL
	}
	return raw, nil
}

// ParseTime parses a v1.1 timestamp into UTC.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse twitter time %q: %w", s, err)
	}
	return t.UTC(), nil
}
