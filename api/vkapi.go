package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brettboylen/vkcommunities/metrics"
	"github.com/brettboylen/vkcommunities/utils"
)

const (
	defaultBaseURL = "https://api.vk.com/method/"
	defaultVersion = "5.74"

	// CommunitiesPerRequest is the max number of ids in one groups.getById call
	CommunitiesPerRequest = 500

	communityFields     = "type,is_closed,verified,age_limits,name,description,members_count,status,photo_50,photo_100"
	wallPostsPerRequest = 100

	// error code returned by wall.get for closed and private groups
	errCodeAccessDenied = 15

	minNetworkErrorsBeforeAlarm         = 30
	minNetworkErrorsDurationBeforeAlarm = 60 * time.Second
)

var (
	// ErrTryAgain marks a transient failure; the caller should retry the same call
	ErrTryAgain = errors.New("vk api: try again")
	// ErrNoTokens is returned when the client is built without credentials
	ErrNoTokens = errors.New("vk api: no tokens available")
	// ErrTooManyIDs is returned when a lookup exceeds CommunitiesPerRequest
	ErrTooManyIDs = errors.New("vk api: too many ids")
)

// Error is the application error envelope {"error": {...}} of the API
type Error struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_msg"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("VK API error %d: %s", e.Code, e.Message)
}

// Options configures a Client. Zero values fall back to the defaults.
type Options struct {
	BaseURL          string
	Version          string
	RequestDelay     time.Duration // min interval between metadata calls per token
	WallRequestDelay time.Duration // min interval between wall calls per token
	HTTPTimeout      time.Duration
	HTTPClient       *http.Client
	Metrics          *metrics.Metrics
}

// token is one API credential with a cooldown per operation type
type token struct {
	key      string
	next     time.Time // earliest start of a metadata call
	wallNext time.Time // earliest start of a wall call
}

// availableAt is the earliest start of the next call of the operation.
// A wall call also spends the metadata budget of the token.
func (t *token) availableAt(wall bool) time.Time {
	if wall && t.wallNext.After(t.next) {
		return t.wallNext
	}
	return t.next
}

// Client is a VK API client sharing a pool of tokens between callers.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	log        *logrus.Logger
	metrics    *metrics.Metrics

	requestDelay     time.Duration
	wallRequestDelay time.Duration

	mutex         sync.Mutex
	tokens        []*token
	lastSuccess   time.Time
	networkErrors int // since the last successful request

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new API client over the given token keys
func NewClient(keys []string, opts Options, log *logrus.Logger) (*Client, error) {
	if len(keys) == 0 {
		return nil, ErrNoTokens
	}

	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if !strings.HasSuffix(opts.BaseURL, "/") {
		opts.BaseURL += "/"
	}
	if opts.Version == "" {
		opts.Version = defaultVersion
	}
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = 500 * time.Millisecond
	}
	if opts.WallRequestDelay <= 0 {
		opts.WallRequestDelay = 9 * time.Second
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 60 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.HTTPTimeout}
	}

	tokens := make([]*token, 0, len(keys))
	for _, key := range keys {
		tokens = append(tokens, &token{key: key})
	}

	log.WithFields(logrus.Fields{
		"tokens":             len(tokens),
		"request_delay":      opts.RequestDelay.String(),
		"wall_request_delay": opts.WallRequestDelay.String(),
		"version":            opts.Version,
	}).Info("VK API client initialized")

	return &Client{
		baseURL:          opts.BaseURL,
		version:          opts.Version,
		httpClient:       opts.HTTPClient,
		log:              log,
		metrics:          opts.Metrics,
		requestDelay:     opts.RequestDelay,
		wallRequestDelay: opts.WallRequestDelay,
		tokens:           tokens,
		lastSuccess:      time.Now(),
		now:              time.Now,
		sleep:            utils.SleepContext,
	}, nil
}

// FetchCommunities looks up communities by id. Ids the API cannot resolve
// are absent from the result.
func (c *Client) FetchCommunities(ctx context.Context, ids []int64) (map[int64]GroupRecord, error) {
	if len(ids) > CommunitiesPerRequest {
		return nil, fmt.Errorf("%w: %d (max=%d)", ErrTooManyIDs, len(ids), CommunitiesPerRequest)
	}
	if len(ids) == 0 {
		return map[int64]GroupRecord{}, nil
	}

	tok, err := c.acquire(ctx, false)
	if err != nil {
		return nil, err
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = strconv.FormatInt(id, 10)
	}

	params := url.Values{}
	params.Set("group_ids", strings.Join(strIDs, ","))
	params.Set("fields", communityFields)

	response, err := c.call(ctx, tok, "groups.getById", params)
	if err != nil {
		var apiErr *Error
		if errors.As(err, &apiErr) {
			c.log.WithFields(logrus.Fields{
				"token":      maskToken(tok.key),
				"error_code": apiErr.Code,
			}).WithError(apiErr).Warn("groups.getById returned an error")
			return nil, fmt.Errorf("%w: %w", ErrTryAgain, apiErr)
		}
		return nil, err
	}

	var records []GroupRecord
	if err := json.Unmarshal(response, &records); err != nil {
		c.metrics.APIRequest("groups.getById", "malformed")
		return nil, fmt.Errorf("%w: failed to decode communities: %v", ErrTryAgain, err)
	}

	result := make(map[int64]GroupRecord, len(records))
	for _, record := range records {
		result[record.ID] = record
	}

	c.log.WithFields(logrus.Fields{
		"requested": len(ids),
		"resolved":  len(result),
	}).Debug("Fetched communities")

	return result, nil
}

// FetchWall fetches the latest posts of a community wall. A closed or
// private community yields a Wall with Inaccessible set and a nil error.
func (c *Client) FetchWall(ctx context.Context, communityID int64) (*Wall, error) {
	tok, err := c.acquire(ctx, true)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("owner_id", "-"+strconv.FormatInt(communityID, 10))
	params.Set("offset", "0")
	params.Set("count", strconv.Itoa(wallPostsPerRequest))
	params.Set("filter", "all")

	response, err := c.call(ctx, tok, "wall.get", params)
	if err != nil {
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			return nil, err
		}
		c.log.WithFields(logrus.Fields{
			"community":  communityID,
			"token":      maskToken(tok.key),
			"error_code": apiErr.Code,
		}).WithError(apiErr).Warn("wall.get returned an error")
		if apiErr.Code == errCodeAccessDenied {
			return &Wall{Inaccessible: true}, nil
		}
		return nil, fmt.Errorf("%w: %w", ErrTryAgain, apiErr)
	}

	var result struct {
		Items []WallPost `json:"items"`
	}
	if err := json.Unmarshal(response, &result); err != nil {
		c.metrics.APIRequest("wall.get", "malformed")
		return nil, fmt.Errorf("%w: failed to decode wall of %d: %v", ErrTryAgain, communityID, err)
	}

	if len(result.Items) == 0 {
		c.log.WithField("community", communityID).Warn("Got an empty wall")
	}

	return &Wall{Items: result.Items}, nil
}

// acquire picks the token that becomes available first for the operation,
// reserves it and waits outside the lock until the reservation is due
func (c *Client) acquire(ctx context.Context, wall bool) (*token, error) {
	c.mutex.Lock()
	now := c.now()

	tok := c.pick(wall)
	start := tok.availableAt(wall)
	if start.Before(now) {
		start = now
	}

	// both operations share the same backend budget of the token
	tok.next = start.Add(c.requestDelay)
	if wall {
		tok.wallNext = start.Add(c.wallRequestDelay)
	}
	c.mutex.Unlock()

	if err := c.sleep(ctx, start.Sub(now)); err != nil {
		return nil, err
	}
	return tok, nil
}

// pick returns the token available first, the earliest in the pool on ties.
// Must hold c.mutex.
func (c *Client) pick(wall bool) *token {
	best := c.tokens[0]
	for _, t := range c.tokens[1:] {
		if t.availableAt(wall).Before(best.availableAt(wall)) {
			best = t
		}
	}
	return best
}

// call performs a single API method call and unwraps the response envelope
func (c *Client) call(ctx context.Context, tok *token, method string, params url.Values) (json.RawMessage, error) {
	params.Set("access_token", tok.key)
	params.Set("v", c.version)

	// in-flight requests are left to finish or time out on their own
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, c.baseURL+method, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.networkFailure(method, err)
		return nil, fmt.Errorf("%w: %s request failed: %v", ErrTryAgain, method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.networkFailure(method, err)
		return nil, fmt.Errorf("%w: failed to read %s response: %v", ErrTryAgain, method, err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s request failed with status %d", method, resp.StatusCode)
		c.networkFailure(method, err)
		return nil, fmt.Errorf("%w: %v", ErrTryAgain, err)
	}
	c.networkSuccess()

	var envelope struct {
		Response json.RawMessage `json:"response"`
		Error    *Error          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.metrics.APIRequest(method, "malformed")
		return nil, fmt.Errorf("%w: failed to decode %s response: %v", ErrTryAgain, method, err)
	}

	if len(envelope.Response) == 0 || string(envelope.Response) == "null" {
		c.metrics.APIRequest(method, "error")
		if envelope.Error == nil {
			return nil, &Error{Message: "unknown VK API error"}
		}
		return nil, envelope.Error
	}

	c.metrics.APIRequest(method, "ok")
	return envelope.Response, nil
}

func (c *Client) networkSuccess() {
	c.mutex.Lock()
	c.lastSuccess = c.now()
	c.networkErrors = 0
	c.mutex.Unlock()
}

// networkFailure counts transport errors and raises an alert once they
// exceed both the count and the duration thresholds
func (c *Client) networkFailure(method string, err error) {
	c.metrics.APIRequest(method, "network")
	c.log.WithField("method", method).WithError(err).Warn("VK API network error")

	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	c.networkErrors++
	duration := now.Sub(c.lastSuccess)
	if c.networkErrors < minNetworkErrorsBeforeAlarm || duration < minNetworkErrorsDurationBeforeAlarm {
		return
	}

	c.log.WithFields(logrus.Fields{
		"errors": c.networkErrors,
		"since":  c.lastSuccess.Format(time.RFC3339),
	}).Error("VK API is unreachable")
	c.metrics.OutageAlert()

	c.lastSuccess = now
	c.networkErrors = 0
}

// maskToken hides all but the last characters of a token for logging
func maskToken(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
