package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"delivery-zone/internal/logger"
	"delivery-zone/internal/metrics"
)

const (
	DefaultEndpoint       = "https://maps.googleapis.com/maps/api/geocode/json"
	DefaultAttemptTimeout = 5 * time.Second
)

// 文档注释：地理编码服务响应结构
// 背景：只解析坐标与格式化地址，其余字段忽略。
type Response struct {
	Status       string   `json:"status"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Results      []Result `json:"results"`
}

type Result struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// Client：地理编码客户端，可并发使用
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	retry    RetryPolicy
}

type Option func(*Client)

func WithEndpoint(u string) Option { return func(c *Client) { c.endpoint = u } }

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithAttemptTimeout：单次请求超时（不含重试等待）
func WithAttemptTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func WithRetryPolicy(p RetryPolicy) Option { return func(c *Client) { c.retry = p } }

func New(opts ...Option) *Client {
	c := &Client{
		endpoint: DefaultEndpoint,
		http:     &http.Client{},
		timeout:  DefaultAttemptTimeout,
		retry:    DefaultRetryPolicy(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewFromEnv：读取 GEOCODING_ENDPOINT 与 GEOCODING_TIMEOUT_MS
func NewFromEnv(opts ...Option) *Client {
	var base []Option
	if v := strings.TrimSpace(os.Getenv("GEOCODING_ENDPOINT")); v != "" {
		base = append(base, WithEndpoint(v))
	}
	if v := strings.TrimSpace(os.Getenv("GEOCODING_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			base = append(base, WithAttemptTimeout(time.Duration(n)*time.Millisecond))
		}
	}
	return New(append(base, opts...)...)
}

// 文档注释：解析地址为坐标
// 参数：address 为用户输入的自由文本；apiKey 为服务密钥。
// 返回：有类型的 Outcome，不返回 error；瞬时错误按 RetryPolicy 重试。
// 约束：密钥为空直接返回 Denied，地址为空直接返回 NotFound，均不发出请求。
func (c *Client) Resolve(ctx context.Context, address, apiKey string) Outcome {
	address = strings.TrimSpace(address)
	if apiKey == "" {
		metrics.GeocodeOutcomesTotal.WithLabelValues(Denied.String()).Inc()
		return Outcome{Kind: Denied, Cause: errors.New("missing api key")}
	}
	if address == "" {
		metrics.GeocodeOutcomesTotal.WithLabelValues(NotFound.String()).Inc()
		return Outcome{Kind: NotFound, Cause: errors.New("empty address")}
	}
	out := c.retry.Do(ctx, func(ctx context.Context) Outcome { return c.attempt(ctx, address, apiKey) })
	metrics.GeocodeOutcomesTotal.WithLabelValues(out.Kind.String()).Inc()
	if out.Kind != Resolved {
		logger.L().Warn("geocode_failed", "kind", out.Kind.String(), "status", out.Status, "attempts", out.Attempts, "err", out.Cause)
	}
	return out
}

func (c *Client) attempt(ctx context.Context, address, apiKey string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	q := url.Values{}
	q.Set("address", address)
	q.Set("key", apiKey)
	u := c.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Outcome{Kind: Transient, Cause: err}
	}
	t0 := time.Now()
	metrics.GeocodeRequestsTotal.Inc()
	logger.L().Debug("geocode_req", "address_len", len(address))
	resp, err := c.http.Do(req)
	if err != nil {
		logger.L().Error("geocode_http_error", "err", err)
		return Outcome{Kind: Transient, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Outcome{Kind: Transient, Cause: fmt.Errorf("http status %d", resp.StatusCode)}
	}
	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		logger.L().Error("geocode_decode_error", "err", err)
		return Outcome{Kind: Transient, Cause: err}
	}
	dur := time.Since(t0).Milliseconds()
	metrics.GeocodeDurationMs.Observe(float64(dur))
	logger.L().Debug("geocode_resp", "status", r.Status, "results", len(r.Results), "duration_ms", dur)
	return Classify(r)
}

// 文档注释：按服务返回的 status 分类
// OK→Resolved（无结果视为 NotFound），ZERO_RESULTS→NotFound，OVER_QUERY_LIMIT→QuotaExceeded，
// REQUEST_DENIED→Denied，其余→Transient。
func Classify(r Response) Outcome {
	out := Outcome{Status: r.Status}
	if r.ErrorMessage != "" {
		out.Cause = errors.New(r.ErrorMessage)
	}
	switch r.Status {
	case "OK":
		if len(r.Results) == 0 {
			out.Kind = NotFound
			return out
		}
		first := r.Results[0]
		out.Kind = Resolved
		out.Lat = first.Geometry.Location.Lat
		out.Lng = first.Geometry.Location.Lng
		out.FormattedAddress = first.FormattedAddress
	case "ZERO_RESULTS":
		out.Kind = NotFound
	case "OVER_QUERY_LIMIT":
		out.Kind = QuotaExceeded
	case "REQUEST_DENIED":
		out.Kind = Denied
	default:
		out.Kind = Transient
	}
	return out
}
