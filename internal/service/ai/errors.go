package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// Kind 表示补全失败的类别。
type Kind string

const (
	KindRateLimited   Kind = "rate_limited"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindTransient     Kind = "transient"
	KindMalformed     Kind = "malformed"
)

// ErrEmptyResponse 表示服务端没有返回任何候选。
var ErrEmptyResponse = errors.New("completion returned no choices")

// CompletionError 是所有 Completer 返回的错误类型。
// 服务端未给出提示时 RetryAfter 为零。
type CompletionError struct {
	Kind       Kind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *CompletionError) Error() string {
	msg := fmt.Sprintf("completion %s", e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" retry after %s", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CompletionError) Unwrap() error { return e.Err }

// RetryAfterSeconds 将等待时间向上取整为秒。
func (e *CompletionError) RetryAfterSeconds() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	secs := int(e.RetryAfter / time.Second)
	if e.RetryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

var (
	statusPattern  = regexp.MustCompile(`(?i)(?:status ?code|error code|http status)[:=\s]+(\d{3})`)
	tryAgainIn     = regexp.MustCompile(`(?i)try again in ([0-9]+(?:\.[0-9]+)?)s`)
	quotaPattern   = regexp.MustCompile(`(?i)insufficient_quota|quota exceeded|exceeded your current quota|billing`)
	malformedHints = regexp.MustCompile(`(?i)invalid character|unexpected end of json|cannot unmarshal`)
)

// Classify 将任意服务端错误归类为 *CompletionError。nil 返回 nil，
// 已经是 CompletionError 的错误原样返回。
func Classify(err error) *CompletionError {
	if err == nil {
		return nil
	}

	var ce *CompletionError
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &CompletionError{Kind: KindTransient, Err: err}
	}
	if errors.Is(err, ErrEmptyResponse) {
		return &CompletionError{Kind: KindMalformed, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code := ""
		if s, ok := apiErr.Code.(string); ok {
			code = s
		}
		return fromStatus(apiErr.HTTPStatusCode, code+" "+apiErr.Type+" "+apiErr.Message, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatus(reqErr.HTTPStatusCode, string(reqErr.Body), err)
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return fromStatus(statusErr.StatusCode, statusErr.ErrorMessage, err)
	}

	text := err.Error()
	if m := statusPattern.FindStringSubmatch(text); m != nil {
		status, _ := strconv.Atoi(m[1])
		return fromStatus(status, text, err)
	}
	if malformedHints.MatchString(text) {
		return &CompletionError{Kind: KindMalformed, Err: err}
	}
	return &CompletionError{Kind: KindTransient, Err: err}
}

func fromStatus(status int, detail string, err error) *CompletionError {
	ce := &CompletionError{Status: status, Err: err}
	switch {
	case status == http.StatusTooManyRequests && quotaPattern.MatchString(detail):
		ce.Kind = KindQuotaExceeded
	case status == http.StatusTooManyRequests:
		ce.Kind = KindRateLimited
	case status == http.StatusPaymentRequired || (status == http.StatusForbidden && quotaPattern.MatchString(detail)):
		ce.Kind = KindQuotaExceeded
	case status == http.StatusServiceUnavailable:
		// 带重试提示的 503 按限流处理。
		ce.Kind = KindTransient
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		ce.Kind = KindMalformed
	default:
		ce.Kind = KindTransient
	}
	if m := tryAgainIn.FindStringSubmatch(detail); m != nil {
		if secs, perr := strconv.ParseFloat(m[1], 64); perr == nil {
			ce.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return ce
}

// withRetryAfter 附加从响应头解析的等待时间，带提示的 503 会变为 RateLimited。
func withRetryAfter(ce *CompletionError, d time.Duration) *CompletionError {
	if ce == nil || d <= 0 {
		return ce
	}
	ce.RetryAfter = d
	if ce.Status == http.StatusServiceUnavailable && ce.Kind == KindTransient {
		ce.Kind = KindRateLimited
	}
	return ce
}

// ParseRetryAfter 解析 Retry-After 头，支持秒数与 HTTP 日期两种格式。
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
