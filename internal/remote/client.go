package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"rollcall/internal/models"
)

// Client posts tasks to the spreadsheet web-app endpoint as form data.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	location   *time.Location
}

// Response is the structured body returned by the endpoint.
type Response struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// NewClient constructs a client. A zero timeout means the default; a nil
// location means time.Local.
func NewClient(timeout time.Duration, loc *time.Location) *Client {
	if timeout <= 0 {
		timeout = models.DefaultRequestTimeout
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		httpClient: &http.Client{},
		timeout:    timeout,
		location:   loc,
	}
}

// Send performs exactly one POST for task and classifies the outcome.
func (c *Client) Send(ctx context.Context, endpoint string, task models.SyncTask) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body := EncodeForm(FormValues(task, c.location))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return &DeliveryError{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, err, c.timeout)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, err, c.timeout)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DeliveryError{
			Kind:       KindHTTPStatus,
			StatusCode: resp.StatusCode,
			Snippet:    Snippet(string(raw)),
		}
	}
	return interpret(raw)
}

// interpret decides success from a 2xx body. A JSON object whose result is
// the success marker is the only accepted shape.
func interpret(raw []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return &DeliveryError{Kind: KindMalformed, Snippet: Snippet(string(raw)), Err: err}
	}

	var parsed Response
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return &DeliveryError{Kind: KindMalformed, Snippet: Snippet(string(raw)), Err: err}
	}
	if parsed.Result != models.ResultSuccess {
		reason := parsed.Message
		if reason == "" && parsed.Result != "" {
			reason = parsed.Result
		}
		return &DeliveryError{Kind: KindRejected, Reason: reason, Snippet: Snippet(string(raw))}
	}
	return nil
}

func classifyTransport(ctx context.Context, err error, timeout time.Duration) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return &DeliveryError{Kind: KindTimeout, Timeout: timeout, Err: err}
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return &DeliveryError{Kind: KindTimeout, Timeout: timeout, Err: err}
	}
	return &DeliveryError{Kind: KindNetwork, Err: err}
}

// FormValues returns the ordered fields to transmit: task data followed by
// customDate.
func FormValues(task models.SyncTask, loc *time.Location) models.Fields {
	return task.Data.With(models.FieldCustomDate, CustomDate(EventTimeMs(task), loc))
}

// EventTimeMs is the record's event time. The timestamp carried in the data
// wins over the task bookkeeping field.
func EventTimeMs(task models.SyncTask) int64 {
	if v, ok := task.Data.Get(models.FieldTimestamp); ok {
		if ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && ms > 0 {
			return ms
		}
	}
	return task.Timestamp
}

// CustomDate formats an epoch-ms timestamp as dd/MM/yyyy in loc.
func CustomDate(ms int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.UnixMilli(ms).In(loc).Format(models.CustomDateLayout)
}

// EncodeForm url-encodes fields keeping their order.
func EncodeForm(fields models.Fields) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f.Value))
	}
	return b.String()
}
