package question

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"quizalarm/internal/alarm"
)

var ErrRemote = errors.New("remote question service error")

type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// RemoteClient talks to the question HTTP API:
//
//	POST /v1/questions  {category, format}                 -> remoteQuestion
//	POST /v1/judge      {question, correct_answer, answer} -> {"correct": bool}
type RemoteClient struct {
	http *resty.Client

	mu     sync.RWMutex
	apiKey string
}

type remoteQuestion struct {
	ID       string         `json:"id"`
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Category string         `json:"category"`
	Format   string         `json:"format"`
	Options  []remoteOption `json:"options"`
}

type remoteOption struct {
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

type remoteJudge struct {
	Correct bool `json:"correct"`
}

type remoteError struct {
	Error string `json:"error"`
}

func NewRemoteClient(cfg RemoteConfig) *RemoteClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &RemoteClient{http: c, apiKey: cfg.APIKey}
}

// SetAPIKey rotates the bearer token used by later requests.
func (c *RemoteClient) SetAPIKey(key string) {
	c.mu.Lock()
	c.apiKey = key
	c.mu.Unlock()
}

func (c *RemoteClient) request(ctx context.Context) *resty.Request {
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	r := c.http.R().SetContext(ctx).SetError(&remoteError{})
	if key != "" {
		r.SetAuthToken(key)
	}
	return r
}

func (c *RemoteClient) Generate(ctx context.Context, req Request) (alarm.Question, error) {
	var out remoteQuestion
	resp, err := c.request(ctx).SetBody(req).SetResult(&out).Post("/v1/questions")
	if err := checkResponse(resp, err); err != nil {
		return alarm.Question{}, err
	}
	format := alarm.Format(out.Format)
	if !format.Valid() {
		format = req.Format
		if len(out.Options) > 0 {
			format = alarm.FormatMultipleChoice
		}
	}
	q := alarm.Question{
		ID:            out.ID,
		Text:          strings.TrimSpace(out.Question),
		CorrectAnswer: strings.TrimSpace(out.Answer),
		Category:      alarm.Category(out.Category),
		Format:        format,
	}
	if format == alarm.FormatMultipleChoice {
		for _, o := range out.Options {
			q.Options = append(q.Options, alarm.Option{Text: strings.TrimSpace(o.Text), Correct: o.Correct})
		}
		if opt, ok := q.CorrectOption(); ok && q.CorrectAnswer == "" {
			q.CorrectAnswer = opt.Text
		}
	}
	if err := q.Validate(); err != nil {
		return alarm.Question{}, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	return q, nil
}

func (c *RemoteClient) Judge(ctx context.Context, req JudgeRequest) (bool, error) {
	var out remoteJudge
	resp, err := c.request(ctx).SetBody(req).SetResult(&out).Post("/v1/judge")
	if err := checkResponse(resp, err); err != nil {
		return false, err
	}
	return out.Correct, nil
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRemote, err)
	}
	if resp.StatusCode() == http.StatusOK {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*remoteError); ok && e.Error != "" {
		msg = e.Error
	}
	return fmt.Errorf("%w: status %d: %s", ErrRemote, resp.StatusCode(), msg)
}
