/*
Package backend reports subscription schedule state to the GraphQL API.

Every call is authenticated with a short-lived token scoped to the
subscription's owner and is guarded by a circuit breaker.
*/
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Nexora-Open-Source/rss-feed-poller/monitoring"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/Nexora-Open-Source/rss-feed-poller/utils"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
)

const updateSubscriptionMutation = `mutation UpdateSubscription($input: UpdateSubscriptionInput!) {
  updateSubscription(input: $input) {
    ... on UpdateSubscriptionSuccess {
      subscription {
        id
        lastFetchedAt
      }
    }
    ... on UpdateSubscriptionError {
      errorCodes
    }
  }
}`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type updateSubscriptionInput struct {
	ID                  string `json:"id"`
	LastFetchedAt       string `json:"lastFetchedAt"`
	LastFetchedChecksum string `json:"lastFetchedChecksum"`
	ScheduledAt         string `json:"scheduledAt"`
}

type updateSubscriptionResponse struct {
	Data struct {
		UpdateSubscription struct {
			Subscription *struct {
				ID string `json:"id"`
			} `json:"subscription"`
			ErrorCodes []string `json:"errorCodes"`
		} `json:"updateSubscription"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Client calls the backend GraphQL API
type Client struct {
	endpoint string
	signer   *TokenSigner
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[bool]
	logger   *logrus.Logger
}

// NewClient creates a backend client; breakerSettings configures the breaker
// around every mutation
func NewClient(endpoint string, signer *TokenSigner, timeout time.Duration, breakerSettings utils.BreakerSettings, logger *logrus.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		signer:   signer,
		client:   &http.Client{Timeout: timeout},
		breaker:  utils.NewCircuitBreaker[bool](breakerSettings, logger),
		logger:   logger,
	}
}

// UpdateSubscription reports the new schedule state of one subscription.
// It returns true only when the backend confirms the update.
func (c *Client) UpdateSubscription(ctx context.Context, userID string, update types.SubscriptionUpdate) (bool, error) {
	ok, err := c.breaker.Execute(func() (bool, error) {
		return c.updateSubscription(ctx, userID, update)
	})

	status := "success"
	switch {
	case err != nil && utils.IsBreakerRejection(err):
		status = "rejected"
	case err != nil:
		status = "error"
	case !ok:
		status = "rejected_by_backend"
	}
	monitoring.RecordBackendUpdate(status)

	return ok, err
}

func (c *Client) updateSubscription(ctx context.Context, userID string, update types.SubscriptionUpdate) (bool, error) {
	token, err := c.signer.Sign(userID)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(graphQLRequest{
		Query: updateSubscriptionMutation,
		Variables: map[string]interface{}{
			"input": updateSubscriptionInput{
				ID:                  update.ID,
				LastFetchedAt:       update.LastFetchedAt.UTC().Format(time.RFC3339Nano),
				LastFetchedChecksum: update.LastFetchedChecksum,
				ScheduledAt:         update.ScheduledAt.UTC().Format(time.RFC3339Nano),
			},
		},
	})
	if err != nil {
		return false, fmt.Errorf("encode mutation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "auth="+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("backend returned status %d", resp.StatusCode)
	}

	var result updateSubscriptionResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return false, fmt.Errorf("decode backend response: %w", err)
	}

	if len(result.Errors) > 0 || len(result.Data.UpdateSubscription.ErrorCodes) > 0 {
		messages := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			messages = append(messages, e.Message)
		}
		c.logger.WithFields(logrus.Fields{
			"subscription_id": update.ID,
			"user_id":         userID,
			"errors":          strings.Join(messages, "; "),
			"error_codes":     result.Data.UpdateSubscription.ErrorCodes,
		}).Warn("Backend rejected subscription update")
		return false, nil
	}

	sub := result.Data.UpdateSubscription.Subscription
	return sub != nil && sub.ID != "", nil
}
