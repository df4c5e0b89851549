// Package rss provides the feed poll trigger handler
package rss

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Nexora-Open-Source/rss-feed-poller/middleware"
	"github.com/Nexora-Open-Source/rss-feed-poller/processor"
	"github.com/Nexora-Open-Source/rss-feed-poller/types"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// MaxBodyBytes caps the size of a poll request body
const MaxBodyBytes = 4 << 20

var (
	errInvalidToken = errors.New("invalid verification token")
	errEmptyBody    = errors.New("request body is empty")
)

// Poller runs one feed poll
type Poller interface {
	Poll(ctx context.Context, req *types.FeedPollRequest) (*processor.PollSummary, error)
}

// Handler contains dependencies for the poll trigger
type Handler struct {
	Poller            Poller
	Validator         *validator.Validate
	Logger            *logrus.Logger
	VerificationToken string
}

// NewHandler creates a new poll trigger handler
func NewHandler(poller Poller, verificationToken string, logger *logrus.Logger) *Handler {
	return &Handler{
		Poller:            poller,
		Validator:         validator.New(validator.WithRequiredStructEnabled()),
		Logger:            logger,
		VerificationToken: verificationToken,
	}
}

// HandlePoll validates a FeedPollRequest and runs the poll pipeline for it.
// Blocked feeds and no-op polls are successful completions.
func (h *Handler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.RequestID(r)

	if !h.validToken(r.URL.Query().Get("token")) {
		middleware.RespondForbidden(w, errInvalidToken, requestID)
		return
	}

	req, err := h.decode(r)
	if err != nil {
		middleware.RespondBadRequest(w, err, requestID)
		return
	}

	if err := h.Validator.Struct(req); err != nil {
		middleware.RespondValidationError(w, describeValidation(err), requestID)
		return
	}

	log := h.Logger.WithFields(logrus.Fields{
		"request_id":    requestID,
		"feed_url":      req.FeedURL,
		"subscriptions": len(req.SubscriptionIDs),
	})
	log.Info("Processing feed poll request")

	summary, err := h.poll(r.Context(), req)
	if err != nil {
		log.WithField("error", err.Error()).Error("Feed poll failed")

		switch {
		case errors.Is(err, processor.ErrFeedFetch):
			middleware.RespondFetchFailed(w, err, requestID)
		case errors.Is(err, processor.ErrFeedParse):
			middleware.RespondInvalidFeed(w, err, requestID)
		default:
			middleware.RespondInternalError(w, err, requestID)
		}
		return
	}

	if summary != nil && summary.Blocked {
		log.Info("Feed is blocked, poll skipped")
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// poll runs the pipeline, turning a panic into an ordinary error
func (h *Handler) poll(ctx context.Context, req *types.FeedPollRequest) (summary *processor.PollSummary, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			summary = nil
			err = fmt.Errorf("panic during feed poll: %v", rec)
		}
	}()
	return h.Poller.Poll(ctx, req)
}

func (h *Handler) validToken(token string) bool {
	if h.VerificationToken == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.VerificationToken)) == 1
}

func (h *Handler) decode(r *http.Request) (*types.FeedPollRequest, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return nil, errEmptyBody
	}
	if len(body) > MaxBodyBytes {
		return nil, fmt.Errorf("request body exceeds %d bytes", MaxBodyBytes)
	}

	var req types.FeedPollRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	return &req, nil
}

// describeValidation flattens validator errors into one readable message
func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "eqfield":
			msgs = append(msgs, fmt.Sprintf("%s must have the same length as subscriptionIds", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Namespace(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
