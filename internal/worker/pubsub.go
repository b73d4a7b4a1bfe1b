package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/roadcondition/streetcrop/internal/provider/resilience"
	"github.com/roadcondition/streetcrop/internal/routing"
)

// Job types accepted on the subscription.
const (
	JobTypePrefetch    = "prefetch"
	JobTypeHealthCheck = "health_check"
)

// errPoisonMessage marks messages that redelivery cannot fix.
var errPoisonMessage = errors.New("unprocessable message")

// PubSubHandler consumes prefetch jobs from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	prefetchJob      *PrefetchJob
	registry         *resilience.Registry
	jobTimeout       time.Duration
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	PrefetchJob      *PrefetchJob
	// Registry backs health_check jobs; nil reports healthy.
	Registry *resilience.Registry
	// JobTimeout bounds one message. Default: 10 minutes
	JobTimeout time.Duration
	Logger     zerolog.Logger
}

// JobMessage is the JSON body of a worker message.
//
//	{"job_type":"prefetch","name":"route-7","polyline":"_p~iF~ps|U...","zoom":3}
type JobMessage struct {
	JobType string `json:"job_type"`
	PrefetchRequest
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 30 * time.Minute

	h := newHandler(cfg)
	h.client = client
	h.subscriber = subscriber
	return h, nil
}

func newHandler(cfg PubSubConfig) *PubSubHandler {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &PubSubHandler{
		subscriptionName: cfg.SubscriptionName,
		prefetchJob:      cfg.PrefetchJob,
		registry:         cfg.Registry,
		jobTimeout:       timeout,
		logger:           cfg.Logger,
	}
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	err := h.process(logger.WithContext(ctx), msg.Data)
	switch {
	case err == nil:
		msg.Ack()
	case errors.Is(err, errPoisonMessage):
		logger.Error().Err(err).Msg("dropping message")
		msg.Ack()
	default:
		logger.Error().Err(err).Msg("job failed")
		msg.Nack()
	}
}

// process runs one message body. Errors wrapping errPoisonMessage should be
// acknowledged; any other error asks for redelivery.
func (h *PubSubHandler) process(ctx context.Context, data []byte) error {
	logger := zerolog.Ctx(ctx)
	startTime := time.Now()

	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		return fmt.Errorf("%w: %w", errPoisonMessage, err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.jobTimeout)
	defer cancel()

	var err error
	switch job.JobType {
	case JobTypePrefetch:
		err = h.handlePrefetch(ctx, job.PrefetchRequest)
	case JobTypeHealthCheck:
		err = h.handleHealthCheck()
	default:
		return fmt.Errorf("%w: unknown job type %q", errPoisonMessage, job.JobType)
	}
	if err != nil {
		return err
	}

	logger.Info().
		Str("job_type", job.JobType).
		Dur("duration", time.Since(startTime)).
		Msg("job completed successfully")
	return nil
}

func (h *PubSubHandler) handlePrefetch(ctx context.Context, req PrefetchRequest) error {
	result, err := h.prefetchJob.Run(ctx, req)
	if err != nil {
		var routeErr *routing.Error
		if errors.As(err, &routeErr) && routeErr.IsRetryable() {
			return err
		}
		// Undecodable or empty routes never improve on redelivery.
		return fmt.Errorf("%w: %w", errPoisonMessage, err)
	}

	if result.Skipped > 0 {
		return fmt.Errorf("prefetch of %q interrupted: %d of %d viewpoints skipped",
			req.Name, result.Skipped, result.TotalViewpoints)
	}
	if retryable := result.Retryable(); retryable > result.Successful {
		return fmt.Errorf("too many prefetch failures: %d/%d", retryable, result.TotalViewpoints)
	}
	return nil
}

func (h *PubSubHandler) handleHealthCheck() error {
	if h.registry == nil {
		return nil
	}
	if level := h.registry.Overall(); level == resilience.LevelFail {
		return fmt.Errorf("provider health is %s", level)
	}
	return nil
}
