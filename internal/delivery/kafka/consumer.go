package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azizikri/offer-checkout/internal/config"
	"github.com/azizikri/offer-checkout/internal/usecase"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

var errUnknownTopic = errors.New("unknown request topic")

type Consumer struct {
	client   *kgo.Client
	cfg      *config.Config
	checkout *usecase.CheckoutService
	stock    *usecase.StockService
	logger   *zap.Logger
	now      func() time.Time
	ready    chan struct{}
}

func NewConsumer(cfg *config.Config, client *kgo.Client, checkout *usecase.CheckoutService, stock *usecase.StockService, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:   client,
		cfg:      cfg,
		checkout: checkout,
		stock:    stock,
		logger:   logger,
		now:      time.Now,
		ready:    make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	close(c.ready)
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("consumer poll error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})

		iter := fetches.RecordIter()
		for !iter.Done() {
			c.processRecord(ctx, iter.Next())
		}

		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error("failed to commit records", zap.Error(err))
		}
	}
}

// StartRetry moves records from the retry topics back to their request
// topics once their backoff has passed.
func (c *Consumer) StartRetry(ctx context.Context) {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			record := iter.Next()

			if nextAt, ok := retryNextAt(record); ok && c.now().Before(nextAt) {
				select {
				case <-time.After(nextAt.Sub(c.now())):
				case <-ctx.Done():
					return
				}
			}

			newRecord := &kgo.Record{
				Topic:   requestTopicOf(record.Topic),
				Key:     record.Key,
				Value:   record.Value,
				Headers: record.Headers,
			}
			if err := c.client.ProduceSync(ctx, newRecord).FirstErr(); err != nil {
				c.logger.Error("failed to requeue retry record",
					zap.String("topic", newRecord.Topic),
					zap.Error(err),
				)
			}
		}
		if err := c.client.CommitRecords(ctx, fetches.Records()...); err != nil {
			c.logger.Error("failed to commit retry records", zap.Error(err))
		}
	}
}

func (c *Consumer) Ready() <-chan struct{} {
	return c.ready
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	var req RequestPayload
	if err := json.Unmarshal(record.Value, &req); err != nil {
		c.sendError(ctx, record, ErrCodeInvalidRequest, "invalid request payload")
		return
	}

	resp, err := c.process(ctx, record.Topic, req)
	if err == nil {
		c.sendResponse(ctx, req.ReplyTo, resp)
		return
	}
	if errors.Is(err, errUnknownTopic) {
		c.sendError(ctx, record, ErrCodeInvalidRequest, err.Error())
		return
	}

	code := errorCode(err)
	switch {
	case !retryable(code):
		c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, code, err.Error()))
	case req.Attempt+1 < c.cfg.MaxAttempts():
		c.logger.Warn("request failed, scheduling retry",
			zap.String("topic", record.Topic),
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("attempt", req.Attempt+1),
			zap.Error(err),
		)
		c.sendRetry(ctx, record, req)
	default:
		c.logger.Error("request failed, giving up",
			zap.String("topic", record.Topic),
			zap.String("correlation_id", req.CorrelationID),
			zap.Int("attempts", req.Attempt+1),
			zap.Error(err),
		)
		c.sendError(ctx, record, code, err.Error())
	}
}

// process runs the operation behind topic and builds its success reply.
func (c *Consumer) process(ctx context.Context, topic string, req RequestPayload) (*ResponsePayload, error) {
	switch requestTopicOf(topic) {
	case TopicCheckoutRequest:
		orders, err := c.checkout.Checkout(ctx, req.CustomerID, req.ExpectedOffers)
		if err != nil {
			return nil, err
		}
		resp := successResponse(req.CorrelationID)
		resp.Orders = toOrderPayloads(orders)
		return resp, nil

	case TopicRestockRequest:
		stock, err := c.stock.Restock(ctx, req.ProductID, req.Units, req.Expiry)
		if err != nil {
			return nil, err
		}
		resp := successResponse(req.CorrelationID)
		resp.Stock = &stock
		return resp, nil

	case TopicSweepRequest:
		now := c.now()
		if req.Now != nil {
			now = *req.Now
		}
		expired, err := c.stock.Sweep(ctx, now)
		if err != nil {
			return nil, err
		}
		resp := successResponse(req.CorrelationID)
		resp.Expired = expired
		return resp, nil
	}
	return nil, fmt.Errorf("%w: %s", errUnknownTopic, topic)
}

func (c *Consumer) sendResponse(ctx context.Context, topic string, resp *ResponsePayload) {
	if topic == "" {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		c.logger.Error("failed to encode response", zap.Error(err))
		return
	}
	record := &kgo.Record{
		Topic: topic,
		Value: payload,
	}
	if err := c.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		c.logger.Error("failed to send response", zap.String("topic", topic), zap.Error(err))
	}
}

func (c *Consumer) sendRetry(ctx context.Context, record *kgo.Record, req RequestPayload) {
	retry, err := retryRecord(record, req, c.now())
	if err != nil {
		c.logger.Error("failed to build retry record", zap.Error(err))
		c.sendError(ctx, record, ErrCodeInternalError, err.Error())
		return
	}
	if err := c.client.ProduceSync(ctx, retry).FirstErr(); err != nil {
		c.logger.Error("failed to schedule retry", zap.String("topic", retry.Topic), zap.Error(err))
	}
}

// sendError answers the requester, if it can be identified, and parks the
// record on the dead letter topic.
func (c *Consumer) sendError(ctx context.Context, record *kgo.Record, code, message string) {
	var req RequestPayload
	_ = json.Unmarshal(record.Value, &req)

	c.sendResponse(ctx, req.ReplyTo, errorResponse(req.CorrelationID, code, message))

	dlqRecord := &kgo.Record{
		Topic: requestTopicOf(record.Topic) + TopicDLQSuffix,
		Key:   record.Key,
		Value: record.Value,
		Headers: []kgo.RecordHeader{
			{Key: ErrorHeaderKey, Value: []byte(message)},
		},
	}
	if err := c.client.ProduceSync(ctx, dlqRecord).FirstErr(); err != nil {
		c.logger.Error("failed to dead-letter record", zap.String("topic", dlqRecord.Topic), zap.Error(err))
	}
}

// retryRecord builds the next attempt of req for the retry topic matching
// record. The backoff doubles with every attempt.
func retryRecord(record *kgo.Record, req RequestPayload, now time.Time) (*kgo.Record, error) {
	req.Attempt++
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode retry: %w", err)
	}
	nextAt := now.Add(RetryBackoff << (req.Attempt - 1))
	return &kgo.Record{
		Topic: strings.TrimSuffix(requestTopicOf(record.Topic), TopicRequestSuffix) + TopicRetrySuffix,
		Key:   record.Key,
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: RetryHeaderNextAt, Value: []byte(nextAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

// requestTopicOf maps a retry topic back to its request topic. Request
// topics map to themselves.
func requestTopicOf(topic string) string {
	if strings.HasSuffix(topic, TopicRetrySuffix) {
		return strings.TrimSuffix(topic, TopicRetrySuffix) + TopicRequestSuffix
	}
	return topic
}

func retryNextAt(record *kgo.Record) (time.Time, bool) {
	for _, header := range record.Headers {
		if header.Key != RetryHeaderNextAt {
			continue
		}
		nextAt, err := time.Parse(time.RFC3339, string(header.Value))
		if err != nil {
			return time.Time{}, false
		}
		return nextAt, true
	}

	return time.Time{}, false
}

func successResponse(correlationID string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusSuccess,
	}
}

func errorResponse(correlationID, code, message string) *ResponsePayload {
	return &ResponsePayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: correlationID,
		Status:        StatusError,
		ErrorCode:     code,
		ErrorMessage:  message,
	}
}
