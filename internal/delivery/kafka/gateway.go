package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/azizikri/offer-checkout/internal/config"
	"github.com/azizikri/offer-checkout/internal/domain"
	"github.com/azizikri/offer-checkout/internal/usecase"
	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// ErrReplyTimeout is returned when no reply arrives within RequestTimeout.
var ErrReplyTimeout = fmt.Errorf("timeout waiting for response: %w", context.DeadlineExceeded)

type Gateway struct {
	client      *kgo.Client
	cfg         *config.Config
	logger      *zap.Logger
	pendingResp sync.Map
}

func NewGateway(cfg *config.Config, client *kgo.Client, logger *zap.Logger) *Gateway {
	return &Gateway{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

func (g *Gateway) newRequest() RequestPayload {
	return RequestPayload{
		SchemaVersion: SchemaVersion,
		CorrelationID: uuid.New().String(),
		ReplyTo:       g.ReplyTopic(),
	}
}

// ReplyTopic is the per-instance topic replies for this gateway arrive on.
func (g *Gateway) ReplyTopic() string {
	return TopicReplyPrefix + g.cfg.KafkaInstanceID
}

// Checkout is keyed by customer so one customer's checkouts stay ordered on a
// single partition.
func (g *Gateway) Checkout(ctx context.Context, customerID int64, expectedOffers []int64) ([]domain.Order, error) {
	req := g.newRequest()
	req.CustomerID = customerID
	req.ExpectedOffers = expectedOffers

	resp, err := g.requestReply(ctx, TopicCheckoutRequest, idKey(customerID), req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, codeError(resp.ErrorCode, resp.ErrorMessage)
	}
	return fromOrderPayloads(resp.Orders)
}

func (g *Gateway) Restock(ctx context.Context, productID int64, units int, expiry *time.Time) (int, error) {
	req := g.newRequest()
	req.ProductID = productID
	req.Units = units
	req.Expiry = expiry

	resp, err := g.requestReply(ctx, TopicRestockRequest, idKey(productID), req)
	if err != nil {
		return 0, err
	}
	if resp.Status == StatusError {
		return 0, codeError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Stock == nil {
		return 0, fmt.Errorf("restock reply %s carries no stock level", resp.CorrelationID)
	}
	return *resp.Stock, nil
}

func (g *Gateway) SweepExpiries(ctx context.Context, now time.Time) (map[int64]int, error) {
	req := g.newRequest()
	req.Now = &now

	resp, err := g.requestReply(ctx, TopicSweepRequest, nil, req)
	if err != nil {
		return nil, err
	}
	if resp.Status == StatusError {
		return nil, codeError(resp.ErrorCode, resp.ErrorMessage)
	}
	if resp.Expired == nil {
		return map[int64]int{}, nil
	}
	return resp.Expired, nil
}

func (g *Gateway) requestReply(ctx context.Context, topic string, key []byte, req RequestPayload) (*ResponsePayload, error) {
	respChan := make(chan *ResponsePayload, 1)
	g.pendingResp.Store(req.CorrelationID, respChan)
	defer g.pendingResp.Delete(req.CorrelationID)

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   key,
		Value: payload,
	}

	if err := g.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-respChan:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrReplyTimeout
	}
}

// HandleResponse hands a reply to the request waiting on its correlation id.
// Replies nobody waits for any more are dropped.
func (g *Gateway) HandleResponse(payload []byte) {
	var resp ResponsePayload
	if err := json.Unmarshal(payload, &resp); err != nil {
		g.logger.Warn("failed to decode response payload", zap.Error(err))
		return
	}

	if ch, ok := g.pendingResp.Load(resp.CorrelationID); ok {
		select {
		case ch.(chan *ResponsePayload) <- &resp:
		default:
			g.logger.Warn("duplicate response", zap.String("correlation_id", resp.CorrelationID))
		}
		return
	}

	g.logger.Debug("no pending response", zap.String("correlation_id", resp.CorrelationID))
}

// StartReplyPoller feeds records from the reply topic into HandleResponse
// until the client is closed.
func (g *Gateway) StartReplyPoller(ctx context.Context, client *kgo.Client) {
	for {
		fetches := client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			g.logger.Warn("reply poll error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err),
			)
		})
		fetches.EachRecord(func(record *kgo.Record) {
			g.HandleResponse(record.Value)
		})
	}
}

func idKey(id int64) []byte {
	return strconv.AppendInt(nil, id, 10)
}

var _ usecase.StockGateway = (*Gateway)(nil)
