package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/azizikri/offer-checkout/internal/config"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topics lists every topic this instance produces to or consumes from.
func Topics(cfg *config.Config) []string {
	topics := make([]string, 0, 3*len(RequestTopics)+1)
	topics = append(topics, RequestTopics...)
	topics = append(topics, RetryTopics...)
	for _, t := range RequestTopics {
		topics = append(topics, t+TopicDLQSuffix)
	}
	return append(topics, TopicReplyPrefix+cfg.KafkaInstanceID)
}

func EnsureTopics(ctx context.Context, client *kgo.Client, cfg *config.Config, logger *zap.Logger) error {
	adm := kadm.NewClient(client)

	partitions := cfg.TopicPartitions()
	retryPartitions := cfg.RetryPartitions()
	replicationFactor := cfg.ReplicationFactor()
	minISR := cfg.KafkaMinISR
	configs := map[string]*string{"min.insync.replicas": &minISR}

	for _, topic := range Topics(cfg) {
		p := partitions
		if strings.HasSuffix(topic, TopicRetrySuffix) || strings.HasSuffix(topic, TopicDLQSuffix) {
			p = retryPartitions
		}

		resp, err := adm.CreateTopics(ctx, int32(p), replicationFactor, configs, topic)
		if err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		for _, detail := range resp {
			if detail.Err != nil && !strings.Contains(detail.Err.Error(), "already exists") {
				return fmt.Errorf("failed to create topic %s: %w", detail.Topic, detail.Err)
			}
		}
	}

	logger.Info("all topics ensured", zap.Int("partitions", partitions), zap.Int16("replication_factor", replicationFactor))
	return nil
}
