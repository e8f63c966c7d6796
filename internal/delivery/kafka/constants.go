package kafka

import "time"

const (
	TopicCheckoutRequest = "checkout.checkout.req"
	TopicRestockRequest  = "checkout.restock.req"
	TopicSweepRequest    = "checkout.sweep.req"
	TopicCheckoutRetry   = "checkout.checkout.retry"
	TopicRestockRetry    = "checkout.restock.retry"
	TopicSweepRetry      = "checkout.sweep.retry"
	TopicReplyPrefix     = "checkout.reply."
	TopicRequestSuffix   = ".req"
	TopicRetrySuffix     = ".retry"
	TopicDLQSuffix       = ".dlq"

	RequestTimeout = 5 * time.Second
	RetryBackoff   = time.Second

	RetryHeaderNextAt = "x-next-at"
	ErrorHeaderKey    = "x-error"
)

// RequestTopics are consumed by the request consumer.
var RequestTopics = []string{TopicCheckoutRequest, TopicRestockRequest, TopicSweepRequest}

// RetryTopics are consumed by the retry consumer.
var RetryTopics = []string{TopicCheckoutRetry, TopicRestockRetry, TopicSweepRetry}
