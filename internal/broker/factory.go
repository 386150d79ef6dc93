package broker

import (
	"fmt"
	"strings"

	"eventhub/internal/config"
	"eventhub/internal/logger"
)

func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeKafka:
		return NewKafkaProducer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
}

func NewConsumer(cfg config.BrokerConfig, log logger.Logger) (Consumer, error) {
	switch strings.ToLower(cfg.Type) {
	case TypeKafka:
		return NewKafkaConsumer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unsupported broker type %q", cfg.Type)
	}
}
