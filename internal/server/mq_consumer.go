package server

import (
	"context"
	"encoding/json"

	"credit-service/internal/biz"
	"credit-service/internal/conf"
	ledgerErrors "credit-service/internal/errors"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// MQConsumerServer 消费计量事件
// 事件 ID 兼作账本引用号，消息重投由扣费路径的幂等判定吸收
type MQConsumerServer struct {
	c       rocketmq.PushConsumer
	charge  *biz.ChargeUseCase
	conf    *conf.Data
	log     *log.Helper
	enabled bool
}

// NewMQConsumerServer 创建 RocketMQ 消费服务
// 未启用或初始化失败时返回的实例同样可被 Start/Stop 安全调用
func NewMQConsumerServer(c *conf.Bootstrap, charge *biz.ChargeUseCase, logger log.Logger) *MQConsumerServer {
	h := log.NewHelper(logger)
	dc := c.Data
	if dc == nil || dc.Rocketmq == nil || !dc.Rocketmq.Enabled {
		return &MQConsumerServer{log: h, enabled: false}
	}

	r, err := rocketmq.NewPushConsumer(
		consumer.WithNsResolver(primitive.NewPassthroughResolver(dc.Rocketmq.NameServers)),
		consumer.WithGroupName(dc.Rocketmq.GroupName),
		consumer.WithRetry(dc.Rocketmq.RetryTimes),
	)
	if err != nil {
		h.Errorf("init consumer error: %v", err)
		return &MQConsumerServer{log: h, enabled: false}
	}

	return &MQConsumerServer{
		c:       r,
		charge:  charge,
		conf:    dc,
		log:     h,
		enabled: true,
	}
}

// Start 启动消费
func (s *MQConsumerServer) Start(ctx context.Context) error {
	if !s.enabled {
		s.log.Infof("MQConsumerServer is disabled, skipping startup")
		return nil
	}

	s.log.Infof("Starting MQConsumerServer, topic: %s", s.conf.Rocketmq.Topic)

	err := s.c.Subscribe(s.conf.Rocketmq.Topic, consumer.MessageSelector{}, s.handler)
	if err != nil {
		// 不返回错误，避免 MQ 不可用时拖垮整个应用启动
		s.log.Errorf("Failed to subscribe to topic %s: %v", s.conf.Rocketmq.Topic, err)
		return nil
	}

	if err := s.c.Start(); err != nil {
		s.log.Errorf("Failed to start RocketMQ consumer: %v", err)
		return nil
	}
	return nil
}

// Stop 停止消费
func (s *MQConsumerServer) Stop(ctx context.Context) error {
	if !s.enabled || s.c == nil {
		return nil
	}
	s.log.Info("Stopping MQConsumerServer")
	return s.c.Shutdown()
}

func (s *MQConsumerServer) handler(ctx context.Context, msgs ...*primitive.MessageExt) (consumer.ConsumeResult, error) {
	for _, msg := range msgs {
		var event biz.MeterEvent
		if err := json.Unmarshal(msg.Body, &event); err != nil {
			// 消息体损坏重投也救不回来，记录后放行
			s.log.Errorf("Unmarshal meter event failed: %v, body: %s", err, string(msg.Body))
			continue
		}
		if err := s.charge.HandleMeterEvent(ctx, &event); err != nil {
			if ledgerErrors.IsTransientContention(err) || ledgerErrors.IsStorageFailure(err) {
				s.log.Warnf("Meter event %s deferred: %v", event.EventID, err)
				return consumer.ConsumeRetryLater, nil
			}
			// 业务性错误（无效金额、用户不存在）重投无意义
			s.log.Errorf("Meter event %s rejected: %v", event.EventID, err)
		}
	}
	return consumer.ConsumeSuccess, nil
}
