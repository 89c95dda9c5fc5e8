package server

import (
	"context"
	"io"
	"testing"

	"credit-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMQConsumerDisabledStartStop(t *testing.T) {
	logger := log.NewStdLogger(io.Discard)

	// 默认配置关闭 MQ，消费服务仍会被应用注册并启动
	cases := []*conf.Bootstrap{
		{},
		{Data: &conf.Data{}},
		{Data: &conf.Data{Rocketmq: &conf.Rocketmq{Enabled: false}}},
	}
	for _, bc := range cases {
		s := NewMQConsumerServer(bc, nil, logger)
		require.NotNil(t, s)
		assert.False(t, s.enabled)
		assert.NoError(t, s.Start(context.Background()))
		assert.NoError(t, s.Stop(context.Background()))
	}
}
