package conf

import "time"

// Bootstrap 服务启动配置
// 由 kratos config 从 configs/ 下的 YAML 扫描生成
type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Ledger *Ledger `json:"ledger"`
}

// Server 服务监听配置
type Server struct {
	HTTP *HTTP `json:"http"`
}

// HTTP HTTP 服务配置（运维端点：/metrics、/healthz）
type HTTP struct {
	Network string `json:"network"`
	Addr    string `json:"addr"`
	Timeout string `json:"timeout"` // time.ParseDuration 格式，如 "1s"
}

// Data 数据层配置
type Data struct {
	Database *Database `json:"database"`
	Redis    *Redis    `json:"redis"`
	Rocketmq *Rocketmq `json:"rocketmq"`
}

// Database 数据库配置
type Database struct {
	Driver string `json:"driver"`
	Source string `json:"source"`
}

// Redis Redis 配置
type Redis struct {
	Addr         string `json:"addr"`
	Password     string `json:"password"`
	DB           int    `json:"db"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

// Rocketmq 计量事件消费配置
type Rocketmq struct {
	Enabled     bool     `json:"enabled"`
	NameServers []string `json:"name_servers"`
	Topic       string   `json:"topic"`
	GroupName   string   `json:"group_name"`
	RetryTimes  int      `json:"retry_times"`
}

// Ledger 账本业务配置
type Ledger struct {
	// QuotaLimits 各服务维度的周期配额上限，0 表示不限制
	QuotaLimits map[string]int64 `json:"quota_limits"`
	// PeriodGranularity 周期粒度: month / day，默认 month
	PeriodGranularity string `json:"period_granularity"`
	// BalanceLowThreshold 余额低水位告警阈值（积分）
	BalanceLowThreshold int64 `json:"balance_low_threshold"`
	// MaxPageSize 交易流水查询单页上限
	MaxPageSize int `json:"max_page_size"`
}

// Duration 解析配置中的时长字符串，解析失败返回默认值
func Duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
