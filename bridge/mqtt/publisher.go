package mqtt

import (
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"headtrack-x/config"
	hterrors "headtrack-x/errors"
	htlog "headtrack-x/log"
	"headtrack-x/wire"
)

// Client 是发布器用到的 paho 客户端子集。
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher 把会话事件转发到 MQTT：
// - <prefix>/status  会话状态文本（retained）
// - <prefix>/command 收到的振动指令
// - <prefix>/target  发现的接收端（retained）
// 发布不等待 broker 确认，事件回调不会被网络阻塞。
type Publisher struct {
	client  Client
	prefix  string
	qos     byte
	timeout time.Duration
	conn    paho.Client

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher 使用已连接的客户端创建发布器。
func NewPublisher(c Client, prefix string, qos byte, timeout time.Duration) *Publisher {
	return &Publisher{client: c, prefix: strings.TrimRight(prefix, "/"), qos: qos, timeout: timeout}
}

// Dial 按配置连接 broker（自动重连）并返回发布器。
// 参数：
// - cfg: mqtt 配置
// 返回：
// - *Publisher: 发布器（Close 时断开连接）
// - error: 首次连接超时或失败
func Dial(cfg config.MQTTConfig) (*Publisher, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.OnConnect = func(paho.Client) {
		htlog.With(map[string]any{"broker": cfg.Broker, "status": "mqtt_connected"}).Info("已连接 MQTT broker")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		htlog.With(map[string]any{"broker": cfg.Broker, "status": "mqtt_lost"}).WithError(err).Warn("MQTT 连接断开")
	}

	c := paho.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		c.Disconnect(0)
		return nil, hterrors.New(hterrors.CodeTransport, "mqtt connect timeout: "+cfg.Broker)
	}
	if err := tok.Error(); err != nil {
		return nil, hterrors.Wrap(hterrors.CodeTransport, "mqtt connect failed", err)
	}
	p := NewPublisher(c, cfg.TopicPrefix, byte(cfg.QoS), cfg.Timeout)
	p.conn = c
	return p, nil
}

// Close 断开连接（仅对 Dial 创建的发布器有效）。
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Disconnect(250)
	}
}

func (p *Publisher) OnStatusChanged(text string) {
	p.publish("status", true, map[string]any{"status": text, "ts_ms": time.Now().UnixMilli()})
}

func (p *Publisher) OnCommandReceived(cmd wire.VibrationCommand) {
	p.publish("command", false, map[string]any{
		"issuer":              cmd.Issuer,
		"intensity":           cmd.Intensity,
		"intensity_defaulted": cmd.IntensityDefaulted,
		"duration_ms":         cmd.DurationMs,
		"ts_ms":               time.Now().UnixMilli(),
	})
}

func (p *Publisher) OnTargetDiscovered(ep wire.Endpoint) {
	p.publish("target", true, map[string]any{"host": ep.Host, "port": ep.Port, "target": ep.String()})
}

// Stats 返回已发布与失败的消息数。
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

func (p *Publisher) publish(sub string, retained bool, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		p.failed.Add(1)
		return
	}
	topic := p.prefix + "/" + sub
	tok := p.client.Publish(topic, p.qos, retained, b)
	go p.watch(topic, tok)
}

func (p *Publisher) watch(topic string, tok paho.Token) {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if !tok.WaitTimeout(timeout) {
		p.failed.Add(1)
		htlog.With(map[string]any{"topic": topic, "status": "mqtt_timeout"}).Warn("MQTT 发布超时")
		return
	}
	if err := tok.Error(); err != nil {
		p.failed.Add(1)
		htlog.With(map[string]any{"topic": topic, "status": "mqtt_error"}).WithError(err).Warn("MQTT 发布失败")
		return
	}
	p.published.Add(1)
}
