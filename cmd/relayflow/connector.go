package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/relayflow/config"
	"github.com/BaSui01/relayflow/types"
)

// =============================================================================
// 🔌 消息管道连接器
// =============================================================================
// 引擎通过 Pipeline / ThreadFactory / DialogStore 接口与外部消息通道协作。
// HTTPConnector 把这三个接口落到一个 HTTP 连接器服务上；未配置 BaseURL 时
// 回退为本地空实现（仅记录日志），便于单进程试运行。
// =============================================================================

// HTTPConnector 通过 HTTP 调用外部连接器服务
type HTTPConnector struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPConnector 创建连接器客户端
func NewHTTPConnector(cfg config.ConnectorConfig, logger *zap.Logger) *HTTPConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPConnector{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(zap.String("component", "connector")),
	}
}

// Send 投递一个出站事件到连接器
func (c *HTTPConnector) Send(ctx context.Context, ev *types.Event) error {
	if c.baseURL == "" {
		c.logger.Info("event (no connector configured)",
			zap.String("thread_id", ev.ThreadID),
			zap.String("type", string(ev.Type)),
		)
		return nil
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return c.post(ctx, c.baseURL+"/events", body, nil)
}

// CreateAgentThread 请求连接器为操作员开一个新会话线程
func (c *HTTPConnector) CreateAgentThread(ctx context.Context, botID, agentID string) (string, error) {
	if c.baseURL == "" {
		return uuid.New().String(), nil
	}

	body, err := json.Marshal(map[string]string{
		"bot_id":   botID,
		"agent_id": agentID,
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.post(ctx, c.baseURL+"/threads", body, &resp); err != nil {
		return "", err
	}
	if resp.ThreadID == "" {
		return "", fmt.Errorf("connector returned empty thread_id")
	}
	return resp.ThreadID, nil
}

// ClearSession 清除用户对话会话状态
func (c *HTTPConnector) ClearSession(ctx context.Context, botID, userThreadID string) error {
	if c.baseURL == "" {
		return nil
	}

	u := fmt.Sprintf("%s/sessions/%s/%s",
		c.baseURL, url.PathEscape(botID), url.PathEscape(userThreadID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("connector returned status %d", resp.StatusCode)
	}
	return nil
}

// post 发送 JSON POST 请求并解码响应
func (c *HTTPConnector) post(ctx context.Context, url string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("connector returned status %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
