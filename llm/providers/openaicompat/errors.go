package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/roundtable/types"
)

// mapHTTPError 将 HTTP 状态码映射为统一错误；429 与 5xx 可重试
func mapHTTPError(status int, msg string, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false

	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code, retryable = types.ErrRateLimit, true
	case http.StatusBadRequest:
		// 检查配额/信用关键字
		lower := strings.ToLower(msg)
		switch {
		case strings.Contains(lower, "quota") || strings.Contains(lower, "credit"):
			code = types.ErrQuotaExceeded
		case strings.Contains(lower, "context length") || strings.Contains(lower, "too long"):
			code = types.ErrContextTooLong
		default:
			code = types.ErrInvalidRequest
		}
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		code, retryable = types.ErrServiceUnavailable, true
	case http.StatusGatewayTimeout, http.StatusRequestTimeout:
		code, retryable = types.ErrUpstreamTimeout, true
	case 529: // Model overloaded (used by some providers)
		code, retryable = types.ErrModelOverloaded, true
	default:
		code, retryable = types.ErrUpstreamError, status >= 500
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithProvider(provider)
}

// readErrorMessage 读取响应体中的错误消息
// 尝试解析 JSON 错误响应，失败则回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}

	return strings.TrimSpace(string(data))
}
