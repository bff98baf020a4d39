package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// DefaultTLSConfig returns a hardened TLS configuration.
// MinVersion TLS 1.2, AEAD-only cipher suites.
func DefaultTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// clientOptions 出站客户端的可调项
type clientOptions struct {
	maxIdlePerHost int
	rootCAs        *x509.CertPool
	noRedirects    bool
}

// ClientOption 配置 SecureHTTPClient
type ClientOption func(*clientOptions)

// WithMaxIdlePerHost 每个上游保留的空闲连接数，默认 10
func WithMaxIdlePerHost(n int) ClientOption {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxIdlePerHost = n
		}
	}
}

// WithRootCAs 使用自定义根证书校验服务端（如内网 webhook 接收方）
func WithRootCAs(pool *x509.CertPool) ClientOption {
	return func(o *clientOptions) { o.rootCAs = pool }
}

// WithoutRedirects 不跟随 3xx，直接把响应交给调用方；签名的 POST 不应被转发到另一个地址
func WithoutRedirects() ClientOption {
	return func(o *clientOptions) { o.noRedirects = true }
}

// LoadCertPool 读取 PEM 证书文件；path 为空时返回 nil（使用系统根证书）
func LoadCertPool(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}

// SecureTransport returns an http.Transport with TLS hardening.
// maxIdlePerHost <= 0 时使用 net/http 默认值；rootCAs 为 nil 时使用系统根证书。
func SecureTransport(maxIdlePerHost int, rootCAs *x509.CertPool) *http.Transport {
	tlsCfg := DefaultTLSConfig()
	tlsCfg.RootCAs = rootCAs
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// SecureHTTPClient returns an http.Client with TLS hardening.
// OpenAI 兼容的 agent 客户端使用默认值；webhook 投递关闭重定向并可指定 CA。
func SecureHTTPClient(timeout time.Duration, opts ...ClientOption) *http.Client {
	o := clientOptions{maxIdlePerHost: 10}
	for _, opt := range opts {
		opt(&o)
	}
	client := &http.Client{
		Timeout:   timeout,
		Transport: SecureTransport(o.maxIdlePerHost, o.rootCAs),
	}
	if o.noRedirects {
		client.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}
