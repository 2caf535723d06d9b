package proxy

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/quic-go/quic-go/http3"
	"github.com/wudi/gateway/config"
)

func TestNewTransportDefault(t *testing.T) {
	tr := NewTransport(DefaultTransportConfig)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if tr.MaxIdleConns != 100 {
		t.Errorf("expected MaxIdleConns 100, got %d", tr.MaxIdleConns)
	}
}

func TestNewTransportWithResolver(t *testing.T) {
	resolver := &net.Resolver{PreferGo: true}
	cfg := DefaultTransportConfig
	cfg.Resolver = resolver

	tr := NewTransport(cfg)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
}

func TestDefaultTransport(t *testing.T) {
	tr := DefaultTransport()
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
}

func TestTransportWithTimeout(t *testing.T) {
	tr := TransportWithTimeout(5 * time.Second)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if tr.ResponseHeaderTimeout != 5*time.Second {
		t.Errorf("expected ResponseHeaderTimeout 5s, got %v", tr.ResponseHeaderTimeout)
	}
}

func TestTransportPool(t *testing.T) {
	pool := NewTransportPool()

	tr := pool.Get("unknown.host")
	if tr != pool.defaultTransport {
		t.Error("expected default transport for unknown host")
	}

	cfg := DefaultTransportConfig
	cfg.MaxIdleConns = 42
	pool.SetForHost("custom.host", cfg)

	tr = pool.Get("custom.host")
	httpTr, ok := tr.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport for TCP transport")
	}
	if httpTr.MaxIdleConns != 42 {
		t.Errorf("expected MaxIdleConns 42 for custom host, got %d", httpTr.MaxIdleConns)
	}

	pool.CloseIdleConnections()
}

func TestNewTransportPoolWithDefault(t *testing.T) {
	cfg := DefaultTransportConfig
	cfg.MaxIdleConns = 200
	pool := NewTransportPoolWithDefault(cfg)

	tr := pool.Get("")
	httpTr, ok := tr.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if httpTr.MaxIdleConns != 200 {
		t.Errorf("expected MaxIdleConns 200 from custom default, got %d", httpTr.MaxIdleConns)
	}
}

func TestTransportPoolSet(t *testing.T) {
	pool := NewTransportPool()
	cfg := DefaultTransportConfig
	cfg.MaxIdleConns = 50
	pool.Set("my-upstream", cfg)

	tr := pool.Get("my-upstream")
	httpTr, ok := tr.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport")
	}
	if httpTr.MaxIdleConns != 50 {
		t.Errorf("expected MaxIdleConns 50, got %d", httpTr.MaxIdleConns)
	}

	def := pool.Get("other")
	defHTTP, ok := def.(*http.Transport)
	if !ok {
		t.Fatal("expected *http.Transport for default")
	}
	if defHTTP.MaxIdleConns != 100 {
		t.Errorf("expected default MaxIdleConns 100 for unknown upstream, got %d", defHTTP.MaxIdleConns)
	}
}

func TestTransportPoolNames(t *testing.T) {
	pool := NewTransportPool()
	pool.Set("a", DefaultTransportConfig)
	pool.Set("b", DefaultTransportConfig)

	names := pool.Names()
	if len(names) != 2 {
		t.Errorf("expected 2 names, got %d", len(names))
	}
	nameSet := map[string]bool{}
	for _, n := range names {
		nameSet[n] = true
	}
	if !nameSet["a"] || !nameSet["b"] {
		t.Errorf("expected names [a, b], got %v", names)
	}
}

func TestTransportPoolDefaultConfig(t *testing.T) {
	pool := NewTransportPool()
	dc := pool.DefaultConfig()
	if dc["max_idle_conns"] != 100 {
		t.Errorf("expected max_idle_conns=100, got %v", dc["max_idle_conns"])
	}
	if dc["force_attempt_http2"] != true {
		t.Errorf("expected force_attempt_http2=true, got %v", dc["force_attempt_http2"])
	}
}

func TestNewTransportConfigFromProxyConfig(t *testing.T) {
	cfg := config.ProxyConfig{
		DialTimeout:           2 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 4 * time.Second,
		IdleConnTimeout:       5 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		EnableHTTP3:           true,
		SSRFProtection: config.SSRFProtectionConfig{
			Enabled:     true,
			DenyPrivate: true,
		},
	}

	tc := NewTransportConfigFromProxyConfig(cfg)
	if tc.DialTimeout != 2*time.Second {
		t.Errorf("expected DialTimeout 2s, got %v", tc.DialTimeout)
	}
	if tc.MaxIdleConns != 10 {
		t.Errorf("expected MaxIdleConns 10, got %d", tc.MaxIdleConns)
	}
	if !tc.EnableHTTP3 {
		t.Error("expected EnableHTTP3=true")
	}
	if tc.SSRFProtection == nil || !tc.SSRFProtection.Enabled {
		t.Error("expected SSRF protection carried over")
	}
}

func TestNewTransportClientCert(t *testing.T) {
	dir := t.TempDir()
	certFile := dir + "/client.crt"
	keyFile := dir + "/client.key"

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(certFile, certPEM, 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultTransportConfig
	cfg.CertFile = certFile
	cfg.KeyFile = keyFile

	tr := NewTransport(cfg)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if tr.TLSClientConfig == nil {
		t.Fatal("expected non-nil TLSClientConfig")
	}
	if len(tr.TLSClientConfig.Certificates) != 1 {
		t.Fatalf("expected 1 certificate, got %d", len(tr.TLSClientConfig.Certificates))
	}
}

func TestNewTransportClientCertInvalidFiles(t *testing.T) {
	cfg := DefaultTransportConfig
	cfg.CertFile = "/nonexistent/client.crt"
	cfg.KeyFile = "/nonexistent/client.key"

	tr := NewTransport(cfg)
	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if len(tr.TLSClientConfig.Certificates) != 0 {
		t.Errorf("expected no certificates with invalid files, got %d", len(tr.TLSClientConfig.Certificates))
	}
}

func TestNewTransportForceHTTP2(t *testing.T) {
	cfg := DefaultTransportConfig
	cfg.ForceHTTP2 = false
	tr := NewTransport(cfg)
	if tr.ForceAttemptHTTP2 {
		t.Error("expected ForceAttemptHTTP2=false")
	}

	cfg.ForceHTTP2 = true
	tr = NewTransport(cfg)
	if !tr.ForceAttemptHTTP2 {
		t.Error("expected ForceAttemptHTTP2=true")
	}
}

func TestNewHTTP3Transport(t *testing.T) {
	cfg := DefaultTransportConfig
	cfg.EnableHTTP3 = true

	h3 := NewHTTP3Transport(cfg)
	if h3 == nil {
		t.Fatal("expected non-nil http3.Transport")
	}
	if h3.TLSClientConfig == nil {
		t.Fatal("expected non-nil TLSClientConfig on HTTP/3 transport")
	}
}

func TestTransportPoolSetHTTP3(t *testing.T) {
	pool := NewTransportPool()

	cfg := DefaultTransportConfig
	cfg.EnableHTTP3 = true
	pool.Set("h3-upstream", cfg)

	tr := pool.Get("h3-upstream")
	if _, ok := tr.(*http3.Transport); !ok {
		t.Errorf("expected *http3.Transport, got %T", tr)
	}

	tcpCfg := DefaultTransportConfig
	pool.Set("tcp-upstream", tcpCfg)
	tcpTr := pool.Get("tcp-upstream")
	if _, ok := tcpTr.(*http.Transport); !ok {
		t.Errorf("expected *http.Transport, got %T", tcpTr)
	}
}

func TestTransportPoolCloseIdleWithMixedTypes(t *testing.T) {
	pool := NewTransportPool()

	h3Cfg := DefaultTransportConfig
	h3Cfg.EnableHTTP3 = true
	pool.Set("h3", h3Cfg)
	pool.Set("tcp", DefaultTransportConfig)

	pool.CloseIdleConnections()
}

func TestTransportPoolDefaultConfigHTTP3(t *testing.T) {
	h3Transport := NewHTTP3Transport(DefaultTransportConfig)
	pool := &TransportPool{
		defaultTransport: h3Transport,
		transports:       make(map[string]http.RoundTripper),
	}

	dc := pool.DefaultConfig()
	if dc["type"] != "http3" {
		t.Errorf("expected type=http3 for HTTP/3 default transport, got %v", dc["type"])
	}
}
