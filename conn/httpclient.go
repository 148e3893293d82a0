package conn

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// HTTPClientOptions configures the handshake client built by NewHTTPClient.
type HTTPClientOptions struct {
	TLSConfig *tls.Config
	// RetryMax is the number of handshake retries on connection errors and 5xx responses.
	RetryMax int
	// RetryWaitMin and RetryWaitMax bound the exponential backoff between handshake attempts.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// Customize is applied last, for anything not covered above.
	Customize func(*retryablehttp.Client)
}

// NewHTTPClient builds the client used for WebSocket handshakes.
// Handshakes are retried because renderers are frequently still starting when a client dials them,
// but an established connection is never redialed here.
func NewHTTPClient(log *zap.SugaredLogger, opts HTTPClientOptions) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: opts.TLSConfig,
		},
	}
	retryClient.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.Logger = &logAdapter{SugaredLogger: log.Named("handshake")}

	if opts.Customize != nil {
		opts.Customize(retryClient)
	}
	return retryClient.StandardClient()
}
